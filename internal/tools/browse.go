package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/agenthub/hubd/internal/browserpool"
	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

// screenshotThumbnailWidth bounds screenshot payload size for transport
// over the gateway's push/intervention channels.
const screenshotThumbnailWidth = 1024

// refAttr is the DOM attribute snapshot stamps onto elements so later
// actions can address them by opaque ref instead of a raw selector.
const refAttr = "data-hub-ref"

// BrowseTool drives a per-agent persistent browser context from the
// BrowserPool. Element refs from snapshot are opaque e<N> tokens
// resolved back to selectors by the pool, per spec.md §4.3.
type BrowseTool struct {
	pool *browserpool.Pool
}

func NewBrowseTool(pool *browserpool.Pool) *BrowseTool {
	return &BrowseTool{pool: pool}
}

func (t *BrowseTool) Name() string { return "browse" }

func (t *BrowseTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
	action, _ := call.Input["action"].(string)
	if action == "" {
		return errorResult(call, "action is required")
	}

	if action == "close" {
		t.pool.CloseSession(call.AgentID)
		return okResult(call, "closed")
	}

	page, err := t.pool.GetOrCreate(ctx, call.AgentID)
	if err != nil {
		return errorResult(call, err.Error())
	}
	t.pool.TouchSession(call.AgentID)

	switch action {
	case "goto":
		url, _ := call.Input["url"].(string)
		if url == "" {
			return errorResult(call, "url is required")
		}
		if err := page.Navigate(url); err != nil {
			return errorResult(call, err.Error())
		}
		page.MustWaitLoad()
		return okResult(call, fmt.Sprintf("navigated to %s", url))

	case "click":
		el, err := t.resolveElement(call, page)
		if err != nil {
			return errorResult(call, err.Error())
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "clicked")

	case "type":
		text, _ := call.Input["text"].(string)
		el, err := t.resolveElement(call, page)
		if err != nil {
			return errorResult(call, err.Error())
		}
		if err := el.Input(text); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "typed")

	case "press":
		key, _ := call.Input["key"].(string)
		k, ok := input.Keys[key]
		if !ok {
			return errorResult(call, fmt.Sprintf("unknown key %q", key))
		}
		if err := page.Keyboard.Type(k); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "pressed")

	case "scroll":
		dx, _ := call.Input["dx"].(float64)
		dy, _ := call.Input["dy"].(float64)
		if err := page.Mouse.Scroll(dx, dy, 1); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "scrolled")

	case "snapshot":
		return t.snapshot(call, page)

	case "screenshot":
		data, err := page.Screenshot(true, nil)
		if err != nil {
			return errorResult(call, err.Error())
		}
		data, err = thumbnail(data)
		if err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(data))

	case "back":
		if err := page.NavigateBack(); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "back")

	case "forward":
		if err := page.NavigateForward(); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "forward")

	case "reload":
		if err := page.Reload(); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "reloaded")

	default:
		return errorResult(call, fmt.Sprintf("unknown browse action %q", action))
	}
}

func (t *BrowseTool) resolveElement(call toolpipeline.Call, page *rod.Page) (*rod.Element, error) {
	ref, _ := call.Input["ref"].(string)
	selector, _ := call.Input["selector"].(string)
	if ref != "" {
		resolved, ok := t.pool.ResolveRef(call.AgentID, ref)
		if !ok {
			return nil, fmt.Errorf("unknown element ref %q", ref)
		}
		selector = resolved
	}
	if selector == "" {
		return nil, fmt.Errorf("ref or selector is required")
	}
	return page.Element(selector)
}

// snapshot walks the page's interactive elements, stamping each with a
// data-hub-ref attribute so later actions can address it by opaque e<N>
// ref instead of a raw selector. The ref-to-selector mapping is recorded
// in the pool's per-agent map.
func (t *BrowseTool) snapshot(call toolpipeline.Call, page *rod.Page) llm.ContentBlock {
	elements, err := page.Elements("a, button, input, textarea, select, [role]")
	if err != nil {
		return errorResult(call, err.Error())
	}

	var lines []string
	for _, el := range elements {
		text, _ := el.Text()
		desc, err := el.Describe(0, false)
		tag := "unknown"
		if err == nil && desc != nil {
			tag = desc.NodeName
		}
		ref, refErr := t.pool.AssignRef(call.AgentID, "")
		if refErr != nil {
			continue
		}
		if _, err := el.Eval(fmt.Sprintf(`() => this.setAttribute(%q, %q)`, refAttr, ref)); err != nil {
			continue
		}
		selector := fmt.Sprintf("[%s=%q]", refAttr, ref)
		if err := t.pool.UpdateRef(call.AgentID, ref, selector); err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s <%s> %q", ref, tag, text))
	}
	return okResult(call, joinLines(lines))
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// thumbnail downscales a screenshot to screenshotThumbnailWidth when it
// exceeds that width, keeping push/intervention payloads small.
func thumbnail(png []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() <= screenshotThumbnailWidth {
		return png, nil
	}
	resized := imaging.Resize(img, screenshotThumbnailWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
