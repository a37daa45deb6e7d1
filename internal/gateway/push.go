package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/agenthub/hubd/internal/store"
)

// pushPinTTL is the PIN-verification handshake's lifetime per
// spec.md §4.4/§5: unverified subscriptions older than this are purged.
const pushPinTTL = 5 * time.Minute

// pushThumbnailWidth is thumbnailImage's target width, using the same
// library the browse tool uses for screenshots
// (github.com/disintegration/imaging).
const pushThumbnailWidth = 512

// PushPayload is the abstraction a Runner's notify_user event is
// translated into before reaching PushSink.
type PushPayload struct {
	Title   string
	Body    string
	Tag     string
	AgentID string
}

// PushSink delivers a push notification to an unspecified downstream
// transport (web push, APNs, etc.) — out of scope for this module per
// spec.md's framing; only the dispatch/suppress decision lives here.
type PushSink interface {
	Send(ctx context.Context, deviceID string, payload PushPayload) error
}

// NoopPushSink discards every payload; used when push.enabled is false.
type NoopPushSink struct{}

func (NoopPushSink) Send(ctx context.Context, deviceID string, payload PushPayload) error {
	return nil
}

type pendingSubscription struct {
	deviceID  string
	pin       string
	createdAt time.Time
}

// DeviceManager owns device/visibility state (via store.DeviceStore)
// plus the PIN-verification handshake for new push subscriptions.
type DeviceManager struct {
	devices store.DeviceStore
	sink    PushSink

	mu      sync.Mutex
	pending map[string]*pendingSubscription // deviceID -> pending PIN
}

func NewDeviceManager(devices store.DeviceStore, sink PushSink) *DeviceManager {
	if sink == nil {
		sink = NoopPushSink{}
	}
	return &DeviceManager{devices: devices, sink: sink, pending: make(map[string]*pendingSubscription)}
}

// BeginSubscribe registers a subscription descriptor and mints a
// 4-digit PIN the browser must echo back over WS to verify ownership.
func (d *DeviceManager) BeginSubscribe(deviceID string) (string, error) {
	pin, err := generatePIN()
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.pending[deviceID] = &pendingSubscription{deviceID: deviceID, pin: pin, createdAt: time.Now()}
	d.mu.Unlock()
	return pin, nil
}

// VerifyPIN marks a pending subscription verified if pin matches and
// hasn't expired, discarding the PIN either way.
func (d *DeviceManager) VerifyPIN(ctx context.Context, deviceID, pin string) (bool, error) {
	d.mu.Lock()
	p, ok := d.pending[deviceID]
	if ok {
		delete(d.pending, deviceID)
	}
	d.mu.Unlock()

	if !ok {
		return false, nil
	}
	if time.Since(p.createdAt) > pushPinTTL {
		return false, nil
	}
	if !constantTimeEqual(p.pin, pin) {
		return false, nil
	}
	if err := d.devices.Upsert(ctx, store.DeviceRecord{DeviceID: deviceID, LastSeenAt: time.Now().UnixMilli()}); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeExpired drops pending subscriptions older than pushPinTTL,
// run by the periodic sweep alongside the failed-auth table.
func (d *DeviceManager) PurgeExpired() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for id, p := range d.pending {
		if now.Sub(p.createdAt) > pushPinTTL {
			delete(d.pending, id)
		}
	}
}

// SetVisibility records a device's WS-connected + foreground-visible
// state, consulted by NotifyUser's active/suppress decision.
func (d *DeviceManager) SetVisibility(ctx context.Context, deviceID string, active, visible bool) error {
	return d.devices.SetVisibility(ctx, deviceID, active, visible)
}

// NotifyUser implements the dispatch/suppress rule of spec.md §4.4: if
// any device for the agent is active (open WS connection) and visible,
// the push is suppressed; otherwise every known device receives it.
func (d *DeviceManager) NotifyUser(ctx context.Context, payload PushPayload) {
	devices, err := d.devices.ListActive(ctx)
	if err != nil {
		slog.Warn("push.list_active_failed", "error", err)
		return
	}
	for _, dev := range devices {
		if dev.Visible {
			return // an active, visible device suppresses the push entirely
		}
	}
	for _, dev := range devices {
		if err := d.sink.Send(ctx, dev.DeviceID, payload); err != nil {
			slog.Warn("push.send_failed", "device", dev.DeviceID, "error", err)
		}
	}
}

func generatePIN() (string, error) {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	n := (int(b[0])<<8 | int(b[1])) % 10000
	return fmt.Sprintf("%04d", n), nil
}

// thumbnailImage downscales a PNG wider than pushThumbnailWidth,
// mirroring the browse tool's screenshot thumbnailing
// (internal/tools/browse.go). It has no caller; PushPayload carries no
// image.
func thumbnailImage(png []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() <= pushThumbnailWidth {
		return png, nil
	}
	resized := imaging.Resize(img, pushThumbnailWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
