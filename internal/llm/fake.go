package llm

import "context"

// FakeAdapter is a scriptable SendApiRequestFunc source for tests. It is
// not a vendor adapter — it never touches a network — so it stays in
// the package rather than under a _test.go file, where runner tests in
// other packages can reuse it as an httptest-free stand-in.
type FakeAdapter struct {
	// Responses is consumed in order, one per call to Send.
	Responses []Response
	// Events, if set, is emitted (per-call) before the matching Response.
	Events [][]StreamEvent
	calls  int
	Requests []Request
}

func (f *FakeAdapter) Send(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	f.Requests = append(f.Requests, req)
	idx := f.calls
	f.calls++
	if idx < len(f.Events) {
		for _, ev := range f.Events[idx] {
			onEvent(ev)
		}
	}
	if idx >= len(f.Responses) {
		return &Response{Message: Message{Role: RoleAssistant, Content: []ContentBlock{Text("")}}, StopReason: StopEndTurn}, nil
	}
	resp := f.Responses[idx]
	return &resp, nil
}
