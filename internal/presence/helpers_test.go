package presence

import (
	"context"
	"sync"
	"testing"
	"time"
)

type sent struct {
	conn ConnID
	d    Delivery
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []sent
	closed map[ConnID]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(map[ConnID]string)}
}

func (f *fakeTransport) Deliver(conn ConnID, d Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{conn: conn, d: d})
}

func (f *fakeTransport) Close(conn ConnID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[conn] = reason
}

func (f *fakeTransport) deliveries() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeTransport) closeReason(conn ConnID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.closed[conn]
	return r, ok
}

type recordingMirror struct {
	mu  sync.Mutex
	ops []string
}

func (m *recordingMirror) RecordConnection(_ context.Context, username, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "record "+username+" "+token)
	return nil
}

func (m *recordingMirror) ClearConnection(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "clear "+username)
	return nil
}

func (m *recordingMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// startHub wires a registry, lifecycle, router and hub around a fake
// transport and runs the hub until the test ends.
func startHub(t *testing.T, policy SupersedePolicy) (*Hub, *fakeTransport) {
	t.Helper()
	reg := NewRegistry()
	tr := newFakeTransport()
	lc := NewLifecycle(reg, LifecycleOptions{Policy: policy, Closer: tr})
	h := NewHub(128, reg, lc, NewRouter(reg, tr, nil), nil)
	go h.Run()
	t.Cleanup(func() {
		h.Stop()
		h.Wait()
	})
	return h, tr
}

func join(t *testing.T, h *Hub, id Identity, conn ConnID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Join(ctx, id, conn); err != nil {
		t.Fatalf("join(%s, %s) error: %v", id, conn, err)
	}
}
