package presence

import "testing"

func TestRouter_OfflineRecipient(t *testing.T) {
	reg := NewRegistry()
	tr := newFakeTransport()
	r := NewRouter(reg, tr, nil)

	res := r.Route(MessageEvent{Sender: "a", Recipient: "ghost", Payload: "hi", Timestamp: 1})
	if res != RecipientOffline {
		t.Fatalf("expected RecipientOffline, got %s", res)
	}
	if n := len(tr.deliveries()); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func TestRouter_DeliversToRecipientOnly(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("alice", "connX")
	reg.Bind("bob", "connY")
	tr := newFakeTransport()
	r := NewRouter(reg, tr, nil)

	res := r.Route(MessageEvent{Sender: "alice", Recipient: "bob", Payload: "hello", Timestamp: 42})
	if res != Delivered {
		t.Fatalf("expected Delivered, got %s", res)
	}

	got := tr.deliveries()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(got))
	}
	want := sent{conn: "connY", d: Delivery{Sender: "alice", Message: "hello", Timestamp: 42}}
	if got[0] != want {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}
}

func TestRouter_AfterSupersedeGoesToNewConnection(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("bob", "old")
	reg.Bind("bob", "new")
	tr := newFakeTransport()

	NewRouter(reg, tr, nil).Route(MessageEvent{Sender: "alice", Recipient: "bob", Payload: "x"})

	got := tr.deliveries()
	if len(got) != 1 || got[0].conn != "new" {
		t.Fatalf("expected delivery to new connection, got %+v", got)
	}
}
