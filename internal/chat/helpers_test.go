package chat

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/andy6609/chat-relay/internal/identity"
	"github.com/andy6609/chat-relay/internal/presence"
)

type stack struct {
	hub    *presence.Hub
	reg    *presence.Registry
	conns  *Conns
	gw     *Gateway
	users  *identity.MemoryStore
	mirror *presence.MirrorQueue
	ops    *opsMirror
}

// opsMirror records presence mirror writes as "record <user>" and
// "clear <user>".
type opsMirror struct {
	mu  sync.Mutex
	ops []string
}

func (m *opsMirror) RecordConnection(_ context.Context, username, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "record "+username)
	return nil
}

func (m *opsMirror) ClearConnection(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "clear "+username)
	return nil
}

func (m *opsMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// newStack wires a running hub and a gateway with alice, bob and carol
// registered (password "pw-<name>").
func newStack(t *testing.T, tokens TokenParser, opts Options) *stack {
	t.Helper()

	users := identity.NewMemoryStore(bcrypt.MinCost)
	for _, n := range []string{"alice", "bob", "carol"} {
		if err := users.Register(context.Background(), n, "pw-"+n); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}

	ops := &opsMirror{}
	mirror := presence.NewMirrorQueue(ops, 128, time.Second, nil)
	go mirror.Run()
	t.Cleanup(func() {
		mirror.Stop()
		mirror.Wait()
	})

	conns := NewConns(nil)
	reg := presence.NewRegistry()
	lc := presence.NewLifecycle(reg, presence.LifecycleOptions{
		Policy: presence.SupersedeClose,
		Closer: conns,
		Mirror: mirror,
	})
	hub := presence.NewHub(128, reg, lc, presence.NewRouter(reg, conns, nil), nil)
	go hub.Run()
	t.Cleanup(func() {
		hub.Stop()
		hub.Wait()
	})

	return &stack{
		hub:    hub,
		reg:    reg,
		conns:  conns,
		gw:     NewGateway(hub, conns, users, tokens, opts, nil),
		users:  users,
		mirror: mirror,
		ops:    ops,
	}
}

func startTCP(t *testing.T, s *stack) string {
	t.Helper()
	srv := NewServer("127.0.0.1:0", s.gw, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv.Addr().String()
}

type lineClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialLine(t *testing.T, addr string) *lineClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &lineClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *lineClient) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

// waitForPrefix reads lines until one starts with prefix.
func (c *lineClient) waitForPrefix(prefix string) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			c.t.Fatalf("waiting for %q: %v", prefix, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

func (c *lineClient) login(name string) {
	c.t.Helper()
	c.waitForPrefix("Enter credentials:")
	c.send("/login " + name + " pw-" + name)
	if got := c.waitForPrefix("OK"); got != "OK" {
		c.t.Fatalf("login %s: %q", name, got)
	}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
