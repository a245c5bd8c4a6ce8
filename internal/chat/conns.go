package chat

import (
	"log/slog"
	"sync"

	"github.com/andy6609/chat-relay/internal/presence"
)

// Conns owns every live Client by handle. It is the transport the presence
// router delivers through and the closer the lifecycle uses for superseded
// connections.
type Conns struct {
	mu      sync.RWMutex
	clients map[presence.ConnID]*Client
	logger  *slog.Logger
}

func NewConns(logger *slog.Logger) *Conns {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conns{
		clients: make(map[presence.ConnID]*Client),
		logger:  logger,
	}
}

func (t *Conns) Add(c *Client) {
	t.mu.Lock()
	t.clients[c.ID] = c
	t.mu.Unlock()
}

func (t *Conns) Remove(id presence.ConnID) {
	t.mu.Lock()
	delete(t.clients, id)
	t.mu.Unlock()
}

func (t *Conns) Get(id presence.ConnID) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[id]
	return c, ok
}

func (t *Conns) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Deliver queues d on the connection's writer. It never blocks; a full queue
// or a connection that already went away drops the message.
func (t *Conns) Deliver(conn presence.ConnID, d presence.Delivery) {
	c, ok := t.Get(conn)
	if !ok {
		t.logger.Debug("deliver to unknown connection", "conn", conn)
		return
	}
	if !c.enqueue(c.encode(d)) {
		t.logger.Warn("dropping message for slow or closing client", "conn", conn, "addr", c.Addr)
	}
}

// Close tells the client why it is being dropped and shuts it down.
func (t *Conns) Close(conn presence.ConnID, reason string) {
	c, ok := t.Get(conn)
	if !ok {
		return
	}
	if c.notice != nil {
		c.enqueue(c.notice(reason))
	}
	c.Close()
	t.logger.Info("connection closed by relay", "conn", conn, "addr", c.Addr, "reason", reason)
}

// CloseAll shuts every client down, used on server stop.
func (t *Conns) CloseAll(reason string) {
	t.mu.RLock()
	ids := make([]presence.ConnID, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	for _, id := range ids {
		t.Close(id, reason)
	}
}
