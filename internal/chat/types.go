package chat

import (
	"context"
	"sync"

	"github.com/andy6609/chat-relay/internal/presence"
)

// Client is one live transport session, TCP or WebSocket. Out is drained by
// the transport's writer goroutine; closing done tells that writer to flush
// and close the underlying connection.
type Client struct {
	ID   presence.ConnID
	Addr string
	Out  chan []byte

	done      chan struct{}
	closeOnce sync.Once
	encode    func(presence.Delivery) []byte
	notice    func(reason string) []byte
}

func newClient(id presence.ConnID, addr string, queue int, encode func(presence.Delivery) []byte, notice func(string) []byte) *Client {
	return &Client{
		ID:     id,
		Addr:   addr,
		Out:    make(chan []byte, queue),
		done:   make(chan struct{}),
		encode: encode,
		notice: notice,
	}
}

// Close asks the writer to stop. Safe to call from any goroutine, any number
// of times.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	// Non-blocking send keeps a slow client from stalling the hub.
	select {
	case c.Out <- msg:
		return true
	default:
		return false
	}
}

// Accounts is the part of the identity store the gateway needs.
type Accounts interface {
	VerifyCredentials(ctx context.Context, username, password string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	SearchUsers(ctx context.Context, substring string) ([]string, error)
}

// TokenParser resolves a login token to the username it was issued for.
type TokenParser interface {
	Parse(token string) (string, error)
}

var (
	ErrNotRegistered = errorString("not_registered")
	ErrBadFrame      = errorString("bad_frame")
)

type errorString string

func (e errorString) Error() string { return string(e) }
