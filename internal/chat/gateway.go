package chat

import (
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/andy6609/chat-relay/internal/presence"
)

type Options struct {
	SendQueue      int        // per-connection outbound buffer
	MaxMessageLen  int        // longer text payloads are truncated
	MaxFrameSize   int64      // websocket read limit in bytes
	RateLimit      rate.Limit // messages per second per connection; 0 disables
	RateBurst      int
	PongWait       time.Duration // websocket read deadline, renewed by pongs
	WriteWait      time.Duration
	AllowedOrigins []string // websocket origins; empty or "*" allows any
}

func (o *Options) norm() {
	if o.SendQueue <= 0 {
		o.SendQueue = 32
	}
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = 512
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = 4096
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = 5
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
}

// Gateway terminates client connections and turns their frames into hub
// joins, leaves and routes. It serves both the TCP line protocol and the
// WebSocket protocol.
type Gateway struct {
	hub    *presence.Hub
	conns  *Conns
	users  Accounts
	tokens TokenParser
	opts   Options
	logger *slog.Logger

	upgrader websocket.Upgrader
	sessions sync.WaitGroup // live WebSocket sessions
}

// NewGateway wires a gateway. tokens may be nil, in which case WebSocket
// clients must join with a username and password.
func NewGateway(hub *presence.Hub, conns *Conns, users Accounts, tokens TokenParser, opts Options, logger *slog.Logger) *Gateway {
	opts.norm()
	if logger == nil {
		logger = slog.Default()
	}
	origins := newOriginChecker(opts.AllowedOrigins)
	return &Gateway{
		hub:    hub,
		conns:  conns,
		users:  users,
		tokens: tokens,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

func newConnID() presence.ConnID {
	return presence.ConnID(uuid.NewString())
}

func (g *Gateway) newLimiter() *rate.Limiter {
	if g.opts.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(g.opts.RateLimit, g.opts.RateBurst)
}

// Wait blocks until every WebSocket session has left the hub. Call it after
// the HTTP server stopped accepting upgrades and the clients were closed.
func (g *Gateway) Wait() {
	g.sessions.Wait()
}

// truncate cuts text to at most MaxMessageLen bytes without splitting a rune.
func (g *Gateway) truncate(text string) string {
	if len(text) <= g.opts.MaxMessageLen {
		return text
	}
	cut := g.opts.MaxMessageLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
