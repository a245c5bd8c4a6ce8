package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type eventType int

const (
	eventJoin eventType = iota
	eventLeave
	eventRoute
)

func (t eventType) String() string {
	switch t {
	case eventJoin:
		return "join"
	case eventLeave:
		return "leave"
	case eventRoute:
		return "route"
	default:
		return "unknown"
	}
}

type event struct {
	typ      eventType
	identity Identity
	conn     ConnID
	msg      MessageEvent
	reply    chan eventReply
}

type eventReply struct {
	err    error
	result DeliveryResult
}

// Hub funnels every join, leave and route through one goroutine. Events for
// a connection are processed in the order its gateway session submitted them.
type Hub struct {
	events   chan event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	reg       *Registry
	lifecycle *Lifecycle
	router    *Router
	logger    *slog.Logger
}

func NewHub(buffer int, reg *Registry, lifecycle *Lifecycle, router *Router, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		events:    make(chan event, buffer),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		reg:       reg,
		lifecycle: lifecycle,
		router:    router,
		logger:    logger,
	}
}

// Stop signals the Run loop to exit. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Wait blocks until the Run loop has completely finished.
func (h *Hub) Wait() {
	<-h.doneCh
}

func (h *Hub) Run() {
	defer close(h.doneCh)

	for {
		select {
		case ev := <-h.events:
			start := time.Now()
			var rep eventReply

			switch ev.typ {
			case eventJoin:
				rep.err = h.lifecycle.OnJoin(ev.identity, ev.conn)
			case eventLeave:
				h.lifecycle.OnLeave(ev.conn)
			case eventRoute:
				rep.result = h.router.Route(ev.msg)
				RoutedMessages.WithLabelValues(rep.result.String()).Inc()
			}
			if ev.typ != eventRoute {
				ConnectedClients.Set(float64(h.reg.Len()))
			}

			if ev.reply != nil {
				ev.reply <- rep
			}

			MessagesTotal.WithLabelValues(ev.typ.String()).Inc()
			EventProcessingDuration.WithLabelValues(ev.typ.String()).Observe(time.Since(start).Seconds())
		case <-h.stopCh:
			return
		}
	}
}

// Join binds id to conn and waits for the result.
func (h *Hub) Join(ctx context.Context, id Identity, conn ConnID) error {
	rep, err := h.do(ctx, event{typ: eventJoin, identity: id, conn: conn})
	if err != nil {
		return err
	}
	return rep.err
}

// Leave releases conn. Gateways call it exactly once per connection, whether
// or not it ever joined.
func (h *Hub) Leave(conn ConnID) {
	if _, err := h.do(context.Background(), event{typ: eventLeave, conn: conn}); err != nil {
		h.logger.Debug("leave not processed", "conn", conn, "error", err)
	}
}

// Route hands ev to the router and reports whether the recipient was online.
func (h *Hub) Route(ctx context.Context, ev MessageEvent) (DeliveryResult, error) {
	rep, err := h.do(ctx, event{typ: eventRoute, msg: ev})
	if err != nil {
		return RecipientOffline, err
	}
	return rep.result, nil
}

// Online lists the identities that currently have a live binding.
func (h *Hub) Online() []Identity {
	return h.reg.Online()
}

func (h *Hub) do(ctx context.Context, ev event) (eventReply, error) {
	ev.reply = make(chan eventReply, 1)

	select {
	case h.events <- ev:
	case <-h.stopCh:
		return eventReply{}, ErrHubStopped
	case <-ctx.Done():
		return eventReply{}, ctx.Err()
	}

	select {
	case rep := <-ev.reply:
		return rep, nil
	case <-h.doneCh:
		select {
		case rep := <-ev.reply:
			return rep, nil
		default:
			return eventReply{}, ErrHubStopped
		}
	case <-ctx.Done():
		return eventReply{}, ctx.Err()
	}
}
