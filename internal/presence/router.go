package presence

import "log/slog"

// Router hands message events to the recipient's live connection.
type Router struct {
	reg       *Registry
	transport Transport
	logger    *slog.Logger
}

func NewRouter(reg *Registry, transport Transport, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{reg: reg, transport: transport, logger: logger}
}

// Route delivers ev if its recipient is online. Delivered means the event was
// handed to the transport, not that the client received it.
func (r *Router) Route(ev MessageEvent) DeliveryResult {
	conn, ok := r.reg.Lookup(ev.Recipient)
	if !ok {
		r.logger.Debug("recipient not connected", "sender", ev.Sender, "recipient", ev.Recipient)
		return RecipientOffline
	}

	r.transport.Deliver(conn, Delivery{
		Sender:    ev.Sender,
		Message:   ev.Payload,
		Timestamp: ev.Timestamp,
	})
	r.logger.Debug("message routed", "sender", ev.Sender, "recipient", ev.Recipient, "conn", conn)
	return Delivered
}
