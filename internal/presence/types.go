package presence

// Identity is a username. It is opaque to this package.
type Identity string

// ConnID is the gateway's handle for one live transport session.
type ConnID string

type MessageEvent struct {
	Sender    Identity
	Recipient Identity
	Payload   string
	Timestamp int64 // caller supplied, passed through untouched
}

// Delivery is what the transport pushes to the recipient's connection.
type Delivery struct {
	Sender    Identity `json:"sender"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"`
}

type DeliveryResult int

const (
	Delivered DeliveryResult = iota
	RecipientOffline
)

func (r DeliveryResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case RecipientOffline:
		return "recipient_offline"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a single connection.
type State int

const (
	Unauthenticated State = iota
	Bound
	Released
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Bound:
		return "bound"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// SupersedePolicy decides what happens to a connection whose identity
// reconnected on another connection.
type SupersedePolicy int

const (
	// SupersedeClose asks the transport to close the old connection.
	SupersedeClose SupersedePolicy = iota
	// SupersedeKeepOpen leaves it open but unregistered; messages for the
	// identity go to the new connection only.
	SupersedeKeepOpen
)

// Transport is the gateway side of routing. Deliver must not block.
type Transport interface {
	Deliver(conn ConnID, d Delivery)
}

// Closer is implemented by transports that can force a connection closed.
type Closer interface {
	Close(conn ConnID, reason string)
}

var (
	ErrInvalidIdentity    = errorString("invalid_identity")
	ErrConnectionReleased = errorString("connection_released")
	ErrHubStopped         = errorString("hub_stopped")
)

type errorString string

func (e errorString) Error() string { return string(e) }
