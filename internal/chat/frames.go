package chat

import (
	"encoding/json"
	"fmt"

	"github.com/andy6609/chat-relay/internal/presence"
)

// Event names on the WebSocket protocol.
const (
	EventRegisterSocket     = "register-socket"
	EventRegistered         = "registered"
	EventSendMessage        = "send-message"
	EventReceiveMessage     = "receive-message"
	EventMessageUndelivered = "message-undelivered"
	EventSuperseded         = "superseded"
	EventError              = "error"
)

// Frame is the envelope of every WebSocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RegisterData struct {
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type RegisteredData struct {
	Username string `json:"username"`
}

// SendData is a client's outbound message. Sender is accepted for
// compatibility but ignored; the bound identity is used instead.
type SendData struct {
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type UndeliveredData struct {
	Recipient string `json:"recipient"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorData struct {
	Code string `json:"code"`
}

func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrBadFrame)
	}
	return f, nil
}

func decodeData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: missing data for %s", ErrBadFrame, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return nil
}

func encodeFrame(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		// Every payload type here marshals cleanly.
		panic(fmt.Sprintf("encode %s frame: %v", event, err))
	}
	out, _ := json.Marshal(Frame{Event: event, Data: raw})
	return out
}

func encodeReceive(d presence.Delivery) []byte {
	return encodeFrame(EventReceiveMessage, d)
}

func noticeFrame(reason string) []byte {
	if reason == "superseded" {
		return encodeFrame(EventSuperseded, ErrorData{Code: reason})
	}
	return encodeFrame(EventError, ErrorData{Code: reason})
}

func errorFrame(code string) []byte {
	return encodeFrame(EventError, ErrorData{Code: code})
}
