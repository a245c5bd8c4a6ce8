package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andy6609/chat-relay/internal/presence"
)

// ServeWS upgrades the request and runs the WebSocket protocol until the
// client goes away.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	g.sessions.Add(1)
	defer g.sessions.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(g.opts.MaxFrameSize)

	c := newClient(newConnID(), r.RemoteAddr, g.opts.SendQueue, encodeReceive, noticeFrame)
	g.conns.Add(c)
	g.logger.Info("client connected", "addr", c.Addr, "transport", "websocket", "conn", c.ID)

	go g.wsWritePump(c, ws)
	g.wsReadPump(r.Context(), c, ws)
}

func (g *Gateway) wsReadPump(ctx context.Context, c *Client, ws *websocket.Conn) {
	defer func() {
		c.Close()
		g.hub.Leave(c.ID)
		g.conns.Remove(c.ID)
	}()

	if err := ws.SetReadDeadline(time.Now().Add(g.opts.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	var username presence.Identity
	limiter := g.newLimiter()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("websocket read error", "addr", c.Addr, "conn", c.ID, "error", err)
			} else {
				g.logger.Info("client disconnected", "addr", c.Addr, "conn", c.ID)
			}
			return
		}

		f, err := decodeFrame(raw)
		if err != nil {
			c.enqueue(errorFrame("bad_frame"))
			continue
		}

		switch f.Event {
		case EventRegisterSocket:
			id, code := g.authenticate(ctx, f)
			if code != "" {
				c.enqueue(errorFrame(code))
				continue
			}
			if err := g.hub.Join(ctx, id, c.ID); err != nil {
				g.logger.Warn("join rejected", "username", id, "conn", c.ID, "error", err)
				c.enqueue(errorFrame("join_failed"))
				continue
			}
			username = id
			c.enqueue(encodeFrame(EventRegistered, RegisteredData{Username: string(id)}))

		case EventSendMessage:
			if username == "" {
				c.enqueue(errorFrame(ErrNotRegistered.Error()))
				continue
			}
			var sd SendData
			if err := decodeData(f, &sd); err != nil {
				c.enqueue(errorFrame("bad_frame"))
				continue
			}
			if sd.Recipient == "" || sd.Message == "" {
				c.enqueue(errorFrame("invalid_message"))
				continue
			}
			if limiter != nil && !limiter.Allow() {
				c.enqueue(errorFrame("rate_limited"))
				continue
			}

			res, err := g.hub.Route(ctx, presence.MessageEvent{
				Sender:    username,
				Recipient: presence.Identity(sd.Recipient),
				Payload:   g.truncate(sd.Message),
				Timestamp: sd.Timestamp,
			})
			if err != nil {
				return
			}
			if res == presence.RecipientOffline {
				c.enqueue(encodeFrame(EventMessageUndelivered, UndeliveredData{
					Recipient: sd.Recipient,
					Timestamp: sd.Timestamp,
				}))
			}

		default:
			c.enqueue(errorFrame("unknown_event"))
		}
	}
}

// authenticate resolves a register-socket frame to an identity, or returns
// an error code for the client.
func (g *Gateway) authenticate(ctx context.Context, f Frame) (presence.Identity, string) {
	var rd RegisterData
	if err := decodeData(f, &rd); err != nil {
		return "", "bad_frame"
	}

	switch {
	case rd.Token != "":
		if g.tokens == nil {
			return "", "token_unsupported"
		}
		name, err := g.tokens.Parse(rd.Token)
		if err != nil {
			return "", "invalid_token"
		}
		// A valid token can outlive its account.
		exists, err := g.users.UsernameExists(ctx, name)
		if err != nil {
			g.logger.Error("account lookup failed", "username", name, "error", err)
			return "", "login_failed"
		}
		if !exists {
			return "", "invalid_token"
		}
		return presence.Identity(name), ""
	case rd.Username != "" && rd.Password != "":
		ok, err := g.users.VerifyCredentials(ctx, rd.Username, rd.Password)
		if err != nil {
			g.logger.Error("credential check failed", "username", rd.Username, "error", err)
			return "", "login_failed"
		}
		if !ok {
			return "", "invalid_credentials"
		}
		return presence.Identity(rd.Username), ""
	default:
		return "", "missing_credentials"
	}
}

func (g *Gateway) wsWritePump(c *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(g.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case msg := <-c.Out:
			if !g.wsWrite(ws, websocket.TextMessage, msg) {
				c.Close()
				return
			}
		case <-ticker.C:
			if !g.wsWrite(ws, websocket.PingMessage, nil) {
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.Out:
					if !g.wsWrite(ws, websocket.TextMessage, msg) {
						return
					}
				default:
					g.wsWrite(ws, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (g *Gateway) wsWrite(ws *websocket.Conn, messageType int, data []byte) bool {
	if err := ws.SetWriteDeadline(time.Now().Add(g.opts.WriteWait)); err != nil {
		return false
	}
	return ws.WriteMessage(messageType, data) == nil
}
