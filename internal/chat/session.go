package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andy6609/chat-relay/internal/presence"
)

var (
	loginRe   = regexp.MustCompile(`^/login\s+(\S+)\s+(\S+)$`)
	whisperRe = regexp.MustCompile(`^/w\s+(\S+)\s+(.+)$`)
)

func encodeLine(d presence.Delivery) []byte {
	return []byte("FROM " + string(d.Sender) + " " + strconv.FormatInt(d.Timestamp, 10) + ": " + d.Message)
}

func noticeLine(reason string) []byte {
	return []byte("SYSTEM: " + reason)
}

// HandleLineSession runs the line protocol on conn until the client leaves
// or the connection breaks. The hub always sees exactly one Leave for it.
func (g *Gateway) HandleLineSession(ctx context.Context, conn net.Conn) {
	c := newClient(newConnID(), conn.RemoteAddr().String(), g.opts.SendQueue, encodeLine, noticeLine)
	g.conns.Add(c)
	defer func() {
		c.Close()
		g.hub.Leave(c.ID)
		g.conns.Remove(c.ID)
	}()

	// The writer closes conn once c is closed, which also unblocks the reader.
	startLineWriter(c, conn)

	reader := bufio.NewReader(conn)

	username, ok := g.lineLogin(ctx, c, reader)
	if !ok {
		return
	}

	limiter := g.newLimiter()

	// Main input loop.
	for {
		line, err := readLine(reader)
		if err != nil {
			return
		}

		switch {
		case line == "":
			continue
		case line == "/exit":
			sendLine(c, "Bye")
			return
		case line == "/online":
			names := g.hub.Online()
			parts := make([]string, len(names))
			for i, n := range names {
				parts[i] = string(n)
			}
			sendLine(c, "ONLINE: "+strings.Join(parts, ","))
		case line == "/users" || strings.HasPrefix(line, "/users "):
			term := strings.TrimSpace(strings.TrimPrefix(line, "/users"))
			names, err := g.users.SearchUsers(ctx, term)
			if err != nil {
				g.logger.Error("user search failed", "error", err)
				sendLine(c, "ERR search_failed")
				continue
			}
			sendLine(c, "USERS: "+strings.Join(names, ","))
		case line == "/w" || strings.HasPrefix(line, "/w "):
			m := whisperRe.FindStringSubmatch(line)
			if m == nil {
				sendLine(c, "ERR whisper_usage")
				continue
			}
			to := presence.Identity(m[1])
			text := strings.TrimSpace(m[2])
			if text == "" {
				sendLine(c, "ERR whisper_usage")
				continue
			}
			if to == username {
				sendLine(c, "ERR cannot_whisper_self")
				continue
			}
			if limiter != nil && !limiter.Allow() {
				sendLine(c, "ERR rate_limited")
				continue
			}

			res, err := g.hub.Route(ctx, presence.MessageEvent{
				Sender:    username,
				Recipient: to,
				Payload:   g.truncate(text),
				Timestamp: time.Now().UnixMilli(),
			})
			if err != nil {
				return
			}
			if res == presence.RecipientOffline {
				sendLine(c, "ERR recipient_offline")
			}
		default:
			sendLine(c, "ERR unknown_command")
		}
	}
}

// lineLogin loops until the client presents valid credentials and joins.
func (g *Gateway) lineLogin(ctx context.Context, c *Client, reader *bufio.Reader) (presence.Identity, bool) {
	for {
		sendLine(c, "Enter credentials:")
		line, err := readLine(reader)
		if err != nil {
			return "", false
		}
		if line == "/exit" {
			sendLine(c, "Bye")
			return "", false
		}

		m := loginRe.FindStringSubmatch(line)
		if m == nil {
			sendLine(c, "ERR login_usage")
			continue
		}
		ok, err := g.users.VerifyCredentials(ctx, m[1], m[2])
		if err != nil {
			g.logger.Error("credential check failed", "username", m[1], "error", err)
			sendLine(c, "ERR login_failed")
			continue
		}
		if !ok {
			sendLine(c, "ERR invalid_credentials")
			continue
		}

		id := presence.Identity(m[1])
		if err := g.hub.Join(ctx, id, c.ID); err != nil {
			g.logger.Warn("join rejected", "username", id, "conn", c.ID, "error", err)
			sendLine(c, "ERR join_failed")
			return "", false
		}
		sendLine(c, "OK")
		return id, true
	}
}

func sendLine(c *Client, line string) {
	c.enqueue([]byte(line))
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if errors.Is(err, io.EOF) && line != "" {
		// last line without newline
		return strings.TrimRight(line, "\r\n"), nil
	}
	if errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	return "", fmt.Errorf("read: %w", err)
}
