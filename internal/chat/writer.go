package chat

import (
	"bufio"
	"net"
)

// startLineWriter writes c.Out to conn one line per message until the client
// is closed, then flushes whatever is still queued and closes conn.
func startLineWriter(c *Client, conn net.Conn) {
	go func() {
		defer conn.Close()
		w := bufio.NewWriter(conn)
		for {
			select {
			case msg := <-c.Out:
				// Best-effort. If the connection breaks, just stop the writer.
				if !writeLine(w, msg) {
					c.Close()
					return
				}
			case <-c.done:
				for {
					select {
					case msg := <-c.Out:
						if !writeLine(w, msg) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
}

func writeLine(w *bufio.Writer, msg []byte) bool {
	if _, err := w.Write(msg); err != nil {
		return false
	}
	if err := w.WriteByte('\n'); err != nil {
		return false
	}
	return w.Flush() == nil
}
