package web_interface

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Run handles client registration and broadcasting until ctx is done
func (w *WebUI) Run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		for c := range w.clients {
			delete(w.clients, c)
			close(c.send)
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-w.register:
			w.mu.Lock()
			w.clients[c] = true
			w.mu.Unlock()
			w.Logger.Debug("WebSocket client connected: %s", c.conn.RemoteAddr())

		case c := <-w.unregister:
			w.mu.Lock()
			if w.clients[c] {
				delete(w.clients, c)
				close(c.send)
			}
			w.mu.Unlock()

		case msg := <-w.broadcast:
			w.mu.Lock()
			for c := range w.clients {
				select {
				case c.send <- msg:
				default:
					// slow client
					delete(w.clients, c)
					close(c.send)
				}
			}
			w.mu.Unlock()
		}
	}
}

// StartPeriodicUpdates broadcasts the result of build every interval until
// ctx is done. build may return ok=false to skip a round.
func (w *WebUI) StartPeriodicUpdates(ctx context.Context, interval time.Duration, build func(context.Context) (Message, bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if msg, ok := build(ctx); ok {
				if !w.Broadcast(msg) {
					w.Logger.Debug("Broadcast channel is full, skipping update")
				}
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; dashboards are read-only
func (c *client) readPump() {
	defer func() {
		select {
		case c.ui.unregister <- c:
		case <-time.After(writeWait):
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.ui.Logger.Debug("WebSocket closed: %v", err)
			}
			return
		}
	}
}
