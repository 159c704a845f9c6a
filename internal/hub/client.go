package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long an observer may stay silent before the
	// connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ServeConn attaches the WebSocket connection as an observer and pumps
// frames until either side goes away. It blocks; call from the HTTP
// handler goroutine after the upgrade.
func ServeConn(ctx context.Context, h *Hub, conn *websocket.Conn) error {
	o, err := h.Subscribe(ctx)
	if err != nil {
		conn.Close()
		return err
	}
	defer h.Unregister(o)
	defer conn.Close()

	// Reader exists only to consume control frames and detect the
	// peer hanging up.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-o.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-o.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "detached"))
			return nil
		case <-readDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
