package websocket

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ConnHandle wraps a websocket connection so the relay engine and the ping
// loop never interleave frames. Reads stay on the owning goroutine.
type ConnHandle struct {
	conn      *websocket.Conn
	mu        sync.Mutex // guards writes
	done      chan struct{}
	closeOnce sync.Once
}

func NewConnHandle(conn *websocket.Conn) *ConnHandle {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	return &ConnHandle{
		conn: conn,
		done: make(chan struct{}),
	}
}

func (h *ConnHandle) WriteJSON(v interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return h.conn.WriteJSON(v)
}

// ReadMessage blocks awaiting the next inbound frame.
func (h *ConnHandle) ReadMessage() (int, []byte, error) {
	return h.conn.ReadMessage()
}

// Close is safe to call more than once.
func (h *ConnHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	return h.conn.Close()
}

// PingLoop keeps the connection alive until the handle closes or a ping write
// fails. Run it on its own goroutine.
func (h *ConnHandle) PingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.mu.Lock()
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := h.conn.WriteMessage(websocket.PingMessage, nil)
			h.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
