package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/omalloc/chunksync/contrib/log"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 256
)

type pushConn struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans change notifications out to every websocket subscriber.
// Subscribers that cannot keep up are disconnected; they reload in full
// when they reconnect.
type Hub struct {
	upgrader websocket.Upgrader
	log      *log.Helper

	mu     sync.Mutex
	conns  map[*pushConn]struct{}
	closed bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:   log.NewHelper(log.With(log.GetLogger(), "module", "authority/hub")),
		conns: make(map[*pushConn]struct{}),
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends keys to every subscriber.
func (h *Hub) Broadcast(keys []string) {
	if len(keys) == 0 {
		return
	}
	msg, err := json.Marshal(KeysRequest{Keys: keys})
	if err != nil {
		h.log.Errorf("encode push message: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- msg:
		default:
			h.log.Warnf("subscriber %s too slow, disconnecting", c.conn.RemoteAddr())
			h.removeLocked(c)
		}
	}
}

// Disconnect closes every subscriber connection. Clients see a reconnect.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		h.removeLocked(c)
	}
}

// Close disconnects everyone and refuses new subscribers.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.Disconnect()
	return nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		writeError(w, http.StatusServiceUnavailable, "hub closed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	c := &pushConn{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Infof("subscriber %s connected", conn.RemoteAddr())
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *pushConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *pushConn) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	close(c.send)
}

// readPump only handles control frames; subscribers never send data.
func (h *Hub) readPump(c *pushConn) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugf("subscriber %s read: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *pushConn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
