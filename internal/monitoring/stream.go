package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/23skdu/quarrel-gemm/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one message on the /ws progress stream.
// Types: start, result, finish, status, error.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// hub fans events out to every connected stream client.
type hub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*streamClient]struct{})}
}

func (h *hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// remove closes c's send channel once.
func (h *hub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast never blocks on a slow client; such a client is dropped.
func (h *hub) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	hm   *HealthMonitor
}

func (hm *HealthMonitor) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.With("monitor").Warn("WebSocket upgrade error", "error", err)
		return
	}
	c := &streamClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hm:   hm,
	}
	hm.hub.add(c)

	go c.writePump()
	go c.readPump()
}

// readPump answers {"type":"status"} requests; anything else gets an error event.
func (c *streamClient) readPump() {
	defer func() {
		c.hm.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.With("monitor").Debug("WebSocket closed", "error", err)
			}
			return
		}

		var req Event
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(Event{Type: "error", Payload: "invalid JSON"})
			continue
		}
		switch req.Type {
		case "status":
			c.reply(Event{Type: "status", Payload: c.hm.getHealthStatus()})
		default:
			c.reply(Event{Type: "error", Payload: "unknown message type: " + req.Type})
		}
	}
}

// reply queues ev for this client only.
func (c *streamClient) reply(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.hm.hub.mu.Lock()
	defer c.hm.hub.mu.Unlock()
	if _, ok := c.hm.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
