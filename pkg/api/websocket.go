package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clobcore/matchbook/pkg/util"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS layer on the main router.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks live WebSocket clients and fans channel broadcasts out to the
// subscribers of each channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     util.Logger
}

func NewHub(log util.Logger) *Hub {
	return &Hub{clients: make(map[*wsClient]struct{}), log: log}
}

func (h *Hub) attach(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debugw("ws_client_connected", "id", c.id, "total", n)
}

func (h *Hub) detach(c *wsClient) {
	h.mu.Lock()
	_, live := h.clients[c]
	if live {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if live {
		h.log.Debugw("ws_client_disconnected", "id", c.id, "total", n)
	}
}

// BroadcastToChannel sends data to every client subscribed to channel.
// Clients whose send buffer is full miss this message rather than block
// the broadcaster.
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- message:
		default:
		}
	}
}

// wsClient is one connection plus its subscription set.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu   sync.RWMutex
	subs map[string]struct{}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *wsClient) setSubscribed(channel string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.subs[channel] = struct{}{}
	} else {
		delete(c.subs, channel)
	}
}

// readLoop consumes subscribe/unsubscribe requests until the connection
// drops, then detaches the client.
func (c *wsClient) readLoop() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_error", "id", c.id, "err", err)
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debugw("ws_invalid_message", "id", c.id, "err", err)
			continue
		}
		switch req.Op {
		case "subscribe", "unsubscribe":
			for _, channel := range req.Channels {
				c.setSubscribed(channel, req.Op == "subscribe")
			}
		default:
			c.hub.log.Debugw("ws_unknown_op", "id", c.id, "op", req.Op)
		}
	}
}

// writeLoop flushes outbound messages and keeps the connection alive with
// pings. Queued messages are coalesced into one frame per wake-up.
func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			for i := len(c.send); i > 0; i-- {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the request and starts the client's loops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		id:   conn.RemoteAddr().String(),
		subs: make(map[string]struct{}),
	}
	s.hub.attach(client)

	go client.writeLoop()
	go client.readLoop()
}
