package wschannel

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleychat/parley/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-connection outbound queue. A subscriber that
	// falls this far behind is dropped and must resubscribe.
	sendBuffer = 32
)

// Hub is the server side of the push channel. It upgrades websocket
// requests scoped to one conversation and fans committed writes out to
// every subscriber of that conversation, the originator included.
//
// Hub implements the durable store's Publisher.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]map[*hubConn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]map[*hubConn]struct{}),
	}
}

type hubConn struct {
	conversationID string
	ws             *websocket.Conn
	send           chan chat.Event
	closeOnce      sync.Once
}

// ServeHTTP upgrades the request and registers the connection for the
// conversation named in the query string.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		http.Error(w, "missing conversation parameter", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &hubConn{
		conversationID: conversationID,
		ws:             ws,
		send:           make(chan chat.Event, sendBuffer),
	}
	h.register(c)
	go h.writePump(c)
	go h.readPump(c)
}

// Publish sends the event to every subscriber of its conversation. A
// subscriber whose queue is full is dropped rather than blocking the
// writer.
func (h *Hub) Publish(ev chat.Event) {
	conversationID := ev.ConversationID()
	if conversationID == "" {
		return
	}

	h.mu.Lock()
	var stale []*hubConn
	for c := range h.conns[conversationID] {
		select {
		case c.send <- ev:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		slog.Warn("dropping slow subscriber", "conversation_id", conversationID)
		h.drop(c)
	}
}

// Shutdown severs every live connection. Subscribers observe the drop
// through their subscription's Done channel and are expected to
// resubscribe.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*hubConn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.drop(c)
	}
}

// SubscriberCount reports the live connections for a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[conversationID])
}

func (h *Hub) register(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.conversationID]
	if !ok {
		set = make(map[*hubConn]struct{})
		h.conns[c.conversationID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) drop(c *hubConn) {
	h.mu.Lock()
	if set, ok := h.conns[c.conversationID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.conversationID)
		}
	}
	h.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
		c.ws.Close()
	})
}

// writePump drains the connection's queue and keeps the ping cadence.
func (h *Hub) writePump(c *hubConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects the peer going away.
func (h *Hub) readPump(c *hubConn) {
	defer h.drop(c)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
