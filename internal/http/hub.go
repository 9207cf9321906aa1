package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/parish-portal/internal/logging"
	"github.com/example/parish-portal/internal/notification"
	"github.com/example/parish-portal/internal/push"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Hub keeps websocket subscribers grouped by topic and fans published events
// out to them. It only reaches subscribers connected to this process.
type Hub struct {
	mu       sync.RWMutex
	topics   map[string]map[*hubClient]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type hubClient struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	topic string
	once  sync.Once
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.Default(logger),
	}
}

var _ push.Publisher = (*Hub)(nil)

// Publish encodes ev and queues it for every subscriber of ev.Topic. Slow
// subscribers whose buffer is full are disconnected.
func (h *Hub) Publish(ctx context.Context, ev notification.Event) error {
	body, err := push.Encode(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	var slow []*hubClient
	for client := range h.topics[ev.Topic] {
		select {
		case client.send <- body:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		logging.Scoped(ctx, h.logger, "hub", "publish", "topic", ev.Topic).WarnContext(ctx, "dropping slow websocket subscriber")
		h.unregister(client)
	}
	return nil
}

// Subscribers reports how many connections listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) register(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[client.topic] == nil {
		h.topics[client.topic] = make(map[*hubClient]struct{})
	}
	h.topics[client.topic][client] = struct{}{}
}

func (h *Hub) unregister(client *hubClient) {
	h.mu.Lock()
	if clients, ok := h.topics[client.topic]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.topics, client.topic)
			}
		}
	}
	h.mu.Unlock()
	client.once.Do(func() { close(client.send) })
}

// ServeWS upgrades the request and subscribes it to the topic query
// parameter. Callers may only listen on their own user topic and the topic
// of their church.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	responder := newResponder(h.logger)
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingPrincipal)
		return
	}
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if !topicAllowed(principal, topic) {
		responder.writeError(r.Context(), w, http.StatusForbidden, errForbiddenTopic)
		return
	}

	logger := logging.Scoped(r.Context(), h.logger, "hub", "subscribe", "topic", topic, "user_id", principal.UserID)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &hubClient{hub: h, conn: conn, send: make(chan []byte, sendBuffer), topic: topic}
	h.register(client)
	logger.InfoContext(r.Context(), "websocket subscribed")

	go client.writePump()
	client.readPump()
	logger.InfoContext(r.Context(), "websocket unsubscribed")
}

func topicAllowed(principal Principal, topic string) bool {
	switch {
	case topic == "":
		return false
	case topic == notification.UserTopic(principal.UserID):
		return true
	case principal.ChurchID != "" && topic == notification.OrganizationTopic(principal.ChurchID):
		return true
	}
	return false
}

// readPump discards inbound frames and returns when the peer goes away.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
