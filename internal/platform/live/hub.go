// Package live pushes agenda changes to connected UI clients over
// WebSockets so open week views can refresh without polling.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/psicoagenda/agenda/internal/platform/notification"
)

// TopicAll receives every event. Week topics ("week/2026-03-02") receive the
// events of appointments starting in that Monday-to-Sunday week.
const TopicAll = "agenda"

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// Event is the JSON frame sent to clients.
type Event struct {
	Type          string    `json:"type"`
	Topic         string    `json:"topic"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	StartsAt      time.Time `json:"starts_at"`
	Timestamp     time.Time `json:"timestamp"`
}

// ClientMessage is an inbound frame: {"action":"subscribe","topics":[...]}.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// WeekTopic names the topic for the week containing t.
func WeekTopic(t time.Time) string {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	monday := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	return "week/" + monday.Format("2006-01-02")
}

type Client struct {
	ID   string
	Send chan []byte

	topics map[string]struct{}
}

func newClient() *Client {
	return &Client{ID: uuid.NewString(), Send: make(chan []byte, sendBuffer), topics: map[string]struct{}{}}
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> clients
	all     map[*Client]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds c subscribed to TopicAll.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.all[c] = struct{}{}
	h.mu.Unlock()
	h.Subscribe(c, []string{TopicAll})
}

// Unregister drops c from every topic and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.drop(topic, c)
	}
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) drop(topic string, c *Client) {
	subs, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, topic)
	}
	delete(c.topics, topic)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][c] = struct{}{}
		c.topics[topic] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.drop(topic, c)
	}
}

func (h *Hub) process(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Broadcast queues ev for every subscriber of topic. Clients with a full
// buffer miss the event.
func (h *Hub) Broadcast(topic string, ev Event) {
	ev.Topic = topic
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("live: failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[topic] {
		select {
		case c.Send <- data:
		default:
			h.logger.Debug().Str("client_id", c.ID).Str("topic", topic).Msg("live: client buffer full, event dropped")
		}
	}
}

// Dispatch publishes an appointment notification to TopicAll and to the
// week topic of the appointment.
func (h *Hub) Dispatch(n notification.Event) {
	ev := Event{
		Type:          string(n.Kind),
		AppointmentID: n.AppointmentID,
		StartsAt:      n.StartsAt,
		Timestamp:     h.now(),
	}
	h.Broadcast(TopicAll, ev)
	h.Broadcast(WeekTopic(n.StartsAt), ev)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.Unregister(c)
	}
}

// Handler upgrades GET /live to a WebSocket bound to the hub.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts handshakes from origins; an empty list or "*" accepts
// any origin.
func NewHandler(hub *Hub, origins []string) *Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/live", h.Connect)
}

func (h *Handler) Connect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote the error response.
		return nil
	}

	client := newClient()
	h.hub.Register(client)
	h.hub.logger.Debug().Str("client_id", client.ID).Msg("live: client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.hub.process(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for message := range client.Send {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
	ws.WriteMessage(gorillawebsocket.CloseMessage, gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
}
