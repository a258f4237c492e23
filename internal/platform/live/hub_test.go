package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/psicoagenda/agenda/internal/platform/notification"
)

func registered(h *Hub) *Client {
	c := newClient()
	h.Register(c)
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return ev
	default:
		t.Fatal("expected a queued event")
		return Event{}
	}
}

func TestWeekTopic(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local), "week/2026-03-02"},
		{time.Date(2026, 3, 4, 15, 30, 0, 0, time.Local), "week/2026-03-02"},
		{time.Date(2026, 3, 8, 23, 59, 0, 0, time.Local), "week/2026-03-02"},
		{time.Date(2026, 3, 9, 9, 0, 0, 0, time.Local), "week/2026-03-09"},
	}
	for _, tt := range tests {
		if got := WeekTopic(tt.at); got != tt.want {
			t.Errorf("WeekTopic(%v) = %s, want %s", tt.at, got, tt.want)
		}
	}
}

func TestHub_RegisterSubscribesToAll(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := registered(h)

	if h.ClientCount() != 1 || h.TopicCount(TopicAll) != 1 {
		t.Fatalf("expected one client on %s, got %d/%d", TopicAll, h.ClientCount(), h.TopicCount(TopicAll))
	}

	h.Unregister(c)
	if h.ClientCount() != 0 || h.TopicCount(TopicAll) != 0 {
		t.Errorf("expected hub empty after unregister")
	}
	if _, open := <-c.Send; open {
		t.Error("expected Send closed")
	}
	h.Unregister(c)
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := registered(h)

	h.process(c, ClientMessage{Action: "subscribe", Topics: []string{"week/2026-03-02", "week/2026-03-09"}})
	if h.TopicCount("week/2026-03-02") != 1 || h.TopicCount("week/2026-03-09") != 1 {
		t.Fatal("expected both week topics subscribed")
	}
	h.process(c, ClientMessage{Action: "unsubscribe", Topics: []string{"week/2026-03-02"}})
	if h.TopicCount("week/2026-03-02") != 0 || h.TopicCount("week/2026-03-09") != 1 {
		t.Error("expected only the first week dropped")
	}
	h.process(c, ClientMessage{Action: "shout", Topics: []string{"x"}})
	if h.TopicCount("x") != 0 {
		t.Error("unknown action must be ignored")
	}

	h.Unregister(c)
	h.Subscribe(c, []string{"late"})
	if h.TopicCount("late") != 0 {
		t.Error("unregistered client must not subscribe")
	}
}

func TestHub_DispatchRoutesByWeek(t *testing.T) {
	h := NewHub(zerolog.Nop())
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return stamp }

	everything := registered(h)
	thisWeek := registered(h)
	h.Unsubscribe(thisWeek, []string{TopicAll})
	h.Subscribe(thisWeek, []string{"week/2026-03-02"})
	otherWeek := registered(h)
	h.Unsubscribe(otherWeek, []string{TopicAll})
	h.Subscribe(otherWeek, []string{"week/2026-03-09"})

	h.Dispatch(notification.Event{
		Kind:          notification.KindBooked,
		AppointmentID: "a-1",
		StartsAt:      time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local),
	})

	ev := receive(t, everything)
	if ev.Type != "appointment-booked" || ev.Topic != TopicAll || ev.AppointmentID != "a-1" || !ev.Timestamp.Equal(stamp) {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev := receive(t, thisWeek); ev.Topic != "week/2026-03-02" {
		t.Errorf("expected week topic, got %s", ev.Topic)
	}
	if len(otherWeek.Send) != 0 {
		t.Error("other week must not receive the event")
	}
}

func TestHub_BroadcastSkipsFullClients(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := registered(h)
	for i := 0; i < sendBuffer+5; i++ {
		h.Broadcast(TopicAll, Event{Type: "appointment-updated"})
	}
	if len(c.Send) != sendBuffer {
		t.Errorf("expected buffer capped at %d, got %d", sendBuffer, len(c.Send))
	}
}

func TestHub_Close(t *testing.T) {
	h := NewHub(zerolog.Nop())
	registered(h)
	registered(h)
	h.Close()
	if h.ClientCount() != 0 {
		t.Errorf("expected no clients after Close, got %d", h.ClientCount())
	}
}

func TestHandler_RejectsPlainRequest(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/live", nil), rec)
	if err := h.Connect(c); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-websocket request, got %d", rec.Code)
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"http://localhost:3000"})
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("Origin", "http://evil.test")
	if h.upgrader.CheckOrigin(req) {
		t.Error("unexpected origin accepted")
	}
	req.Header.Set("Origin", "http://localhost:3000")
	if !h.upgrader.CheckOrigin(req) {
		t.Error("configured origin rejected")
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, nil).RegisterRoutes(e.Group("/api/v1"))
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/live"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	if err := conn.WriteMessage(gorillawebsocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"week/2026-03-02"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("week/2026-03-02") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount("week/2026-03-02") != 1 {
		t.Fatal("subscription did not reach the hub")
	}

	hub.Broadcast("week/2026-03-02", Event{Type: "appointment-cancelled", AppointmentID: "a-9"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "appointment-cancelled" || got.AppointmentID != "a-9" || got.Topic != "week/2026-03-02" {
		t.Errorf("unexpected event %+v", got)
	}
}
