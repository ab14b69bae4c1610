package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

func receive(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case msg := <-client.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("client did not receive event")
	}
	return Event{}
}

func expectNothing(t *testing.T, client *Client) {
	t.Helper()
	select {
	case msg := <-client.Send:
		t.Fatalf("unexpected event: %s", msg)
	default:
	}
}

func TestHub_SubscribeAndBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	board := NewClient("north")
	other := NewClient("north")
	hub.Register(board)
	hub.Register(other)
	hub.Subscribe(board, []string{"queue:cardiology"})
	hub.Subscribe(other, []string{"queue:radiology"})

	hub.Broadcast(NewEvent("ticket.called", "queue:cardiology", "t-1", map[string]int{"number": 7}))
	// ClinicID is empty on the event above; nothing should be delivered.
	expectNothing(t, board)

	ev := NewEvent("ticket.called", "queue:cardiology", "t-1", map[string]int{"number": 7})
	ev.ClinicID = "north"
	hub.Broadcast(ev)

	got := receive(t, board)
	if got.Type != "ticket.called" || got.ResourceID != "t-1" {
		t.Errorf("unexpected event: %+v", got)
	}
	if string(got.Data) != `{"number":7}` {
		t.Errorf("unexpected data: %s", got.Data)
	}
	expectNothing(t, other)
}

func TestHub_ClinicIsolation(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	north := NewClient("north")
	south := NewClient("south")
	hub.Register(north)
	hub.Register(south)
	hub.Subscribe(north, []string{"queue:er"})
	hub.Subscribe(south, []string{"queue:er"})

	ctx := db.WithClinic(context.Background(), "south")
	if err := hub.Publish(ctx, NewEvent("ticket.created", "queue:er", "", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if ev := receive(t, south); ev.ClinicID != "south" {
		t.Errorf("expected clinic south, got %s", ev.ClinicID)
	}
	expectNothing(t, north)
}

func TestHub_UnsubscribeAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient("north")
	hub.Register(client)
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"a", "b"}})

	if hub.TopicCount("north", "a") != 1 || hub.TopicCount("north", "b") != 1 {
		t.Fatal("expected subscriptions on a and b")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"a"}})
	if hub.TopicCount("north", "a") != 0 {
		t.Error("expected a to be empty after unsubscribe")
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("north", "b") != 0 {
		t.Error("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send to be closed")
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &Client{ID: "slow", ClinicID: "north", Send: make(chan []byte), topics: map[string]struct{}{}}
	hub.Register(slow)
	hub.Subscribe(slow, []string{"queue:er"})

	done := make(chan struct{})
	go func() {
		ev := NewEvent("x", "queue:er", "", nil)
		ev.ClinicID = "north"
		hub.Broadcast(ev)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	h := NewHandler(hub, nil)
	e.GET("/ws", func(c echo.Context) error {
		ctx := db.WithClinic(c.Request().Context(), "north")
		c.SetRequest(c.Request().WithContext(ctx))
		return h.HandleConnect(c)
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topic=queue:er"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("north", "queue:er") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev := NewEvent("ticket.called", "queue:er", "t-9", nil)
	ev.ClinicID = "north"
	hub.Broadcast(ev)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ResourceID != "t-9" {
		t.Errorf("expected t-9, got %s", got.ResourceID)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"https://clinic.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	if h.upgrader.CheckOrigin(req) {
		t.Error("expected foreign origin to be rejected")
	}
	req.Header.Set("Origin", "https://clinic.example")
	if !h.upgrader.CheckOrigin(req) {
		t.Error("expected configured origin to be accepted")
	}
}
