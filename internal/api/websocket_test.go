package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/roadwatch/roadwatch/internal/core"
	"github.com/roadwatch/roadwatch/internal/events"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil {
		t.Error("clients map should be initialized")
	}
	if hub.broadcast == nil {
		t.Error("broadcast channel should be initialized")
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub()
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_BroadcastToRun(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Client subscribed to one run
	client1 := &Client{
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"run1": true},
	}
	// Client subscribed to all runs
	client2 := &Client{
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"*": true},
	}
	// Client subscribed to a different run
	client3 := &Client{
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"run2": true},
	}

	hub.register <- client1
	hub.register <- client2
	hub.register <- client3
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastToRun("run1", AccidentMessage(&events.Event{RunID: "run1", EventID: 1}))
	time.Sleep(10 * time.Millisecond)

	select {
	case <-client1.send:
	default:
		t.Error("client1 should receive message")
	}
	select {
	case <-client2.send:
	default:
		t.Error("client2 should receive message")
	}
	select {
	case <-client3.send:
		t.Error("client3 should not receive message")
	default:
		// Expected
	}
}

func TestHub_HandleWebSocket(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer ws.Close()

	// Give time for registration
	time.Sleep(50 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	pingMsg := Message{Type: MessageTypePing}
	if err := ws.WriteJSON(pingMsg); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(time.Second))
	var response Message
	if err := ws.ReadJSON(&response); err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}

	if response.Type != MessageTypePong {
		t.Errorf("Expected pong message, got %s", response.Type)
	}
}

func TestClient_HandleMessage_Subscribe(t *testing.T) {
	client := &Client{
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{},
	}

	msg, _ := json.Marshal(Message{Type: MessageTypeSubscribe, Data: []interface{}{"run1", "run2"}})
	client.handleMessage(msg)

	if !client.subscriptions["run1"] || !client.subscriptions["run2"] {
		t.Errorf("Subscriptions not applied: %v", client.subscriptions)
	}
}

func TestClient_HandleMessage_Unsubscribe(t *testing.T) {
	client := &Client{
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"run1": true},
	}

	msg, _ := json.Marshal(Message{Type: MessageTypeUnsubscribe, Data: []interface{}{"run1"}})
	client.handleMessage(msg)

	if client.subscriptions["run1"] {
		t.Error("Subscription not removed")
	}
}

func TestClient_HandleMessage_InvalidJSON(t *testing.T) {
	client := &Client{
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{},
	}

	// Must not panic
	client.handleMessage([]byte("{not json"))
}

func TestAccidentMessage(t *testing.T) {
	ev := &events.Event{RunID: "run1", EventID: 3, Frame: 75, TimeSeconds: 3, TimeHHMMSS: "0:00:03"}
	msg := AccidentMessage(ev)

	if msg.Type != MessageTypeAccident {
		t.Errorf("Expected accident type, got %s", msg.Type)
	}
	got, ok := msg.Data.(*events.Event)
	if !ok || got.EventID != 3 {
		t.Errorf("Unexpected message data: %v", msg.Data)
	}
}

func TestRunLifecycleReachesSubscribers(t *testing.T) {
	server, _ := setupServer(t)

	client := &Client{
		hub:           server.hub,
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"run1": true},
	}
	server.hub.register <- client
	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(core.RunLifecycleEvent{
		RunID:     "run1",
		Event:     "finished",
		Timestamp: time.Now(),
	})
	server.handleRunLifecycle(&nats.Msg{Subject: core.SubjectRunFinished, Data: payload})
	time.Sleep(10 * time.Millisecond)

	select {
	case raw := <-client.send:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Failed to decode message: %v", err)
		}
		if msg.Type != MessageTypeRunState {
			t.Errorf("Expected message type %q, got %q", MessageTypeRunState, msg.Type)
		}
		data, ok := msg.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("Unexpected data payload: %#v", msg.Data)
		}
		if data["run_id"] != "run1" {
			t.Errorf("Expected run_id run1, got %v", data["run_id"])
		}
		if data["status"] != string(events.RunCompleted) {
			t.Errorf("Expected status %s, got %v", events.RunCompleted, data["status"])
		}
	default:
		t.Fatal("Subscribed client should receive the run state message")
	}
}

func TestRunLifecycleDropsMalformedPayload(t *testing.T) {
	server, _ := setupServer(t)

	client := &Client{
		hub:           server.hub,
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"*": true},
	}
	server.hub.register <- client
	time.Sleep(10 * time.Millisecond)

	server.handleRunLifecycle(&nats.Msg{Subject: core.SubjectRunFailed, Data: []byte("{not json")})
	time.Sleep(10 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Malformed payload should not be broadcast")
	default:
	}
}
