package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/machine-allocator/internal/infrastructure/config"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/logging"
	"github.com/nerrad567/machine-allocator/internal/machine"
)

func testWebSocketConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Enabled:        true,
		Path:           "/ws",
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
}

// wsServer starts a real listener since the upgrade needs a hijackable connection.
func wsServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(testWebSocketConfig(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	h := testServer(t, NewRouter(&fakeEngine{}, staticIdentity{}, nil), func(d *Deps) {
		d.WebSocket = testWebSocketConfig()
		d.Hub = hub
	})
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Deadline only bounds the test
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestNew_RequiresHubWhenWebSocketEnabled(t *testing.T) {
	_, err := New(Deps{
		Logger:    logging.Discard(),
		Router:    NewRouter(&fakeEngine{}, staticIdentity{}, nil),
		WebSocket: testWebSocketConfig(),
	})
	if err == nil {
		t.Error("New() without hub should fail when websocket is enabled")
	}
}

func TestWebSocket_RejectsInvalidToken(t *testing.T) {
	results := &recordingResults{}
	hub := NewHub(testWebSocketConfig(), logging.Discard())
	h := testServer(t, NewRouter(&fakeEngine{}, staticIdentity{}, results), func(d *Deps) {
		d.WebSocket = testWebSocketConfig()
		d.Hub = hub
	})

	for _, path := range []string{"/ws", "/ws?token=forged"} {
		rec := do(t, h, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, rec.Code)
		}
	}
	if results.unauthorized != 2 {
		t.Errorf("unauthorized = %d, want 2", results.unauthorized)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocket_StreamsSubscribedTransitions(t *testing.T) {
	hub, base := wsServer(t)
	conn := dial(t, base+"/ws?token="+validToken)

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{LocationChannel("loc-1")}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if resp := readMessage(t, conn); resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	job := "job-7"
	hub.ObserveTransition(context.Background(), machine.Event{
		MachineID: "elsewhere", LocationID: "loc-2",
		From: machine.StatusAvailable, To: machine.StatusAwaitingDropoff, JobID: &job,
	})
	hub.ObserveTransition(context.Background(), machine.Event{
		MachineID: "washer-1", LocationID: "loc-1",
		From: machine.StatusAvailable, To: machine.StatusAwaitingDropoff, JobID: &job,
	})

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != LocationChannel("loc-1") {
		t.Fatalf("message = %+v, want loc-1 event", msg)
	}
	raw, _ := json.Marshal(msg.Payload) //nolint:errcheck // round-trip of decoded JSON
	var ev machine.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if ev.MachineID != "washer-1" || ev.To != machine.StatusAwaitingDropoff {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	_, base := wsServer(t)
	conn := dial(t, base+"/ws?token="+validToken)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypePong || msg.ID != "p" {
		t.Errorf("ping answer = %+v, want pong", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "reboot", ID: "x"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError {
		t.Errorf("unknown type answer = %+v, want error", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError {
		t.Errorf("garbage answer = %+v, want error", msg)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	hub := NewHub(testWebSocketConfig(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelTransitions: {}}}
	hub.Register(client)
	hub.Broadcast(ChannelTransitions, "hello")
	if len(client.send) != 1 {
		t.Fatalf("send buffer = %d, want 1 queued message", len(client.send))
	}

	cancel()
	<-done
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after Run returned, want 0", hub.ClientCount())
	}

	// Unregister after shutdown must not close the channel twice.
	hub.Unregister(client)
	client.trySend([]byte("late"))
}
