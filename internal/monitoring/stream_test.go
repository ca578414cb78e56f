package monitoring

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, hm *HealthMonitor) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hm.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev.Type, ev.Payload
}

func TestStreamEvents(t *testing.T) {
	hm := NewHealthMonitor(nil)
	conn := dialStream(t, hm)

	// a status round trip guarantees the client is registered
	if err := conn.WriteJSON(Event{Type: "status"}); err != nil {
		t.Fatal(err)
	}
	if typ, _ := readEvent(t, conn); typ != "status" {
		t.Fatalf("got %q, want status", typ)
	}

	hm.Begin(2)
	typ, payload := readEvent(t, conn)
	if typ != "start" || !strings.Contains(string(payload), `"total":2`) {
		t.Errorf("start event = %s %s", typ, payload)
	}

	hm.ConfigDone(result("ffn.w13", 0.4, 0.2))
	typ, payload = readEvent(t, conn)
	var info ResultInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		t.Fatal(err)
	}
	if typ != "result" || info.Name != "ffn.w13" || info.Speedup != 2 {
		t.Errorf("result event = %s %+v", typ, info)
	}

	hm.Finish(nil)
	if typ, _ := readEvent(t, conn); typ != "finish" {
		t.Errorf("got %q, want finish", typ)
	}
}

func TestStreamUnknownMessage(t *testing.T) {
	hm := NewHealthMonitor(nil)
	conn := dialStream(t, hm)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if typ, _ := readEvent(t, conn); typ != "error" {
		t.Errorf("got %q, want error", typ)
	}
	if err := conn.WriteJSON(Event{Type: "bogus"}); err != nil {
		t.Fatal(err)
	}
	if typ, payload := readEvent(t, conn); typ != "error" || !strings.Contains(string(payload), "bogus") {
		t.Errorf("got %s %s", typ, payload)
	}
}

func TestStopClosesStreams(t *testing.T) {
	hm := NewHealthMonitor(nil)
	conn := dialStream(t, hm)

	if err := conn.WriteJSON(Event{Type: "status"}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, conn)
	if hm.hub.count() != 1 {
		t.Fatalf("hub has %d clients", hm.hub.count())
	}

	if err := hm.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the stream to close after Stop")
	}
	if hm.hub.count() != 0 {
		t.Errorf("hub has %d clients after Stop", hm.hub.count())
	}
}
