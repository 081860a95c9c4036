package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = h.Stop(context.Background())
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitForClients blocks until the hub has registered n subscribers.
// Registration happens on the server goroutine after the handshake, so
// a successful dial alone is not enough.
func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		have := len(h.clients)
		h.mu.Unlock()
		if have == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, have)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	h, srv := startHub(t)
	a := dial(t, srv)
	b := dial(t, srv)

	waitForClients(t, h, 2)

	h.Publish(Event{Type: TypeTaskCreated, ProjectID: "p1", EntityID: "t1"})

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if got.Type != TypeTaskCreated || got.ProjectID != "p1" || got.EntityID != "t1" {
			t.Fatalf("unexpected event: %+v", got)
		}
		if got.At.IsZero() {
			t.Fatalf("publish should stamp the event time")
		}
	}
}

func TestPublishBeforeStartDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < 200; i++ {
		h.Publish(Event{Type: TypeTaskUpdated})
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	h := NewHub(nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, srv)
	waitForClients(t, h, 1)

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection should be closed after stop")
	}
}
