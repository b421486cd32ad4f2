package relay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/polarsystems/polarmanager/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// relayServer accepts websocket sessions and forwards everything the client
// sends onto channels.
type relayServer struct {
	srv      *httptest.Server
	auth     chan string
	hellos   chan map[string]string
	events   chan event.Event
	sessions chan struct{}
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	rs := &relayServer{
		auth:     make(chan string, 4),
		hellos:   make(chan map[string]string, 4),
		events:   make(chan event.Event, 64),
		sessions: make(chan struct{}, 4),
	}
	upgrader := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.sessions <- struct{}{}
		defer func() { _ = conn.Close() }()

		var hello map[string]string
		if err := conn.ReadJSON(&hello); err != nil {
			return
		}
		rs.hellos <- hello

		for {
			var e event.Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			rs.events <- e
		}
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *relayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

func recvString(t *testing.T, ch chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func TestSessionHelloAndBearer(t *testing.T) {
	rs := newRelayServer(t)
	bus := event.NewBus()
	c := New(rs.wsURL(), "tok-123", "client-7", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Loop(ctx, bus)

	if got := recvString(t, rs.auth, "auth header"); got != "Bearer tok-123" {
		t.Fatalf("expected bearer header, got %q", got)
	}
	select {
	case hello := <-rs.hellos:
		if hello["type"] != "hello" || hello["client_id"] != "client-7" {
			t.Fatalf("unexpected hello: %v", hello)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for hello")
	}
}

func TestEventsForwardedInOrder(t *testing.T) {
	rs := newRelayServer(t)
	bus := event.NewBus()
	bus.Publish(event.New(event.TypeStatus, "s1", map[string]any{"seq": "0"}))
	bus.Publish(event.New(event.TypeCrash, "s1", map[string]any{"seq": "1"}))
	bus.Publish(event.New(event.TypeHealth, "s2", map[string]any{"seq": "2"}))

	c := New(rs.wsURL(), "", "client-1", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Loop(ctx, bus)

	wantTypes := []string{event.TypeStatus, event.TypeCrash, event.TypeHealth}
	for i, want := range wantTypes {
		select {
		case e := <-rs.events:
			if e.Type != want {
				t.Fatalf("event %d: expected type %q, got %q", i, want, e.Type)
			}
			if got := e.Data["seq"]; got != strconv.Itoa(i) {
				t.Fatalf("event %d out of order: seq=%v", i, got)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	// No token configured means no Authorization header.
	if got := recvString(t, rs.auth, "auth header"); got != "" {
		t.Fatalf("expected empty auth header, got %q", got)
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	var drops atomic.Int32
	upgrader := websocket.Upgrader{}
	sessions := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sessions <- struct{}{}
		if drops.Add(1) == 1 {
			// First session: drop immediately to force a redial.
			_ = conn.Close()
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := event.NewBus()
	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), "", "client-1", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Loop(ctx, bus)

	for i := 0; i < 2; i++ {
		select {
		case <-sessions:
		case <-time.After(6 * time.Second):
			t.Fatalf("expected session %d within the reconnect window", i+1)
		}
	}
}
