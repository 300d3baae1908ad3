package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/websocket"

	enginesync "github.com/omnivore-app/logseq-omnivore/internal/sync"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func TestServerStartStop(t *testing.T) {
	server := newTestServer(t)
	if server.Addr() == "" {
		t.Fatal("server address is empty")
	}
}

func TestEventBroadcast(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitForClients(t, server, 1)

	server.Notify(enginesync.Event{
		Type: enginesync.EventItemSynced,
		Slug: "my-article",
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var e enginesync.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if e.Type != enginesync.EventItemSynced || e.Slug != "my-article" {
		t.Errorf("event = %+v", e)
	}
	if e.Time.IsZero() {
		t.Error("event timestamp not set")
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	server := newTestServer(t)

	// Far more events than the queue holds; Notify must return anyway.
	for i := 0; i < 1000; i++ {
		server.Notify(enginesync.Event{Type: enginesync.EventPageFetched})
	}
}

func TestClientDisconnect(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	waitForClients(t, server, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, 0)
}

func waitForClients(t *testing.T, server *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (now %d)", want, server.ClientCount())
}
