// internal/natsbridge/bridge_test.go
package natsbridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/filetidy/filetidy/internal/events"
)

func startTestServer(t *testing.T, port int) *EmbeddedServer {
	t.Helper()
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{Port: port, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func startTestServerWithJetStream(t *testing.T, port int) *EmbeddedServer {
	t.Helper()
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{Port: port, JetStream: true, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestBridgeForwardsTaskLifecycleEvent(t *testing.T) {
	srv := startTestServer(t, 14225)
	client, err := NewClient(srv.URL(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	received := make(chan TaskLifecycleMessage, 1)
	if _, err := client.Subscribe(SubjectAllTaskLifecycle, func(msg Message) {
		var m TaskLifecycleMessage
		if err := json.Unmarshal(msg.Data, &m); err == nil {
			received <- m
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	client.Flush()

	bus := events.NewBus(nil)
	bridge := NewBridge(client, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	bus.Publish(events.NewEvent(events.EventTaskCreated, "agentmgr", "all", events.PriorityNormal, map[string]interface{}{
		"task_id": "task-123",
		"kind":    "FileAnalysis",
	}))

	select {
	case msg := <-received:
		if msg.TaskID != "task-123" || msg.EventType != string(events.EventTaskCreated) {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded task lifecycle message")
	}
}

func TestBridgePublishOperationCommitted(t *testing.T) {
	srv := startTestServer(t, 14226)
	client, err := NewClient(srv.URL(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	received := make(chan OperationCommittedMessage, 1)
	if _, err := client.Subscribe(SubjectOperationCommitted, func(msg Message) {
		var m OperationCommittedMessage
		if err := json.Unmarshal(msg.Data, &m); err == nil {
			received <- m
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	client.Flush()

	bridge := NewBridge(client, events.NewBus(nil), nil)
	if err := bridge.PublishOperationCommitted("tx-1", true, 3); err != nil {
		t.Fatalf("PublishOperationCommitted: %v", err)
	}

	select {
	case msg := <-received:
		if msg.TransactionID != "tx-1" || !msg.Succeeded || msg.Operations != 3 {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for operation-committed message")
	}
}

func TestStreamManagerSetupStreams(t *testing.T) {
	srv := startTestServerWithJetStream(t, 14227)
	client, err := NewClient(srv.URL(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	sm, err := NewStreamManager(client.RawConn())
	if err != nil {
		t.Fatalf("NewStreamManager: %v", err)
	}
	if err := sm.SetupStreams(); err != nil {
		t.Fatalf("SetupStreams: %v", err)
	}
	// Re-running should hit the update path rather than failing.
	if err := sm.SetupStreams(); err != nil {
		t.Fatalf("SetupStreams (second run): %v", err)
	}
}
