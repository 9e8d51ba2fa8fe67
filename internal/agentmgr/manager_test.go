// internal/agentmgr/manager_test.go
package agentmgr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/filetidy/filetidy/internal/config"
	"github.com/filetidy/filetidy/internal/events"
	"github.com/filetidy/filetidy/internal/inference"
	"github.com/filetidy/filetidy/internal/sysmonitor"
	"github.com/filetidy/filetidy/internal/tasks"
)

func newTestManager(t *testing.T, handler http.HandlerFunc) (*Manager, *events.Bus) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := inference.NewClient(server.URL, 2*time.Second, 5*time.Millisecond, 0, 5, time.Second)
	bus := events.NewBus(nil)
	queue := tasks.NewQueue(100)

	cfg := config.Defaults().AgentManager
	cfg.MaxConcurrentSlots = 8

	return NewManager(cfg, queue, client, bus, "llama3"), bus
}

func healthWithSlots(n int) sysmonitor.SystemHealth {
	return sysmonitor.SystemHealth{
		Timestamp: time.Now(),
		Memory: sysmonitor.MemoryStats{
			AvailableForAgentsMB: int64(float64(n) * defaultModelMemoryMB * config.Defaults().AgentManager.SafetyFactor),
			Pressure:             0.1,
		},
		IsUnderStress: false,
	}
}

func healthCheckTask(priority tasks.Priority) *tasks.Task {
	return tasks.NewTask(tasks.KindHealthCheck, priority, 5000, 0, defaultModelMemoryMB)
}

func waitForEvent(t *testing.T, ch <-chan events.Event, want events.EventType, timeout time.Duration) *events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return &ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
			return nil
		}
	}
}

func TestManagerPriorityPreemption(t *testing.T) {
	release := make(chan struct{})
	var gate chan struct{}

	m, bus := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	})
	_ = gate

	sub := bus.Subscribe("all", []events.EventType{events.EventTaskDispatched})

	// Force a single-slot capacity.
	m.OnHealthUpdate(healthWithSlots(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	low := healthCheckTask(tasks.PriorityLow)
	high := healthCheckTask(tasks.PriorityHigh)
	if err := m.Submit(low); err != nil {
		t.Fatalf("submit low: %v", err)
	}
	if err := m.Submit(high); err != nil {
		t.Fatalf("submit high: %v", err)
	}

	ev := waitForEvent(t, sub, events.EventTaskDispatched, time.Second)
	dispatchedID := ev.Payload["task_id"]
	if dispatchedID != low.ID {
		t.Fatalf("expected the already-queued low task to claim the only slot first, got %v", dispatchedID)
	}

	close(release)
}

func TestManagerEmergencyEvictionCancelsLowestPriorityHalf(t *testing.T) {
	release := make(chan struct{})
	m, bus := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	})

	cancelled := bus.Subscribe("all", nil)

	m.OnHealthUpdate(healthWithSlots(4))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer func() {
		close(release)
		m.Stop()
	}()

	priorities := []tasks.Priority{tasks.PriorityLow, tasks.PriorityLow, tasks.PriorityNormal, tasks.PriorityHigh}
	for _, p := range priorities {
		if err := m.Submit(healthCheckTask(p)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	// Drain task-dispatched events for all 4.
	dispatched := 0
	deadline := time.After(time.Second)
	for dispatched < 4 {
		select {
		case ev := <-cancelled:
			if ev.Type == events.EventTaskDispatched {
				dispatched++
			}
		case <-deadline:
			t.Fatalf("only %d/4 tasks dispatched before timeout", dispatched)
		}
	}

	m.OnHealthUpdate(sysmonitor.SystemHealth{Memory: sysmonitor.MemoryStats{Pressure: 0.97, AvailableForAgentsMB: defaultModelMemoryMB}})

	ev := waitForEvent(t, cancelled, events.EventEmergencyEviction, time.Second)
	if ev.Payload["evictedCount"] != 2 {
		t.Errorf("expected 2 tasks evicted (ceil(4/2)), got %v", ev.Payload["evictedCount"])
	}
}

func TestManagerRetriesTransientInferenceFailure(t *testing.T) {
	attempts := 0
	m, bus := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	})

	sub := bus.Subscribe("all", []events.EventType{events.EventTaskRetry, events.EventTaskCompleted})
	m.OnHealthUpdate(healthWithSlots(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	task := tasks.NewTask(tasks.KindFileAnalysis, tasks.PriorityNormal, 5000, 2, defaultModelMemoryMB)
	task.FileAnalysis = &tasks.FileAnalysisPayload{Path: "/etc/hostname", Model: "llama3", Prompt: "summarize"}
	if err := m.Submit(task); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitForEvent(t, sub, events.EventTaskRetry, time.Second)
	waitForEvent(t, sub, events.EventTaskCompleted, time.Second)

	if attempts < 2 {
		t.Errorf("expected at least 2 attempts against the server, got %d", attempts)
	}
}

func TestManagerTimeoutDoesNotRetry(t *testing.T) {
	block := make(chan struct{})
	m, bus := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer close(block)

	sub := bus.Subscribe("all", []events.EventType{events.EventTaskFailed, events.EventTaskRetry})
	m.OnHealthUpdate(healthWithSlots(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	task := tasks.NewTask(tasks.KindFileAnalysis, tasks.PriorityNormal, 50, 3, defaultModelMemoryMB)
	task.FileAnalysis = &tasks.FileAnalysisPayload{Path: "/etc/hostname", Model: "llama3", Prompt: "summarize"}
	if err := m.Submit(task); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ev := waitForEvent(t, sub, events.EventTaskFailed, 2*time.Second)
	if ev.Payload["error_kind"] != string(inference.ErrorKindTimeout) {
		t.Errorf("expected Timeout error_kind, got %v", ev.Payload["error_kind"])
	}

	got := m.queue.Get(task.ID)
	if got == nil || got.State != tasks.StateTimeout {
		t.Errorf("expected task left in Timeout state, got %+v", got)
	}
}
