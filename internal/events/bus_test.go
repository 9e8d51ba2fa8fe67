package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe("server", []EventType{EventTaskDispatched})

	event := NewEvent(EventTaskDispatched, "agent-manager", "server", PriorityNormal, map[string]interface{}{
		"task_id": "TASK-1",
	})
	bus.Publish(event)

	select {
	case received := <-ch:
		if received.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, received.ID)
		}
		if received.Type != EventTaskDispatched {
			t.Errorf("Expected event type %s, got %s", EventTaskDispatched, received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive event within timeout")
	}

	bus.Unsubscribe("server", ch)
}

func TestBus_FilterByType(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe("server", []EventType{EventTaskCompleted})

	completedEvent := NewEvent(EventTaskCompleted, "agent-manager", "server", PriorityNormal, map[string]interface{}{
		"task_id": "TASK-1",
	})
	bus.Publish(completedEvent)

	select {
	case received := <-ch:
		if received.Type != EventTaskCompleted {
			t.Errorf("Expected event type %s, got %s", EventTaskCompleted, received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive task-completed event")
	}

	dispatchedEvent := NewEvent(EventTaskDispatched, "agent-manager", "server", PriorityNormal, map[string]interface{}{
		"task_id": "TASK-2",
	})
	bus.Publish(dispatchedEvent)

	select {
	case received := <-ch:
		t.Errorf("Should not have received event type %s", received.Type)
	case <-time.After(100 * time.Millisecond):
		// Expected timeout
	}

	bus.Unsubscribe("server", ch)
}

func TestBus_BroadcastAll(t *testing.T) {
	bus := NewBus(nil)

	ch1 := bus.Subscribe("observer-1", []EventType{EventSystemHealth})
	ch2 := bus.Subscribe("observer-2", []EventType{EventSystemHealth})
	ch3 := bus.Subscribe("observer-3", []EventType{EventSystemHealth})

	event := NewEvent(EventSystemHealth, "sysmonitor", "all", PriorityNormal, map[string]interface{}{
		"memory_pressure": 0.42,
	})
	bus.Publish(event)

	observers := []struct {
		name string
		ch   <-chan Event
	}{
		{"observer-1", ch1},
		{"observer-2", ch2},
		{"observer-3", ch3},
	}

	for _, observer := range observers {
		select {
		case received := <-observer.ch:
			if received.ID != event.ID {
				t.Errorf("%s: Expected event ID %s, got %s", observer.name, event.ID, received.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s: Did not receive broadcast event", observer.name)
		}
	}

	bus.Unsubscribe("observer-1", ch1)
	bus.Unsubscribe("observer-2", ch2)
	bus.Unsubscribe("observer-3", ch3)
}

func TestBus_AllSubscriber(t *testing.T) {
	bus := NewBus(nil)

	allCh := bus.Subscribe("all", []EventType{EventTaskFailed})
	observerCh := bus.Subscribe("server", []EventType{EventTaskFailed})

	event := NewEvent(EventTaskFailed, "agent-manager", "server", PriorityNormal, map[string]interface{}{
		"task_id": "TASK-9",
	})
	bus.Publish(event)

	select {
	case received := <-observerCh:
		if received.ID != event.ID {
			t.Errorf("server: Expected event ID %s, got %s", event.ID, received.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("server did not receive event")
	}

	select {
	case received := <-allCh:
		if received.ID != event.ID {
			t.Errorf("all subscriber: Expected event ID %s, got %s", event.ID, received.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("all subscriber did not receive event")
	}

	bus.Unsubscribe("all", allCh)
	bus.Unsubscribe("server", observerCh)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe("server", []EventType{EventTaskCreated})

	event1 := NewEvent(EventTaskCreated, "agent-manager", "server", PriorityNormal, map[string]interface{}{
		"task_id": "TASK-1",
	})
	bus.Publish(event1)

	select {
	case <-ch:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive first event")
	}

	bus.Unsubscribe("server", ch)

	event2 := NewEvent(EventTaskCreated, "agent-manager", "server", PriorityNormal, map[string]interface{}{
		"task_id": "TASK-2",
	})
	bus.Publish(event2)

	select {
	case event, ok := <-ch:
		if ok {
			t.Errorf("Should not have received event after unsubscribe: %+v", event)
		}
	case <-time.After(100 * time.Millisecond):
		// Also acceptable - no more events
	}
}

func TestBus_MultipleSubscriptionsSameTarget(t *testing.T) {
	bus := NewBus(nil)

	ch1 := bus.Subscribe("server", []EventType{EventSlotFreed})
	ch2 := bus.Subscribe("server", []EventType{EventSlotFreed})

	event := NewEvent(EventSlotFreed, "agent-manager", "server", PriorityNormal, map[string]interface{}{
		"slot_count": 3,
	})
	bus.Publish(event)

	select {
	case <-ch1:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch1 did not receive event")
	}

	select {
	case <-ch2:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2 did not receive event")
	}

	bus.Unsubscribe("server", ch1)
	bus.Unsubscribe("server", ch2)
}

func TestBus_NoTypeFilter(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe("server", nil)

	createdEvent := NewEvent(EventTaskCreated, "agent-manager", "server", PriorityNormal, map[string]interface{}{})
	bus.Publish(createdEvent)

	dispatchedEvent := NewEvent(EventTaskDispatched, "agent-manager", "server", PriorityNormal, map[string]interface{}{})
	bus.Publish(dispatchedEvent)

	warningEvent := NewEvent(EventMemoryWarning, "agent-manager", "server", PriorityNormal, map[string]interface{}{})
	bus.Publish(warningEvent)

	receivedTypes := make(map[EventType]bool)
	for i := 0; i < 3; i++ {
		select {
		case event := <-ch:
			receivedTypes[event.Type] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("Did not receive all events")
		}
	}

	if !receivedTypes[EventTaskCreated] {
		t.Error("Did not receive task-created event")
	}
	if !receivedTypes[EventTaskDispatched] {
		t.Error("Did not receive task-dispatched event")
	}
	if !receivedTypes[EventMemoryWarning] {
		t.Error("Did not receive memory-warning event")
	}

	bus.Unsubscribe("server", ch)
}

func TestBus_FullChannelNonBlocking(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe("server", []EventType{EventTaskCompleted})

	for i := 0; i < 100; i++ {
		event := NewEvent(EventTaskCompleted, "agent-manager", "server", PriorityNormal, map[string]interface{}{
			"index": i,
		})
		bus.Publish(event)
	}

	done := make(chan bool)
	go func() {
		event := NewEvent(EventTaskCompleted, "agent-manager", "server", PriorityNormal, map[string]interface{}{
			"index": 100,
		})
		bus.Publish(event)
		done <- true
	}()

	select {
	case <-done:
		// Expected - publish should not block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked on full channel")
	}

	bus.Unsubscribe("server", ch)
}
