// internal/natsbridge/bridge.go
package natsbridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/filetidy/filetidy/internal/events"
)

// Bridge forwards events.Bus task-lifecycle, system-health, emergency and
// memory-warning events onto the embedded NATS server as a secondary,
// decoupled fan-out for out-of-process subscribers; other event types are
// not forwarded. Unlike the
// Bus's in-memory subscriptions, a NATS subscriber survives the publishing
// process and can attach after the fact.
type Bridge struct {
	client *Client
	bus    *events.Bus
	logger *log.Logger
}

// NewBridge creates a Bridge. logger defaults to log.Default() if nil.
func NewBridge(client *Client, bus *events.Bus, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{client: client, bus: bus, logger: logger}
}

// Run subscribes to every bus event and republishes the types publish maps
// to a NATS subject, dropping the rest, until ctx is done. Call it in its
// own goroutine.
func (b *Bridge) Run(ctx context.Context) {
	ch := b.bus.Subscribe("all", nil)
	defer b.bus.Unsubscribe("all", ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := b.publish(ev); err != nil {
				b.logger.Printf("natsbridge: publishing event %s: %v", ev.Type, err)
			}
		}
	}
}

func (b *Bridge) publish(ev events.Event) error {
	switch ev.Type {
	case events.EventTaskCreated, events.EventTaskDispatched, events.EventTaskCompleted,
		events.EventTaskFailed, events.EventTaskRetry, events.EventTaskCancelled:
		taskID, _ := ev.Payload["task_id"].(string)
		kind, _ := ev.Payload["kind"].(string)
		subject := fmt.Sprintf(SubjectTaskLifecycle, orPlaceholder(taskID))
		return b.client.PublishJSON(subject, TaskLifecycleMessage{
			TaskID: taskID, Kind: kind, EventType: string(ev.Type), Timestamp: ev.CreatedAt,
		})

	case events.EventSystemHealth:
		totalSlots, _ := ev.Payload["total_slots"].(int)
		availableSlots, _ := ev.Payload["available_slots"].(int)
		return b.client.PublishJSON(SubjectSystemHealth, SystemHealthMessage{
			TotalSlots: totalSlots, AvailableSlots: availableSlots, Timestamp: ev.CreatedAt,
		})

	case events.EventEmergencyStop, events.EventEmergencyEviction, events.EventMemoryWarning:
		reason, _ := ev.Payload["reason"].(string)
		if reason == "" {
			reason = string(ev.Type)
		}
		return b.client.PublishJSON(SubjectEmergency, EmergencyMessage{Reason: reason, Timestamp: ev.CreatedAt})

	default:
		return nil
	}
}

// PublishOperationCommitted announces a suggest.Pipeline batch's outcome.
// Called directly by the pipeline/server rather than routed through the
// Bus, since batch commits aren't modeled as Agent Manager lifecycle events.
func (b *Bridge) PublishOperationCommitted(transactionID string, succeeded bool, operations int) error {
	return b.client.PublishJSON(SubjectOperationCommitted, OperationCommittedMessage{
		TransactionID: transactionID, Succeeded: succeeded, Operations: operations, Timestamp: time.Now(),
	})
}

func orPlaceholder(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
