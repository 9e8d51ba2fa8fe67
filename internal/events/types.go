package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of lifecycle event the Agent Manager emits.
type EventType string

// Event type constants, matching the Agent Manager's emitted-events vocabulary.
const (
	EventManagerStarted    EventType = "manager-started"
	EventManagerStopped    EventType = "manager-stopped"
	EventTaskCreated       EventType = "task-created"
	EventTaskDispatched    EventType = "task-dispatched"
	EventTaskCompleted     EventType = "task-completed"
	EventTaskFailed        EventType = "task-failed"
	EventTaskRetry         EventType = "task-retry"
	EventTaskCancelled     EventType = "task-cancelled"
	EventSlotFreed         EventType = "slot-freed"
	EventSlotsRecomputed   EventType = "slots-recomputed"
	EventMemoryWarning     EventType = "memory-warning"
	EventEmergencyEviction EventType = "emergency-eviction"
	EventEmergencyStop     EventType = "emergency-stop"
	EventSystemHealth      EventType = "system-health"
	EventMonitoringError   EventType = "monitoring-error"
)

// Priority constants for events, mirroring task priority ordering.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

// Event is a single lifecycle notification published on the Bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent creates a new event with an auto-generated ID and timestamp.
func NewEvent(eventType EventType, source, target string, priority int, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// AllEventTypes returns all defined event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventManagerStarted,
		EventManagerStopped,
		EventTaskCreated,
		EventTaskDispatched,
		EventTaskCompleted,
		EventTaskFailed,
		EventTaskRetry,
		EventTaskCancelled,
		EventSlotFreed,
		EventSlotsRecomputed,
		EventMemoryWarning,
		EventEmergencyEviction,
		EventEmergencyStop,
		EventSystemHealth,
		EventMonitoringError,
	}
}
