// internal/natsbridge/messages.go
package natsbridge

import "time"

// Subjects for the event fan-out. SubjectTaskLifecycle is a fmt.Sprintf
// pattern keyed by task id and SubjectAllTaskLifecycle subscribes across
// every task id; the other subjects are fixed.
const (
	SubjectTaskLifecycle    = "filetidy.tasks.%s.lifecycle"
	SubjectAllTaskLifecycle = "filetidy.tasks.*.lifecycle"

	SubjectOperationCommitted = "filetidy.operations.committed"
	SubjectSystemHealth       = "filetidy.system.health"
	SubjectEmergency          = "filetidy.system.emergency"
)

// TaskLifecycleMessage mirrors one events.Bus task event onto NATS.
type TaskLifecycleMessage struct {
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OperationCommittedMessage announces a suggest.Pipeline batch's outcome.
type OperationCommittedMessage struct {
	TransactionID string    `json:"transaction_id"`
	Succeeded     bool      `json:"succeeded"`
	Operations    int       `json:"operations"`
	Timestamp     time.Time `json:"timestamp"`
}

// SystemHealthMessage mirrors an EventSystemHealth bus event.
type SystemHealthMessage struct {
	TotalSlots     int       `json:"total_slots"`
	AvailableSlots int       `json:"available_slots"`
	Timestamp      time.Time `json:"timestamp"`
}

// EmergencyMessage mirrors an emergency-stop, emergency-eviction or
// memory-warning event.
type EmergencyMessage struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
