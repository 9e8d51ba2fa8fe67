// internal/tasks/types.go
package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the category of work a task performs.
type Kind string

const (
	KindFileAnalysis    Kind = "FileAnalysis"
	KindBatchProcessing Kind = "BatchProcessing"
	KindHealthCheck     Kind = "HealthCheck"
)

// Priority is the task's dispatch class. Lower values dispatch first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "Critical"
	case PriorityHigh:
		return "High"
	case PriorityNormal:
		return "Normal"
	case PriorityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// State is the task's position in its lifecycle.
type State string

const (
	StateQueued    State = "Queued"
	StateRunning   State = "Running"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
	StateCancelled State = "Cancelled"
	StateTimeout   State = "Timeout"
)

// validTransitions defines allowed state transitions. Running can return to
// Queued only via the retry path (AgentManager re-enqueues a retryable failure).
var validTransitions = map[State][]State{
	StateQueued:  {StateRunning, StateCancelled},
	StateRunning: {StateCompleted, StateFailed, StateTimeout, StateCancelled, StateQueued},
}

// terminalStates are states from which no further transition is possible.
var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateCancelled: true,
	StateTimeout:   true,
}

// FileAnalysisPayload describes a single-file inference analysis task.
type FileAnalysisPayload struct {
	Path   string `json:"path"`
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// BatchProcessingPayload describes a suggestion-batch execution task.
type BatchProcessingPayload struct {
	Paths  []string `json:"paths"`
	Model  string   `json:"model,omitempty"`
	Prompt string   `json:"prompt,omitempty"`
}

// HealthCheckPayload describes a liveness probe task against the inference backend.
type HealthCheckPayload struct {
	Model string `json:"model,omitempty"`
}

// Task is a unit of schedulable work. The Priority Queue owns the mutable
// record; every other component holds only the id and submits state-change
// requests rather than mutating the struct directly.
type Task struct {
	ID                string            `json:"id"`
	Kind              Kind              `json:"kind"`
	Priority          Priority          `json:"priority"`
	State             State             `json:"state"`
	CreatedAt         time.Time         `json:"created_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	TimeoutMs         int64             `json:"timeout_ms"`
	RetryCount        int               `json:"retry_count"`
	MaxRetries        int               `json:"max_retries"`
	EstimatedMemoryMB int64             `json:"estimated_memory_mb"`
	FileAnalysis      *FileAnalysisPayload    `json:"file_analysis,omitempty"`
	BatchProcessing   *BatchProcessingPayload `json:"batch_processing,omitempty"`
	HealthCheck       *HealthCheckPayload     `json:"health_check,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// NewTask creates a new Queued task with a freshly generated id.
func NewTask(kind Kind, priority Priority, timeoutMs int64, maxRetries int, estimatedMemoryMB int64) *Task {
	now := time.Now()
	return &Task{
		ID:                uuid.New().String(),
		Kind:              kind,
		Priority:          priority,
		State:             StateQueued,
		CreatedAt:         now,
		TimeoutMs:         timeoutMs,
		MaxRetries:        maxRetries,
		EstimatedMemoryMB: estimatedMemoryMB,
		Metadata:          make(map[string]string),
	}
}

// Validate checks that the task has consistent field values before admission.
func (t *Task) Validate() error {
	switch t.Kind {
	case KindFileAnalysis, KindBatchProcessing, KindHealthCheck:
	default:
		return fmt.Errorf("unknown task kind: %s", t.Kind)
	}
	if t.Kind == KindFileAnalysis && (t.FileAnalysis == nil || t.FileAnalysis.Path == "") {
		return fmt.Errorf("FileAnalysis task requires a path")
	}
	if t.Kind == KindBatchProcessing && (t.BatchProcessing == nil || len(t.BatchProcessing.Paths) == 0) {
		return fmt.Errorf("BatchProcessing task requires at least one path")
	}
	if t.TimeoutMs <= 0 {
		return fmt.Errorf("timeoutMs must be positive")
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be non-negative")
	}
	return nil
}

// TransitionTo attempts to move the task to a new state, enforcing the
// monotonic state machine. StartedAt/CompletedAt are stamped by the caller.
func (t *Task) TransitionTo(newState State) error {
	allowed, ok := validTransitions[t.State]
	if !ok {
		return fmt.Errorf("unknown current state: %s", t.State)
	}

	for _, s := range allowed {
		if s == newState {
			t.State = newState
			return nil
		}
	}

	return fmt.Errorf("invalid transition from %s to %s", t.State, newState)
}

// IsTerminal returns true if the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return terminalStates[t.State]
}

// Deadline returns the task's execution deadline, valid only once Running.
func (t *Task) Deadline() (time.Time, bool) {
	if t.StartedAt == nil {
		return time.Time{}, false
	}
	return t.StartedAt.Add(time.Duration(t.TimeoutMs) * time.Millisecond), true
}

// TaskResult is the terminal outcome of a single dispatch attempt, appended
// to the bounded result history kept by the Queue.
type TaskResult struct {
	TaskID          string    `json:"task_id"`
	Success         bool      `json:"success"`
	ResultPayload   string    `json:"result_payload,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	MemoryUsedMB    int64     `json:"memory_used_mb"`
	RecordedAt      time.Time `json:"recorded_at"`
}
