// internal/tasks/types_test.go
package tasks

import (
	"testing"
)

func TestTaskStateTransitions(t *testing.T) {
	task := NewTask(KindFileAnalysis, PriorityNormal, 5000, 3, 512)
	task.FileAnalysis = &FileAnalysisPayload{Path: "/tmp/report.pdf"}

	if err := task.TransitionTo(StateRunning); err != nil {
		t.Errorf("expected valid Queued -> Running transition, got: %v", err)
	}

	if err := task.TransitionTo(StateCompleted); err != nil {
		t.Errorf("expected valid Running -> Completed transition, got: %v", err)
	}

	if err := task.TransitionTo(StateRunning); err == nil {
		t.Error("expected terminal Completed state to reject further transitions")
	}
}

func TestTaskRetryReturnsToQueued(t *testing.T) {
	task := NewTask(KindFileAnalysis, PriorityHigh, 5000, 3, 256)
	task.FileAnalysis = &FileAnalysisPayload{Path: "/tmp/a.txt"}

	if err := task.TransitionTo(StateRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := task.TransitionTo(StateQueued); err != nil {
		t.Errorf("expected retryable failure to return task to Queued, got: %v", err)
	}
	if task.IsTerminal() {
		t.Error("re-queued task should not be terminal")
	}
}

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name  string
		task  *Task
		valid bool
	}{
		{
			name: "FileAnalysis with path",
			task: &Task{Kind: KindFileAnalysis, TimeoutMs: 1000, MaxRetries: 3,
				FileAnalysis: &FileAnalysisPayload{Path: "/tmp/x"}},
			valid: true,
		},
		{
			name:  "FileAnalysis missing path",
			task:  &Task{Kind: KindFileAnalysis, TimeoutMs: 1000, MaxRetries: 3},
			valid: false,
		},
		{
			name: "BatchProcessing with paths",
			task: &Task{Kind: KindBatchProcessing, TimeoutMs: 1000, MaxRetries: 3,
				BatchProcessing: &BatchProcessingPayload{Paths: []string{"/tmp/a", "/tmp/b"}}},
			valid: true,
		},
		{
			name:  "BatchProcessing missing paths",
			task:  &Task{Kind: KindBatchProcessing, TimeoutMs: 1000, MaxRetries: 3},
			valid: false,
		},
		{
			name:  "HealthCheck needs no payload",
			task:  &Task{Kind: KindHealthCheck, TimeoutMs: 1000, MaxRetries: 3},
			valid: true,
		},
		{
			name:  "zero timeout is invalid",
			task:  &Task{Kind: KindHealthCheck, TimeoutMs: 0, MaxRetries: 3},
			valid: false,
		},
		{
			name:  "unknown kind is invalid",
			task:  &Task{Kind: "Bogus", TimeoutMs: 1000, MaxRetries: 3},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("expected invalid, got nil error")
			}
		})
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask(KindHealthCheck, PriorityLow, 10000, 0, 128)

	if task.ID == "" {
		t.Error("expected auto-generated ID")
	}
	if task.State != StateQueued {
		t.Errorf("expected Queued state, got: %s", task.State)
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if task.IsTerminal() {
		t.Error("freshly created task should not be terminal")
	}
}

func TestPriorityOrderingValues(t *testing.T) {
	if !(PriorityCritical < PriorityHigh && PriorityHigh < PriorityNormal && PriorityNormal < PriorityLow) {
		t.Error("priority constants must order Critical < High < Normal < Low")
	}
}
