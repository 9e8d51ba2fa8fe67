// internal/tasks/queue.go
package tasks

import (
	"sort"
	"sync"
	"time"
)

// Queue is the thread-safe Priority Task Queue: one logical FIFO per
// priority class, indexed by id, with a bounded TaskResult history.
// It is the sole owner of task state; other components submit
// state-change requests by id rather than mutating records directly.
type Queue struct {
	mu         sync.RWMutex
	tasks      []*Task
	index      map[string]*Task
	results    []TaskResult
	maxResults int
}

// DefaultMaxResultHistory is the default bound on retained TaskResults.
const DefaultMaxResultHistory = 1000

// NewQueue creates a new task queue with the given result-history bound.
// A maxResults of 0 or less falls back to DefaultMaxResultHistory.
func NewQueue(maxResults int) *Queue {
	if maxResults <= 0 {
		maxResults = DefaultMaxResultHistory
	}
	return &Queue{
		tasks:      make([]*Task, 0),
		index:      make(map[string]*Task),
		maxResults: maxResults,
	}
}

// Add enqueues a new task, maintaining priority/FIFO order.
func (q *Queue) Add(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
	q.index[task.ID] = task
	q.sortLocked()
}

// Peek returns the task that would be dispatched next, without claiming it.
func (q *Queue) Peek() *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.nextQueuedLocked()
}

// Dequeue returns the oldest Queued task in the lowest-numbered (highest)
// priority class that has one. The task remains in the queue's record set;
// the caller is expected to transition it to Running via UpdateState.
func (q *Queue) Dequeue() *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.nextQueuedLocked()
}

func (q *Queue) nextQueuedLocked() *Task {
	for _, t := range q.tasks {
		if t.State == StateQueued {
			return t
		}
	}
	return nil
}

// Get returns a task by id.
func (q *Queue) Get(id string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.index[id]
}

// GetByID is an alias for Get, kept for callers migrating from the prior API.
func (q *Queue) GetByID(id string) *Task {
	return q.Get(id)
}

// UpdateState transitions a task to newState, stamping StartedAt/CompletedAt
// as appropriate. Returns an error if the transition is not legal.
func (q *Queue) UpdateState(id string, newState State, completedAt *time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, exists := q.index[id]
	if !exists {
		return errTaskNotFound(id)
	}

	if err := task.TransitionTo(newState); err != nil {
		return err
	}

	if newState == StateRunning {
		now := time.Now()
		task.StartedAt = &now
	}
	if task.IsTerminal() {
		if completedAt != nil {
			task.CompletedAt = completedAt
		} else {
			now := time.Now()
			task.CompletedAt = &now
		}
	}

	q.sortLocked()
	return nil
}

// Cancel cancels a queued or running task. Returns false if the task is
// missing or already terminal. Freeing any associated slot is the
// Agent Manager's responsibility; the queue only records the transition.
func (q *Queue) Cancel(id, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, exists := q.index[id]
	if !exists || task.IsTerminal() {
		return false
	}

	if err := task.TransitionTo(StateCancelled); err != nil {
		return false
	}
	now := time.Now()
	task.CompletedAt = &now
	if task.Metadata == nil {
		task.Metadata = make(map[string]string)
	}
	task.Metadata["cancel_reason"] = reason

	return true
}

// GetRunning returns all tasks currently Running.
func (q *Queue) GetRunning() []*Task {
	return q.filterByState(StateRunning)
}

// GetQueued returns all Queued tasks in priority-then-createdAt order.
func (q *Queue) GetQueued() []*Task {
	return q.filterByState(StateQueued)
}

func (q *Queue) filterByState(state State) []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, t := range q.tasks {
		if t.State == state {
			result = append(result, t)
		}
	}
	return result
}

// CleanupCompleted removes terminal tasks older than maxAge and returns the
// count removed. CompletedAt is used as the reference timestamp.
func (q *Queue) CleanupCompleted(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	kept := q.tasks[:0]
	removed := 0

	for _, t := range q.tasks {
		if t.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(q.index, t.ID)
			removed++
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
	return removed
}

// RecordResult appends a terminal TaskResult to the bounded history ring,
// evicting the oldest entry once maxResults is exceeded.
func (q *Queue) RecordResult(result TaskResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.results = append(q.results, result)
	if len(q.results) > q.maxResults {
		q.results = q.results[len(q.results)-q.maxResults:]
	}
}

// Results returns a copy of the retained TaskResult history, most recent last.
func (q *Queue) Results() []TaskResult {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]TaskResult, len(q.results))
	copy(out, q.results)
	return out
}

// Len returns the number of tracked (non-cleaned-up) tasks.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// All returns a snapshot of every tracked task.
func (q *Queue) All() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Task, len(q.tasks))
	copy(result, q.tasks)
	return result
}

// Remove deletes a task record outright (used for abandoned/invalid tasks
// that never ran, not for normal lifecycle cleanup).
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[id]; !exists {
		return false
	}

	delete(q.index, id)
	for i, t := range q.tasks {
		if t.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	return true
}

// Stats is a point-in-time summary of queue composition, used for
// observability and for the Agent Manager's slot-recompute decisions.
type Stats struct {
	ByPriority          map[Priority]int
	ByState             map[State]int
	OldestQueuedAt      *time.Time
	AverageQueuedWaitMs float64
}

// Stats computes per-priority and per-state counts, the oldest queued
// timestamp, and the average wait time of currently Queued tasks.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{
		ByPriority: make(map[Priority]int),
		ByState:    make(map[State]int),
	}

	var totalWaitMs float64
	var queuedCount int
	now := time.Now()

	for _, t := range q.tasks {
		stats.ByPriority[t.Priority]++
		stats.ByState[t.State]++

		if t.State == StateQueued {
			queuedCount++
			if stats.OldestQueuedAt == nil || t.CreatedAt.Before(*stats.OldestQueuedAt) {
				createdAt := t.CreatedAt
				stats.OldestQueuedAt = &createdAt
			}
			totalWaitMs += float64(now.Sub(t.CreatedAt).Milliseconds())
		}
	}

	if queuedCount > 0 {
		stats.AverageQueuedWaitMs = totalWaitMs / float64(queuedCount)
	}

	return stats
}

// sortLocked orders tasks by priority class then FIFO within class. Terminal
// and Running tasks sort after Queued ones so dequeue scans stay cheap.
func (q *Queue) sortLocked() {
	sort.Slice(q.tasks, func(i, j int) bool {
		a, b := q.tasks[i], q.tasks[j]
		aq, bq := a.State == StateQueued, b.State == StateQueued
		if aq != bq {
			return aq
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
