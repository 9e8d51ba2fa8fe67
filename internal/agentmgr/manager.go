// internal/agentmgr/manager.go
package agentmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filetidy/filetidy/internal/config"
	"github.com/filetidy/filetidy/internal/events"
	"github.com/filetidy/filetidy/internal/inference"
	"github.com/filetidy/filetidy/internal/sysmonitor"
	"github.com/filetidy/filetidy/internal/tasks"
)

const (
	defaultModelMemoryMB   = 4096 // fallback M̄ when no model has been measured yet
	memoryWarningCooldown  = 30 * time.Second
	activityLogCapacity    = 200
)

// Manager is the Agent Manager (spec.md §4.4): it recomputes slot capacity
// from live health and model-memory estimates, admits and dispatches
// tasks, enforces the soft/hard/critical memory thresholds, and emits
// lifecycle events. mu is the single logical mutex guarding the slot table
// and every admission/dispatch decision; the Queue carries its own
// mutex for task-record mutations, so mu and the queue's lock nest but
// never need to be held together across a blocking call.
type Manager struct {
	cfg             config.AgentManagerConfig
	queue           *tasks.Queue
	inferenceClient *inference.Client
	bus             *events.Bus
	defaultModel    string

	mu                   sync.Mutex
	slots                map[string]*Slot
	cancelFuncs          map[string]context.CancelFunc
	totalSlots           int
	emergencyMode        bool
	modelMemoryEstimates map[string]int64
	lastHealth           sysmonitor.SystemHealth
	haveHealth           bool
	lastSlotRecompute    time.Time
	lastHealthCheck      time.Time
	lastMemoryWarningAt  time.Time
	activityLog          []string

	dispatchCh chan struct{}
	wg         sync.WaitGroup
}

// NewManager creates an Agent Manager. inferenceClient may be nil only in
// tests that never dispatch a task requiring inference.
func NewManager(cfg config.AgentManagerConfig, queue *tasks.Queue, inferenceClient *inference.Client, bus *events.Bus, defaultModel string) *Manager {
	return &Manager{
		cfg:                  cfg,
		queue:                queue,
		inferenceClient:      inferenceClient,
		bus:                  bus,
		defaultModel:         defaultModel,
		slots:                make(map[string]*Slot),
		cancelFuncs:          make(map[string]context.CancelFunc),
		modelMemoryEstimates: make(map[string]int64),
		dispatchCh:           make(chan struct{}, 1),
	}
}

// Start launches the dispatch loop and the health-check/slot-recompute
// tickers. It returns immediately; all work runs in background goroutines
// until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.emit(events.EventManagerStarted, events.PriorityNormal, nil)

	go m.dispatchLoop(ctx)
	go m.healthCheckTicker(ctx)
	go m.slotRecomputeTicker(ctx)
}

// Stop emits the manager-stopped lifecycle event. Callers are expected to
// have already cancelled the context passed to Start.
func (m *Manager) Stop() {
	m.wg.Wait()
	m.emit(events.EventManagerStopped, events.PriorityNormal, nil)
}

// Submit validates and enqueues a new task, then signals the dispatch loop.
func (m *Manager) Submit(task *tasks.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	m.queue.Add(task)
	m.logActivity(fmt.Sprintf("submitted %s task %s (priority %s)", task.Kind, task.ID, task.Priority))
	m.emit(events.EventTaskCreated, events.PriorityNormal, map[string]interface{}{
		"task_id": task.ID,
		"kind":    string(task.Kind),
	})
	m.signalDispatch()
	return nil
}

// Cancel cancels a queued or running task. For a running task this also
// aborts the in-flight inference call and frees its slot.
func (m *Manager) Cancel(taskID, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task := m.queue.Get(taskID)
	if task == nil {
		return false
	}
	if task.State == tasks.StateRunning {
		m.cancelRunningTaskLocked(task, reason)
		return true
	}
	return m.queue.Cancel(taskID, reason)
}

// RegisterModelEstimate records a measured memory footprint for a model,
// feeding future slot-capacity recomputes.
func (m *Manager) RegisterModelEstimate(model string, memoryMB int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelMemoryEstimates[model] = memoryMB
}

// Stats returns a snapshot of the scheduler's current state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		TotalSlots:        m.totalSlots,
		ActiveSlots:       len(m.slots),
		EmergencyMode:     m.emergencyMode,
		LastSlotRecompute: m.lastSlotRecompute,
		LastHealthCheck:   m.lastHealthCheck,
	}
}

// ActivityLog returns a copy of the bounded recent-activity ring, most
// recent last.
func (m *Manager) ActivityLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.activityLog))
	copy(out, m.activityLog)
	return out
}

// OnHealthUpdate is the System Monitor's push callback: it stores the
// snapshot, recomputes slot capacity, and applies the memory-pressure
// threshold table.
func (m *Manager) OnHealthUpdate(health sysmonitor.SystemHealth) {
	m.mu.Lock()
	m.lastHealth = health
	m.haveHealth = true
	m.mu.Unlock()

	m.recomputeSlots()
	m.checkThresholds(health.Memory.Pressure)
	m.signalDispatch()
}

func (m *Manager) healthCheckTicker(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			m.lastHealthCheck = time.Now()
			health, have := m.lastHealth, m.haveHealth
			m.mu.Unlock()
			if have {
				m.checkThresholds(health.Memory.Pressure)
			}
		}
	}
}

func (m *Manager) slotRecomputeTicker(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SlotRecomputeInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recomputeSlots()
			m.signalDispatch()
		}
	}
}

// recomputeSlots implements the slot-capacity formula from spec.md §5:
// totalSlots = clamp(⌊A / (M̄·S)⌋, 0, maxConcurrentSlots).
func (m *Manager) recomputeSlots() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveHealth {
		return
	}

	a := float64(m.lastHealth.Memory.AvailableForAgentsMB)
	mBar := m.meanModelEstimateLocked()
	s := m.cfg.SafetyFactor

	total := 0
	if mBar > 0 && s > 0 {
		total = int(a / (mBar * s))
	}
	if total < 0 {
		total = 0
	}
	if total > m.cfg.MaxConcurrentSlots {
		total = m.cfg.MaxConcurrentSlots
	}

	changed := total != m.totalSlots
	m.totalSlots = total
	m.lastSlotRecompute = time.Now()

	if changed {
		m.emit(events.EventSlotsRecomputed, events.PriorityNormal, map[string]interface{}{"total_slots": total})
	}
}

func (m *Manager) meanModelEstimateLocked() float64 {
	if len(m.modelMemoryEstimates) == 0 {
		return defaultModelMemoryMB
	}
	var sum int64
	for _, v := range m.modelMemoryEstimates {
		sum += v
	}
	return float64(sum) / float64(len(m.modelMemoryEstimates))
}

// checkThresholds applies the soft/hard/critical memory-pressure table
// (spec.md §5).
func (m *Manager) checkThresholds(pressure float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case pressure >= m.cfg.CriticalThreshold && m.cfg.EmergencyStopEnabled:
		if !m.emergencyMode {
			m.emergencyMode = true
			m.emergencyStopLocked()
		}
	case pressure >= m.cfg.HardThreshold:
		m.emergencyEvictLocked()
	case pressure >= m.cfg.SoftThreshold:
		m.maybeWarnLocked()
	}

	if m.emergencyMode && pressure < m.cfg.SoftThreshold {
		m.emergencyMode = false
		m.logActivityLocked("exiting emergency mode: memory pressure back below soft threshold")
	}
}

func (m *Manager) maybeWarnLocked() {
	if time.Since(m.lastMemoryWarningAt) < memoryWarningCooldown {
		return
	}
	m.lastMemoryWarningAt = time.Now()
	m.emit(events.EventMemoryWarning, events.PriorityHigh, nil)
}

// emergencyEvictLocked cancels the lowest-priority half (ceiling) of
// Running tasks, reason "memory pressure".
func (m *Manager) emergencyEvictLocked() {
	running := m.queue.GetRunning()
	if len(running) == 0 {
		return
	}

	sort.Slice(running, func(i, j int) bool { return running[i].Priority > running[j].Priority })
	evictCount := (len(running) + 1) / 2

	for i := 0; i < evictCount; i++ {
		m.cancelRunningTaskLocked(running[i], "memory pressure")
	}
	m.emit(events.EventEmergencyEviction, events.PriorityHigh, map[string]interface{}{"evictedCount": evictCount})
}

// emergencyStopLocked cancels every Running task and clears the queue.
func (m *Manager) emergencyStopLocked() {
	running := m.queue.GetRunning()
	for _, t := range running {
		m.cancelRunningTaskLocked(t, "emergency stop")
	}

	queued := m.queue.GetQueued()
	for _, t := range queued {
		m.queue.Cancel(t.ID, "emergency stop")
	}

	m.emit(events.EventEmergencyStop, events.PriorityCritical, map[string]interface{}{
		"cancelledRunning": len(running),
		"clearedQueued":    len(queued),
	})
}

func (m *Manager) cancelRunningTaskLocked(task *tasks.Task, reason string) {
	if cancel, ok := m.cancelFuncs[task.ID]; ok {
		cancel()
		delete(m.cancelFuncs, task.ID)
	}
	m.queue.Cancel(task.ID, reason)

	for slotID, slot := range m.slots {
		if slot.TaskID == task.ID {
			delete(m.slots, slotID)
			m.emit(events.EventSlotFreed, events.PriorityNormal, map[string]interface{}{"slot_id": slotID, "task_id": task.ID})
			break
		}
	}
}

func (m *Manager) signalDispatch() {
	select {
	case m.dispatchCh <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.dispatchCh:
			m.dispatchOnce(ctx)
		}
	}
}

// dispatchOnce admits Queued tasks while a slot is free and the manager is
// not in emergency mode (spec.md §4.4's admission and dispatch loop).
func (m *Manager) dispatchOnce(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emergencyMode {
		return
	}

	for len(m.slots) < m.totalSlots {
		next := m.queue.Dequeue()
		if next == nil {
			return
		}

		model := modelNameFor(next)
		memEstimate := m.estimateForLocked(next, model)
		slotID := uuid.New().String()

		if err := m.queue.UpdateState(next.ID, tasks.StateRunning, nil); err != nil {
			continue
		}

		m.slots[slotID] = &Slot{
			SlotID:            slotID,
			TaskID:            next.ID,
			ModelName:         model,
			AllocatedMemoryMB: memEstimate,
			StartTime:         time.Now(),
		}

		taskCtx, cancel := context.WithTimeout(ctx, time.Duration(next.TimeoutMs)*time.Millisecond)
		m.cancelFuncs[next.ID] = cancel

		m.emit(events.EventTaskDispatched, events.PriorityNormal, map[string]interface{}{
			"task_id": next.ID, "slot_id": slotID,
		})

		m.wg.Add(1)
		go m.executeTask(taskCtx, next, slotID)
	}
}

func (m *Manager) estimateForLocked(task *tasks.Task, model string) int64 {
	if model != "" {
		if v, ok := m.modelMemoryEstimates[model]; ok {
			return v
		}
	}
	if task.EstimatedMemoryMB > 0 {
		return task.EstimatedMemoryMB
	}
	return int64(m.meanModelEstimateLocked())
}

func modelNameFor(task *tasks.Task) string {
	switch task.Kind {
	case tasks.KindFileAnalysis:
		if task.FileAnalysis != nil {
			return task.FileAnalysis.Model
		}
	case tasks.KindBatchProcessing:
		if task.BatchProcessing != nil {
			return task.BatchProcessing.Model
		}
	case tasks.KindHealthCheck:
		if task.HealthCheck != nil {
			return task.HealthCheck.Model
		}
	}
	return ""
}

// executeTask runs the kind-specific handler outside the Manager's mutex,
// per spec.md §5 ("task execution runs outside the mutex").
func (m *Manager) executeTask(ctx context.Context, task *tasks.Task, slotID string) {
	defer m.wg.Done()

	start := time.Now()
	var result tasks.TaskResult
	var err error

	switch task.Kind {
	case tasks.KindFileAnalysis:
		result, err = m.handleFileAnalysis(ctx, task)
	case tasks.KindBatchProcessing:
		result, err = m.handleBatchProcessing(ctx, task)
	case tasks.KindHealthCheck:
		result, err = m.handleHealthCheck(ctx, task)
	default:
		err = fmt.Errorf("unknown task kind: %s", task.Kind)
	}

	result.TaskID = task.ID
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	m.completeTask(task, slotID, result, err)
}

func (m *Manager) handleFileAnalysis(ctx context.Context, task *tasks.Task) (tasks.TaskResult, error) {
	payload := task.FileAnalysis
	content, truncated, err := readFileHead(payload.Path, 0)
	if err != nil {
		return tasks.TaskResult{}, err
	}

	prompt := buildAnalysisPrompt(payload.Prompt, content, truncated)
	model := payload.Model
	if model == "" {
		model = m.defaultModel
	}

	res, err := m.inferenceClient.RunInference(ctx, model, prompt, inference.RunOptions{TimeoutMs: task.TimeoutMs})
	if err != nil {
		return tasks.TaskResult{}, err
	}
	return tasks.TaskResult{Success: true, ResultPayload: res.Response}, nil
}

// handleBatchProcessing runs inference for each path in sequence, pausing
// briefly between requests (one of spec.md §5's suspension points).
func (m *Manager) handleBatchProcessing(ctx context.Context, task *tasks.Task) (tasks.TaskResult, error) {
	payload := task.BatchProcessing
	model := payload.Model
	if model == "" {
		model = m.defaultModel
	}

	responses := make([]string, 0, len(payload.Paths))
	for i, path := range payload.Paths {
		content, truncated, err := readFileHead(path, 0)
		if err != nil {
			return tasks.TaskResult{}, fmt.Errorf("batch item %s: %w", path, err)
		}

		prompt := buildAnalysisPrompt(payload.Prompt, content, truncated)
		res, err := m.inferenceClient.RunInference(ctx, model, prompt, inference.RunOptions{TimeoutMs: task.TimeoutMs})
		if err != nil {
			return tasks.TaskResult{}, fmt.Errorf("batch item %s: %w", path, err)
		}
		responses = append(responses, res.Response)

		if i < len(payload.Paths)-1 {
			select {
			case <-ctx.Done():
				return tasks.TaskResult{}, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	return tasks.TaskResult{Success: true, ResultPayload: fmt.Sprintf("%d files analyzed", len(responses))}, nil
}

func (m *Manager) handleHealthCheck(ctx context.Context, task *tasks.Task) (tasks.TaskResult, error) {
	if err := m.inferenceClient.LivenessProbe(ctx); err != nil {
		return tasks.TaskResult{}, err
	}
	return tasks.TaskResult{Success: true, ResultPayload: "ok"}, nil
}

func buildAnalysisPrompt(instruction, content string, truncated bool) string {
	suffix := ""
	if truncated {
		suffix = "\n\n[content truncated]"
	}
	return fmt.Sprintf("%s\n\n%s%s", instruction, content, suffix)
}

// completeTask applies the retry policy and terminal-state transition for
// one dispatch attempt (spec.md §4.4's retry policy and state machine).
func (m *Manager) completeTask(task *tasks.Task, slotID string, result tasks.TaskResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slot, ok := m.slots[slotID]; ok {
		delete(m.slots, slotID)
		m.emit(events.EventSlotFreed, events.PriorityNormal, map[string]interface{}{"slot_id": slot.SlotID, "task_id": task.ID})
	}
	if cancel, ok := m.cancelFuncs[task.ID]; ok {
		cancel()
		delete(m.cancelFuncs, task.ID)
	}

	current := m.queue.Get(task.ID)
	if current == nil || current.IsTerminal() {
		// Already cancelled out from under us (emergency stop/eviction/explicit cancel).
		m.signalDispatch()
		return
	}

	if err == nil {
		result.RecordedAt = time.Now()
		m.queue.UpdateState(task.ID, tasks.StateCompleted, nil)
		m.queue.RecordResult(result)
		m.emit(events.EventTaskCompleted, events.PriorityNormal, map[string]interface{}{"task_id": task.ID})
		m.signalDispatch()
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		m.queue.UpdateState(task.ID, tasks.StateTimeout, nil)
		result.ErrorKind = string(inference.ErrorKindTimeout)
		result.ErrorMessage = err.Error()
		result.RecordedAt = time.Now()
		m.queue.RecordResult(result)
		m.emit(events.EventTaskFailed, events.PriorityHigh, map[string]interface{}{"task_id": task.ID, "error_kind": result.ErrorKind})
		m.signalDispatch()
		return
	}

	var infErr *inference.Error
	retryable := errors.As(err, &infErr) && infErr.Retryable()

	if retryable && task.RetryCount < task.MaxRetries {
		task.RetryCount++
		m.queue.UpdateState(task.ID, tasks.StateQueued, nil)
		m.emit(events.EventTaskRetry, events.PriorityNormal, map[string]interface{}{"task_id": task.ID, "retry_count": task.RetryCount})
		m.signalDispatch()
		return
	}

	m.queue.UpdateState(task.ID, tasks.StateFailed, nil)
	result.ErrorMessage = err.Error()
	if infErr != nil {
		result.ErrorKind = string(infErr.Kind)
	}
	result.RecordedAt = time.Now()
	m.queue.RecordResult(result)
	m.emit(events.EventTaskFailed, events.PriorityHigh, map[string]interface{}{"task_id": task.ID, "error_kind": result.ErrorKind})
	m.signalDispatch()
}

func (m *Manager) emit(eventType events.EventType, priority int, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	m.bus.Publish(events.NewEvent(eventType, "agent-manager", "all", priority, payload))
}

func (m *Manager) logActivity(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logActivityLocked(line)
}

func (m *Manager) logActivityLocked(line string) {
	m.activityLog = append(m.activityLog, line)
	if len(m.activityLog) > activityLogCapacity {
		m.activityLog = m.activityLog[len(m.activityLog)-activityLogCapacity:]
	}
}
