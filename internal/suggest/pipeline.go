// internal/suggest/pipeline.go
package suggest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/filetidy/filetidy/internal/events"
	"github.com/filetidy/filetidy/internal/txfile"
	"github.com/filetidy/filetidy/internal/validator"
)

const (
	confidenceHigh   = 0.9
	confidenceMedium = 0.7
	failureRateLimit = 0.20
)

var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Pipeline is the Suggestion Execution Pipeline (spec.md §4.8): it turns
// approved suggestions into validated, batched, journaled transactions.
type Pipeline struct {
	validator *validator.Validator
	tfm       *txfile.Manager
	bus       *events.Bus
	sleep     func(time.Duration)
}

// New creates a Pipeline. bus may be nil if per-batch progress events
// aren't wanted.
func New(v *validator.Validator, tfm *txfile.Manager, bus *events.Bus) *Pipeline {
	return &Pipeline{validator: v, tfm: tfm, bus: bus, sleep: time.Sleep}
}

// Run executes the full pipeline: filter/select, convert, validate, batch,
// execute, journal (via tfm's configured JournalRecorder), and recover
// from partial batch failures.
func (p *Pipeline) Run(suggestions []Suggestion, opts FilterOptions, maxBatchSize, maxSelectiveBatchSize int) (*PipelineResult, error) {
	selected := filterSelect(suggestions, opts)

	ops := make([]validator.FileOperation, 0, len(selected))
	opToSuggestion := make(map[string]string, len(selected))
	for _, s := range selected {
		op := convert(s)
		ops = append(ops, op)
		opToSuggestion[op.ID] = s.ID
	}

	validation := p.validator.ValidateBatch(ops)
	for _, issue := range validation.Errors {
		if issue.Severity == validator.SeverityCritical {
			return &PipelineResult{Refused: true, RefusalIssue: issue.Message}, nil
		}
	}

	batchSize := maxBatchSize
	if opts.Selective && maxSelectiveBatchSize > 0 {
		batchSize = maxSelectiveBatchSize
	}
	batches := groupIntoBatches(ops, opts.Policy, batchSize)

	result := &PipelineResult{}
	var failedBatches int

	for i, batch := range batches {
		execResult, txID, err := p.executeBatchWithRetry(batch)
		if err != nil {
			return nil, fmt.Errorf("executing batch %d: %w", i, err)
		}

		ids := make([]string, 0, len(batch))
		for _, op := range batch {
			ids = append(ids, opToSuggestion[op.ID])
		}

		batchResult := BatchResult{
			TransactionID: txID,
			Suggestions:   ids,
			Succeeded:     execResult.Success,
			Errors:        execResult.Errors,
		}
		result.Batches = append(result.Batches, batchResult)
		p.emitBatchProgress(batchResult, i, len(batches))

		if !execResult.Success {
			failedBatches++
		}

		if hasCriticalFailure(execResult) {
			result.StoppedEarly = true
			result.StopReason = fmt.Sprintf("critical failure in batch %d, remaining batches cancelled", i)
			break
		}

		failureRate := float64(failedBatches) / float64(i+1)
		if failureRate >= failureRateLimit {
			result.StoppedEarly = true
			result.StopReason = fmt.Sprintf("batch failure rate %.0f%% at or above %.0f%% limit, stopping", failureRate*100, failureRateLimit*100)
			break
		}
	}

	return result, nil
}

func (p *Pipeline) emitBatchProgress(batch BatchResult, index, total int) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.NewEvent(events.EventTaskCompleted, "suggest-pipeline", "all", events.PriorityNormal, map[string]interface{}{
		"batch_index": index, "batch_total": total, "transaction_id": batch.TransactionID, "succeeded": batch.Succeeded,
	}))
}

func (p *Pipeline) executeBatchWithRetry(ops []validator.FileOperation) (*txfile.ExecuteResult, string, error) {
	var lastResult *txfile.ExecuteResult
	var txID string

	for attempt := 0; ; attempt++ {
		txID = p.tfm.CreateTransaction()
		for _, op := range ops {
			if err := p.tfm.AddOperation(txID, op); err != nil {
				return nil, txID, err
			}
		}

		result, err := p.tfm.ExecuteTransaction(txID)
		if err != nil {
			return nil, txID, err
		}
		if result.Success {
			return result, txID, nil
		}

		lastResult = result
		if !isRetryableFailure(result) || attempt >= len(retryBackoff) {
			return lastResult, txID, nil
		}
		p.sleep(retryBackoff[attempt])
	}
}

func isRetryableFailure(result *txfile.ExecuteResult) bool {
	for _, e := range result.Errors {
		lower := strings.ToLower(e)
		if strings.Contains(lower, "permission denied") || strings.Contains(lower, "operation not permitted") {
			return false
		}
	}
	return true
}

func hasCriticalFailure(result *txfile.ExecuteResult) bool {
	return len(result.CompensationErrors) > 0
}

func filterSelect(suggestions []Suggestion, opts FilterOptions) []Suggestion {
	selected := make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Confidence < opts.MinConfidence {
			continue
		}
		if len(opts.IncludeIDs) > 0 && !opts.IncludeIDs[s.ID] {
			continue
		}
		if opts.ExcludeIDs[s.ID] {
			continue
		}
		if opts.OperationType != "" && convert(s).Type != opts.OperationType {
			continue
		}
		selected = append(selected, s)
	}
	return selected
}

// convert turns a Suggestion into a FileOperation: rename by default, move
// if the target resolves outside the source's directory.
func convert(s Suggestion) validator.FileOperation {
	sourceDir := filepath.Dir(s.SourcePath)
	sourceExt := filepath.Ext(s.SourcePath)

	var target string
	switch {
	case s.TargetPath != "":
		target = s.TargetPath
	case strings.ContainsAny(s.TargetName, "/\\"):
		target = s.TargetName
		if !filepath.IsAbs(target) {
			target = filepath.Join(sourceDir, target)
		}
	default:
		name := s.TargetName
		if filepath.Ext(name) == "" {
			name += sourceExt
		}
		target = filepath.Join(sourceDir, name)
	}

	opType := validator.OpRename
	if filepath.Dir(target) != sourceDir {
		opType = validator.OpMove
	}

	return validator.FileOperation{
		ID: s.ID, Type: opType, SourcePath: s.SourcePath, TargetPath: target,
		Metadata: validator.OperationMetadata{Confidence: s.Confidence},
	}
}

func groupIntoBatches(ops []validator.FileOperation, policy GroupPolicy, maxBatchSize int) [][]validator.FileOperation {
	if maxBatchSize <= 0 {
		maxBatchSize = len(ops)
		if maxBatchSize == 0 {
			maxBatchSize = 1
		}
	}

	var groups [][]validator.FileOperation

	switch policy {
	case GroupConfidence:
		var high, medium, low []validator.FileOperation
		for _, op := range ops {
			switch {
			case op.Metadata.Confidence >= confidenceHigh:
				high = append(high, op)
			case op.Metadata.Confidence >= confidenceMedium:
				medium = append(medium, op)
			default:
				low = append(low, op)
			}
		}
		groups = append(groups, high, medium, low)
	case GroupType:
		byType := make(map[validator.OperationType][]validator.FileOperation)
		var order []validator.OperationType
		for _, op := range ops {
			if _, ok := byType[op.Type]; !ok {
				order = append(order, op.Type)
			}
			byType[op.Type] = append(byType[op.Type], op)
		}
		for _, t := range order {
			groups = append(groups, byType[t])
		}
	case GroupDirectory:
		byDir := make(map[string][]validator.FileOperation)
		var order []string
		for _, op := range ops {
			dir := filepath.Dir(op.TargetPath)
			if _, ok := byDir[dir]; !ok {
				order = append(order, dir)
			}
			byDir[dir] = append(byDir[dir], op)
		}
		sort.Strings(order)
		for _, d := range order {
			groups = append(groups, byDir[d])
		}
	default: // GroupNone or unset
		groups = append(groups, ops)
	}

	var batches [][]validator.FileOperation
	for _, g := range groups {
		batches = append(batches, chunk(g, maxBatchSize)...)
	}
	return batches
}

func chunk(ops []validator.FileOperation, size int) [][]validator.FileOperation {
	if len(ops) == 0 {
		return nil
	}
	var out [][]validator.FileOperation
	for i := 0; i < len(ops); i += size {
		end := i + size
		if end > len(ops) {
			end = len(ops)
		}
		out = append(out, ops[i:end])
	}
	return out
}
