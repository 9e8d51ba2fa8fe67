// internal/suggest/types.go
package suggest

import "github.com/filetidy/filetidy/internal/validator"

// Suggestion is one approved rename/move proposal from an upstream
// analysis source (an inference-backed FileAnalysis task, in this
// system). TargetPath is optional; when absent it is derived from
// TargetName while preserving the source's directory and extension.
type Suggestion struct {
	ID         string
	SourcePath string
	TargetName string
	TargetPath string
	Confidence float64
}

// GroupPolicy selects how approved suggestions are chunked into batches.
type GroupPolicy string

const (
	GroupNone       GroupPolicy = "none"
	GroupConfidence GroupPolicy = "confidence"
	GroupType       GroupPolicy = "type"
	GroupDirectory  GroupPolicy = "directory"
)

// FilterOptions narrows which suggestions are run.
type FilterOptions struct {
	MinConfidence float64
	IncludeIDs    map[string]bool // nil/empty = no include restriction
	ExcludeIDs    map[string]bool
	OperationType validator.OperationType // "" = no type filter
	Selective     bool                    // true lowers the batch-size cap
	Policy        GroupPolicy
}

// BatchResult is one batch's execution outcome.
type BatchResult struct {
	TransactionID string
	Suggestions   []string // suggestion ids in this batch
	Succeeded     bool
	Errors        []string
}

// PipelineResult is the overall run outcome across every batch.
type PipelineResult struct {
	Refused      bool // validation found a critical error before anything ran
	RefusalIssue string
	Batches      []BatchResult
	StoppedEarly bool
	StopReason   string
}
