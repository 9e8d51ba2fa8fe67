// internal/journal/types.go
package journal

import (
	"time"

	"github.com/filetidy/filetidy/internal/validator"
)

// Status is a JournalEntry's lifecycle position.
type Status string

const (
	StatusCommitted  Status = "Committed"
	StatusRolledBack Status = "RolledBack"
)

// UndoData carries what's needed to reverse a committed operation.
type UndoData struct {
	ReverseOperation validator.FileOperation
	OriginalMeta     validator.OperationMetadata
	Dependencies     []string // JournalEntry ids that must be undone first
}

// Entry is one committed (or later rolled-back) filesystem operation.
type Entry struct {
	ID            string
	TransactionID string
	OperationID   string
	Type          validator.OperationType
	SourcePath    string
	TargetPath    string
	UndoData      UndoData
	Status        Status
	Timestamp     time.Time
}

// CanUndoResult is canUndo's structured answer.
type CanUndoResult struct {
	CanUndo      bool
	Reason       string
	Dependencies []string
}

// UndoResult is undoOperation's outcome.
type UndoResult struct {
	Success bool
	EntryID string
	Error   string
}

// BatchUndoResult is undoTransaction's outcome.
type BatchUndoResult struct {
	Success     bool
	UndoneIDs   []string
	FailedID    string
	Error       string
}

// HistoryFilter narrows a history() query.
type HistoryFilter struct {
	TransactionID string
	Status        Status
	Since         time.Time
}

// Page paginates a history query.
type Page struct {
	Offset int
	Limit  int
}
