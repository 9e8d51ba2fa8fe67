// internal/txfile/types.go
package txfile

import (
	"time"

	"github.com/filetidy/filetidy/internal/validator"
)

// State is a Transaction's lifecycle position.
type State string

const (
	StateOpen       State = "Open"
	StateExecuting  State = "Executing"
	StateCommitted  State = "Committed"
	StateRolledBack State = "RolledBack"
	StateFailed     State = "Failed"
)

// CompletedOp records one operation's applied effect, enough to compute
// and apply its reverse during compensation.
type CompletedOp struct {
	Operation validator.FileOperation
	Reverse   validator.FileOperation
	BackupRef string
}

// Transaction is an ordered group of FileOperations applied atomically:
// either all commit, or none do (first failure triggers reverse-order
// compensation of everything already applied).
type Transaction struct {
	ID         string
	Operations []validator.FileOperation
	Completed  []CompletedOp
	State      State
	CreatedAt  time.Time
	Errors     []string
}

// ExecuteResult is executeTransaction's return value.
type ExecuteResult struct {
	Success             bool
	CompletedOperations int
	Errors              []string
	CompensationErrors  []string
}

// CompensationError marks a failure during rollback. Fatal means a reverse
// operation itself failed partway through — the transaction is left in
// StateFailed and needs operator intervention, since the filesystem may be
// in a partially-reversed state. A non-fatal CompensationError just means
// the forward operation that triggered rollback failed normally; the
// rollback itself succeeded.
type CompensationError struct {
	Fatal   bool
	Message string
}

func (e *CompensationError) Error() string { return e.Message }
