// internal/txfile/manager.go
package txfile

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filetidy/filetidy/internal/validator"
)

// JournalRecorder is the seam to internal/journal: executeTransaction calls
// it once per committed operation so the journal can persist undo data.
// A nil recorder is valid for tests that don't care about journaling.
type JournalRecorder interface {
	RecordCommittedOperation(txID string, completed CompletedOp) error
}

// preparedOp is the output of the prepare phase for one operation: its
// computed reverse and, if one was taken, the backup file behind it.
type preparedOp struct {
	op        validator.FileOperation
	reverse   validator.FileOperation
	backupRef string
}

// Manager is the Transactional File Manager (spec.md §4.6): it runs
// prepare/execute/compensate/commit for transactions of FileOperations.
type Manager struct {
	mu           sync.Mutex
	transactions map[string]*Transaction
	backupDir    string
	journal      JournalRecorder
}

// NewManager creates a Manager. backupDir holds per-operation backups used
// for compensation and delete-restore. journal may be nil.
func NewManager(backupDir string, journal JournalRecorder) *Manager {
	return &Manager{
		transactions: make(map[string]*Transaction),
		backupDir:    backupDir,
		journal:      journal,
	}
}

// CreateTransaction opens a new, empty transaction and returns its id.
func (m *Manager) CreateTransaction() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.transactions[id] = &Transaction{
		ID:        id,
		State:     StateOpen,
		CreatedAt: time.Now(),
	}
	return id
}

// AddOperation appends an operation to an Open transaction.
func (m *Manager) AddOperation(txID string, op validator.FileOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[txID]
	if !ok {
		return fmt.Errorf("transaction %s not found", txID)
	}
	if tx.State != StateOpen {
		return fmt.Errorf("transaction %s is not open (state %s)", txID, tx.State)
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	tx.Operations = append(tx.Operations, op)
	return nil
}

// GetStatus returns a transaction's current snapshot.
func (m *Manager) GetStatus(txID string) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[txID]
	return tx, ok
}

// ExecuteTransaction runs the full prepare/execute/compensate/commit
// lifecycle for txID (spec.md §4.6).
func (m *Manager) ExecuteTransaction(txID string) (*ExecuteResult, error) {
	m.mu.Lock()
	tx, ok := m.transactions[txID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("transaction %s not found", txID)
	}
	if tx.State != StateOpen {
		m.mu.Unlock()
		return nil, fmt.Errorf("transaction %s is not open (state %s)", txID, tx.State)
	}
	tx.State = StateExecuting
	ops := append([]validator.FileOperation(nil), tx.Operations...)
	m.mu.Unlock()

	// Prepare: compute reverse operations and take backups up front.
	prepared := make([]preparedOp, 0, len(ops))
	for _, op := range ops {
		var backupRef string
		var err error
		if needsBackup(op) {
			backupRef, err = makeBackup(m.backupDir, op)
			if err != nil {
				m.cleanupBackups(prepared)
				m.finish(tx, StateRolledBack)
				return &ExecuteResult{Success: false, Errors: []string{err.Error()}}, nil
			}
		}
		prepared = append(prepared, preparedOp{op: op, reverse: computeReverse(op, backupRef), backupRef: backupRef})
	}

	// Execute in order; compensate on first failure.
	var completed []CompletedOp
	for i, p := range prepared {
		if err := applyOperation(p.op); err != nil {
			compErrs, fatal := m.compensate(completed)
			m.cleanupBackups(prepared)

			result := &ExecuteResult{
				Success:             false,
				CompletedOperations: i,
				Errors:              []string{err.Error()},
				CompensationErrors:  compErrs,
			}
			if fatal {
				m.finish(tx, StateFailed)
			} else {
				m.finish(tx, StateRolledBack)
			}
			return result, nil
		}
		completed = append(completed, CompletedOp{Operation: p.op, Reverse: p.reverse, BackupRef: p.backupRef})
	}

	// Commit: record each completed operation in the journal.
	var journalErrs []string
	if m.journal != nil {
		for _, c := range completed {
			if err := m.journal.RecordCommittedOperation(txID, c); err != nil {
				journalErrs = append(journalErrs, err.Error())
			}
		}
	}

	m.mu.Lock()
	tx.Completed = completed
	tx.State = StateCommitted
	if len(journalErrs) > 0 {
		tx.Errors = journalErrs
	}
	m.mu.Unlock()

	return &ExecuteResult{Success: true, CompletedOperations: len(completed), Errors: journalErrs}, nil
}

// compensate reverses completed operations in reverse order. fatal is true
// only when a reverse operation itself fails, leaving the filesystem in a
// partially-reversed state that needs operator attention.
func (m *Manager) compensate(completed []CompletedOp) (errs []string, fatal bool) {
	for i := len(completed) - 1; i >= 0; i-- {
		if err := applyOperation(completed[i].Reverse); err != nil {
			errs = append(errs, fmt.Sprintf("compensating operation %s: %v", completed[i].Operation.ID, err))
			return errs, true
		}
	}
	return errs, false
}

func (m *Manager) cleanupBackups(prepared []preparedOp) {
	for _, p := range prepared {
		if p.backupRef != "" {
			os.Remove(p.backupRef)
		}
	}
}

func (m *Manager) finish(tx *Transaction, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.State = state
}
