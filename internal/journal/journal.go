// internal/journal/journal.go
package journal

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/filetidy/filetidy/internal/txfile"
	"github.com/filetidy/filetidy/internal/validator"
)

// Journal is the Operation Journal (spec.md §4.7): an append-only record
// of committed operations with undo data and dependency edges.
type Journal struct {
	store *Store
}

// New wraps an open Store as a Journal.
func New(store *Store) *Journal {
	return &Journal{store: store}
}

// RecordCommittedOperation implements txfile.JournalRecorder: called once
// per committed operation when a transaction commits.
func (j *Journal) RecordCommittedOperation(txID string, completed txfile.CompletedOp) error {
	_, err := j.RecordOperation(txID, completed.Operation, completed.Reverse, completed.BackupRef, nil)
	return err
}

// RecordOperation appends a new Committed entry and returns its id.
func (j *Journal) RecordOperation(txID string, op, reverse validator.FileOperation, backupRef string, dependencies []string) (string, error) {
	entry := Entry{
		ID:            uuid.New().String(),
		TransactionID: txID,
		OperationID:   op.ID,
		Type:          op.Type,
		SourcePath:    op.SourcePath,
		TargetPath:    op.TargetPath,
		UndoData: UndoData{
			ReverseOperation: withBackupSource(reverse, backupRef),
			OriginalMeta:     op.Metadata,
			Dependencies:     dependencies,
		},
		Status:    StatusCommitted,
		Timestamp: time.Now(),
	}
	if err := j.store.insertEntry(entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// withBackupSource fills in a delete's reverse-copy source if the caller
// didn't already (txfile's computeReverse does this itself, but callers
// recording an entry directly may only have the backup path).
func withBackupSource(reverse validator.FileOperation, backupRef string) validator.FileOperation {
	if reverse.Type == validator.OpCopy && reverse.SourcePath == "" {
		reverse.SourcePath = backupRef
	}
	return reverse
}

// CanUndo reports whether an entry can be undone: it must exist, be
// Committed (not already RolledBack), have no committed entry whose
// sourcePath equals its targetPath created afterward (spec.md §3's
// dependency rule), and its reverse operation's source must currently
// exist with its target free.
func (j *Journal) CanUndo(id string) (CanUndoResult, error) {
	entry, err := j.store.getEntry(id)
	if err != nil {
		return CanUndoResult{}, err
	}
	if entry == nil {
		return CanUndoResult{CanUndo: false, Reason: "entry not found"}, nil
	}
	if entry.Status == StatusRolledBack {
		return CanUndoResult{CanUndo: false, Reason: "entry already rolled back"}, nil
	}

	if entry.TargetPath != "" {
		dependentIDs, err := j.store.committedDependentOperationIDs(entry.TargetPath, entry.Timestamp)
		if err != nil {
			return CanUndoResult{}, err
		}
		if len(dependentIDs) > 0 {
			return CanUndoResult{CanUndo: false, Reason: "entry has committed dependents", Dependencies: dependentIDs}, nil
		}
	}

	rev := entry.UndoData.ReverseOperation
	if rev.SourcePath != "" {
		if _, err := os.Stat(rev.SourcePath); err != nil {
			return CanUndoResult{CanUndo: false, Reason: fmt.Sprintf("reverse source %s missing: %v", rev.SourcePath, err)}, nil
		}
	}
	if rev.TargetPath != "" {
		if _, err := os.Stat(rev.TargetPath); err == nil {
			return CanUndoResult{CanUndo: false, Reason: fmt.Sprintf("reverse target %s is currently occupied", rev.TargetPath)}, nil
		}
	}

	return CanUndoResult{CanUndo: true, Dependencies: entry.UndoData.Dependencies}, nil
}

// UndoOperation executes the reverse operation for a single entry and
// marks it RolledBack.
func (j *Journal) UndoOperation(id string) (UndoResult, error) {
	check, err := j.CanUndo(id)
	if err != nil {
		return UndoResult{}, err
	}
	if !check.CanUndo {
		return UndoResult{Success: false, EntryID: id, Error: check.Reason}, nil
	}

	entry, err := j.store.getEntry(id)
	if err != nil {
		return UndoResult{}, err
	}

	if err := txfile.ApplyOperation(entry.UndoData.ReverseOperation); err != nil {
		return UndoResult{Success: false, EntryID: id, Error: err.Error()}, nil
	}
	if err := j.store.markRolledBack(id); err != nil {
		return UndoResult{}, err
	}

	return UndoResult{Success: true, EntryID: id}, nil
}

// UndoTransaction undoes a transaction's committed entries in LIFO order,
// stopping and reporting on the first failure.
func (j *Journal) UndoTransaction(txID string) (BatchUndoResult, error) {
	entries, err := j.store.entriesForTransaction(txID)
	if err != nil {
		return BatchUndoResult{}, err
	}

	var undone []string
	for i := len(entries) - 1; i >= 0; i-- {
		result, err := j.UndoOperation(entries[i].ID)
		if err != nil {
			return BatchUndoResult{}, err
		}
		if !result.Success {
			return BatchUndoResult{Success: false, UndoneIDs: undone, FailedID: entries[i].ID, Error: result.Error}, nil
		}
		undone = append(undone, entries[i].ID)
	}

	return BatchUndoResult{Success: true, UndoneIDs: undone}, nil
}

// History runs a read-only, paginated query over journal entries.
func (j *Journal) History(filter HistoryFilter, page Page) ([]*Entry, error) {
	return j.store.queryHistory(filter, page)
}
