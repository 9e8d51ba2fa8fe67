// internal/journal/store.go
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/filetidy/filetidy/internal/validator"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal_entries (
	id TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	operation_id TEXT NOT NULL,
	type TEXT NOT NULL,
	source_path TEXT NOT NULL,
	target_path TEXT,
	undo_data TEXT NOT NULL,
	metadata TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_dependencies (
	entry_id TEXT NOT NULL,
	depends_on_entry_id TEXT NOT NULL,
	PRIMARY KEY (entry_id, depends_on_entry_id)
);

CREATE INDEX IF NOT EXISTS idx_journal_transaction ON journal_entries(transaction_id);
CREATE INDEX IF NOT EXISTS idx_journal_source_path ON journal_entries(source_path);
CREATE INDEX IF NOT EXISTS idx_journal_created_at ON journal_entries(created_at);
`

// Store is the SQLite-backed Operation Journal (spec.md §4.7), modeled on
// the teacher's table-per-entity-plus-JSON-column persistence style.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite journal at path and
// initializes its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing journal schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type undoDataRow struct {
	ReverseOperation validator.FileOperation    `json:"reverse_operation"`
	OriginalMeta     validator.OperationMetadata `json:"original_meta"`
	Dependencies     []string                    `json:"dependencies"`
}

// insertEntry persists a new Committed entry along with its dependency
// edges in one transaction.
func (s *Store) insertEntry(entry Entry) error {
	undoJSON, err := json.Marshal(undoDataRow{
		ReverseOperation: entry.UndoData.ReverseOperation,
		OriginalMeta:     entry.UndoData.OriginalMeta,
		Dependencies:     entry.UndoData.Dependencies,
	})
	if err != nil {
		return fmt.Errorf("marshaling undo data: %w", err)
	}
	metaJSON, err := json.Marshal(map[string]interface{}{})
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting journal transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO journal_entries
			(id, transaction_id, operation_id, type, source_path, target_path, undo_data, metadata, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TransactionID, entry.OperationID, string(entry.Type),
		entry.SourcePath, entry.TargetPath, string(undoJSON), string(metaJSON),
		string(entry.Status), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	for _, depID := range entry.UndoData.Dependencies {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO journal_dependencies (entry_id, depends_on_entry_id) VALUES (?, ?)`,
			entry.ID, depID); err != nil {
			return fmt.Errorf("inserting journal dependency: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) getEntry(id string) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT id, transaction_id, operation_id, type, source_path, target_path, undo_data, status, created_at
		FROM journal_entries WHERE id = ?`, id)

	var entry Entry
	var undoJSON string
	var typ, status string
	var target sql.NullString

	if err := row.Scan(&entry.ID, &entry.TransactionID, &entry.OperationID, &typ, &entry.SourcePath, &target, &undoJSON, &status, &entry.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning journal entry: %w", err)
	}

	entry.Type = validator.OperationType(typ)
	entry.Status = Status(status)
	if target.Valid {
		entry.TargetPath = target.String
	}

	var undo undoDataRow
	if err := json.Unmarshal([]byte(undoJSON), &undo); err != nil {
		return nil, fmt.Errorf("unmarshaling undo data: %w", err)
	}
	entry.UndoData = UndoData{ReverseOperation: undo.ReverseOperation, OriginalMeta: undo.OriginalMeta, Dependencies: undo.Dependencies}

	return &entry, nil
}

func (s *Store) markRolledBack(id string) error {
	result, err := s.db.Exec(`UPDATE journal_entries SET status = ? WHERE id = ?`, string(StatusRolledBack), id)
	if err != nil {
		return fmt.Errorf("marking entry rolled back: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("journal entry %s not found", id)
	}
	return nil
}

// committedDependentOperationIDs returns the operationIds of committed
// entries whose sourcePath equals targetPath and were created after
// createdAfter — the dependency rule from spec.md §3's invariants and
// §4.7. An empty, non-nil-error result means no dependents block undo.
func (s *Store) committedDependentOperationIDs(targetPath string, createdAfter time.Time) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT operation_id FROM journal_entries
		WHERE status = ? AND source_path = ? AND created_at > ?`,
		string(StatusCommitted), targetPath, createdAfter)
	if err != nil {
		return nil, fmt.Errorf("checking committed dependents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var opID string
		if err := rows.Scan(&opID); err != nil {
			return nil, fmt.Errorf("scanning committed dependent: %w", err)
		}
		ids = append(ids, opID)
	}
	return ids, rows.Err()
}

func (s *Store) entriesForTransaction(txID string) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT id FROM journal_entries
		WHERE transaction_id = ? AND status = ?
		ORDER BY created_at ASC`, txID, string(StatusCommitted))
	if err != nil {
		return nil, fmt.Errorf("querying transaction entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.getEntry(id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Store) queryHistory(filter HistoryFilter, page Page) ([]*Entry, error) {
	query := `SELECT id FROM journal_entries WHERE 1=1`
	var args []interface{}

	if filter.TransactionID != "" {
		query += ` AND transaction_id = ?`
		args = append(args, filter.TransactionID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at DESC`

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, page.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal history: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.getEntry(id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// PruneOlderThan deletes RolledBack entries committed before the retention
// cutoff (spec.md §3's ≥30 days JournalEntry retention invariant applies
// to RolledBack entries; Committed entries with live undo value are never
// pruned by this call).
func (s *Store) PruneOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result, err := s.db.Exec(`DELETE FROM journal_entries WHERE status = ? AND created_at < ?`, string(StatusRolledBack), cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning journal entries: %w", err)
	}
	return result.RowsAffected()
}
