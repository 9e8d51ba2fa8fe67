// internal/txfile/fileops.go
package txfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/filetidy/filetidy/internal/validator"
)

// ApplyOperation runs a single filesystem operation. It is exported for
// internal/journal's undo path, which needs to apply a reverse operation
// outside of any transaction.
func ApplyOperation(op validator.FileOperation) error {
	return applyOperation(op)
}

func applyOperation(op validator.FileOperation) error {
	switch op.Type {
	case validator.OpRename, validator.OpMove:
		if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0o755); err != nil {
			return fmt.Errorf("creating target directory: %w", err)
		}
		if err := os.Rename(op.SourcePath, op.TargetPath); err != nil {
			return fmt.Errorf("renaming %s to %s: %w", op.SourcePath, op.TargetPath, err)
		}
	case validator.OpCopy:
		if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0o755); err != nil {
			return fmt.Errorf("creating target directory: %w", err)
		}
		if err := copyFile(op.SourcePath, op.TargetPath); err != nil {
			return fmt.Errorf("copying %s to %s: %w", op.SourcePath, op.TargetPath, err)
		}
	case validator.OpDelete:
		if err := os.Remove(op.SourcePath); err != nil {
			return fmt.Errorf("deleting %s: %w", op.SourcePath, err)
		}
	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// needsBackup decides whether an operation must be backed up before it
// runs: destructive deletes always are, as is any rename/move that would
// overwrite an existing target, and anything the caller explicitly asked
// to back up.
func needsBackup(op validator.FileOperation) bool {
	if op.Metadata.CreateBackup || op.Type == validator.OpDelete {
		return true
	}
	if op.Type == validator.OpRename || op.Type == validator.OpMove {
		if _, err := os.Stat(op.TargetPath); err == nil {
			return true
		}
	}
	return false
}

func makeBackup(backupDir string, op validator.FileOperation) (string, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s-%s", uuid.New().String(), filepath.Base(op.SourcePath)))
	if err := copyFile(op.SourcePath, backupPath); err != nil {
		return "", fmt.Errorf("backing up %s: %w", op.SourcePath, err)
	}
	return backupPath, nil
}

// computeReverse derives the inverse of op. For a delete, the reverse is a
// copy from the pre-computed backup back to the original path; for a copy,
// it is a delete of the copied target; for a rename or move it swaps
// source and target.
func computeReverse(op validator.FileOperation, backupRef string) validator.FileOperation {
	switch op.Type {
	case validator.OpRename, validator.OpMove:
		return validator.FileOperation{
			ID: op.ID + "-reverse", Type: op.Type,
			SourcePath: op.TargetPath, TargetPath: op.SourcePath,
		}
	case validator.OpCopy:
		return validator.FileOperation{
			ID: op.ID + "-reverse", Type: validator.OpDelete,
			SourcePath: op.TargetPath,
		}
	case validator.OpDelete:
		return validator.FileOperation{
			ID: op.ID + "-reverse", Type: validator.OpCopy,
			SourcePath: backupRef, TargetPath: op.SourcePath,
		}
	}
	return validator.FileOperation{}
}
