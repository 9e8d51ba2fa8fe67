// internal/validator/validator.go
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
)

const (
	maxTargetPathLen = 260
	maxBasenameLen   = 255
	diskSpaceBuffer  = 0.10
	diskSpaceWarnAt  = 2.0 // warn when available is less than 2x the requirement
)

var illegalBasenameChars = []rune{'<', '>', ':', '"', '|', '?', '*'}

// reservedBasenames mirrors the classic Windows device-name reserved set;
// the daemon runs cross-platform but a rename that would collide with one
// of these is never a name anyone wants regardless of host OS.
var reservedBasenames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SpaceChecker reports bytes available on the filesystem containing path.
// Abstracted so tests can inject a fake instead of statting a real disk.
type SpaceChecker interface {
	AvailableBytes(path string) (uint64, error)
}

type statfsSpaceChecker struct{}

func (statfsSpaceChecker) AvailableBytes(path string) (uint64, error) {
	dir := path
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// Validator runs the Operation Validator's static checks (spec.md §4.5).
// It does not modify the files or directories it checks; its only write is
// a short-lived probe file used to test directory writability.
type Validator struct {
	protectedPrefixes []string
	spaceChecker      SpaceChecker
}

// New creates a Validator. protectedPrefixes are absolute path prefixes
// that are critical to touch (e.g. the OS root, the daemon's own install
// directory).
func New(protectedPrefixes []string, spaceChecker SpaceChecker) *Validator {
	if spaceChecker == nil {
		spaceChecker = statfsSpaceChecker{}
	}
	return &Validator{protectedPrefixes: protectedPrefixes, spaceChecker: spaceChecker}
}

// ValidateOperation runs every per-operation check against a single
// FileOperation.
func (v *Validator) ValidateOperation(op FileOperation) *Result {
	result := newResult()

	if op.Type != OpDelete {
		if info, err := os.Stat(op.SourcePath); err != nil {
			result.add(Issue{
				Code: "SOURCE_MISSING", Severity: SeverityError,
				Message: fmt.Sprintf("source %s does not exist or is unreadable: %v", op.SourcePath, err),
				Paths:   []string{op.SourcePath},
			})
		} else if !info.Mode().IsRegular() {
			result.add(Issue{
				Code: "SOURCE_NOT_REGULAR", Severity: SeverityError,
				Message: fmt.Sprintf("source %s is not a regular file", op.SourcePath),
				Paths:   []string{op.SourcePath},
			})
		}
	}

	if f, err := os.Open(op.SourcePath); err == nil {
		f.Close()
	} else if op.Type != OpDelete {
		result.add(Issue{
			Code: "SOURCE_UNREADABLE", Severity: SeverityError,
			Message: fmt.Sprintf("source %s is not readable: %v", op.SourcePath, err),
			Paths:   []string{op.SourcePath},
		})
	}

	sourceDir := filepath.Dir(op.SourcePath)
	if !isWritableDir(sourceDir) {
		result.add(Issue{
			Code: "SOURCE_DIR_NOT_WRITABLE", Severity: SeverityError,
			Message: fmt.Sprintf("source directory %s is not writable", sourceDir),
			Paths:   []string{sourceDir},
		})
	}

	if op.TargetPath != "" {
		v.validateTargetLocked(op, result)
	}

	for _, prefix := range v.protectedPrefixes {
		if strings.HasPrefix(op.SourcePath, prefix) || strings.HasPrefix(op.TargetPath, prefix) {
			result.add(Issue{
				Code: "PROTECTED_PATH", Severity: SeverityCritical,
				Message:    fmt.Sprintf("operation touches protected path prefix %s", prefix),
				Paths:      []string{op.SourcePath, op.TargetPath},
				Resolution: "remove this operation or reconfigure the protected-prefix set",
			})
		}
	}

	return result
}

func (v *Validator) validateTargetLocked(op FileOperation, result *Result) {
	targetDir := filepath.Dir(op.TargetPath)
	if _, err := os.Stat(targetDir); os.IsNotExist(err) {
		// Will be created at execution time; not itself an error.
	} else if !isWritableDir(targetDir) {
		result.add(Issue{
			Code: "TARGET_DIR_NOT_WRITABLE", Severity: SeverityError,
			Message: fmt.Sprintf("target directory %s is not writable", targetDir),
			Paths:   []string{targetDir},
		})
	}

	if len(op.TargetPath) > maxTargetPathLen {
		result.add(Issue{
			Code: "TARGET_PATH_TOO_LONG", Severity: SeverityError,
			Message: fmt.Sprintf("target path length %d exceeds %d", len(op.TargetPath), maxTargetPathLen),
			Paths:   []string{op.TargetPath},
		})
	}

	base := filepath.Base(op.TargetPath)
	if len(base) > maxBasenameLen {
		result.add(Issue{
			Code: "TARGET_BASENAME_TOO_LONG", Severity: SeverityError,
			Message: fmt.Sprintf("target basename length %d exceeds %d", len(base), maxBasenameLen),
			Paths:   []string{op.TargetPath},
		})
	}

	if containsIllegalChar(base) {
		result.add(Issue{
			Code: "TARGET_BASENAME_ILLEGAL_CHARS", Severity: SeverityError,
			Message: fmt.Sprintf("target basename %q contains illegal characters", base),
			Paths:   []string{op.TargetPath},
		})
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if reservedBasenames[strings.ToUpper(stem)] {
		result.add(Issue{
			Code: "TARGET_BASENAME_RESERVED", Severity: SeverityError,
			Message: fmt.Sprintf("target basename %q is a reserved name", base),
			Paths:   []string{op.TargetPath},
		})
	}

	if base != strings.TrimSpace(base) || strings.HasPrefix(base, ".") && base != "." && base != ".." || strings.HasSuffix(base, ".") {
		result.add(Issue{
			Code: "TARGET_BASENAME_LEADING_TRAILING", Severity: SeverityWarning,
			Message: fmt.Sprintf("target basename %q has leading/trailing spaces or dots", base),
			Paths:   []string{op.TargetPath},
		})
	}

	if _, err := os.Stat(op.TargetPath); err == nil && !op.Metadata.Force {
		result.add(Issue{
			Code: "TARGET_EXISTS", Severity: SeverityWarning,
			Message:    fmt.Sprintf("target %s already exists", op.TargetPath),
			Paths:      []string{op.TargetPath},
			Resolution: "set force=true to overwrite, or choose a different target",
		})
	}
}

func containsIllegalChar(s string) bool {
	for _, r := range s {
		if r < 0x20 {
			return true
		}
		for _, bad := range illegalBasenameChars {
			if r == bad {
				return true
			}
		}
	}
	return false
}

func isWritableDir(dir string) bool {
	probe := filepath.Join(dir, ".filetidy-writable-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// ValidateBatch runs every per-operation check plus the cross-operation
// batch checks from spec.md §4.5: target collision, source-becomes-target
// chains, cycle detection, and disk space.
func (v *Validator) ValidateBatch(ops []FileOperation) *Result {
	result := newResult()

	for _, op := range ops {
		result.merge(v.ValidateOperation(op))
	}

	result.merge(v.checkTargetCollisions(ops))
	result.merge(v.checkSourceBecomesTargetChains(ops))
	result.merge(v.checkCycles(ops))
	result.merge(v.checkDiskSpace(ops))

	return result
}

func (v *Validator) checkTargetCollisions(ops []FileOperation) *Result {
	result := newResult()
	seen := make(map[string][]string)
	for _, op := range ops {
		if op.TargetPath == "" {
			continue
		}
		norm := filepath.Clean(op.TargetPath)
		seen[norm] = append(seen[norm], op.ID)
	}
	for target, ids := range seen {
		if len(ids) > 1 {
			result.add(Issue{
				Code: "TARGET_COLLISION", Severity: SeverityError,
				Message: fmt.Sprintf("%d operations resolve to the same target %s", len(ids), target),
				Paths:   []string{target},
			})
		}
	}
	return result
}

func (v *Validator) checkSourceBecomesTargetChains(ops []FileOperation) *Result {
	result := newResult()
	targets := make(map[string]string) // normalized target -> op id
	for _, op := range ops {
		if op.TargetPath != "" {
			targets[filepath.Clean(op.TargetPath)] = op.ID
		}
	}
	for _, op := range ops {
		norm := filepath.Clean(op.SourcePath)
		if otherID, ok := targets[norm]; ok && otherID != op.ID {
			result.add(Issue{
				Code: "SOURCE_BECOMES_TARGET", Severity: SeverityWarning,
				Message: fmt.Sprintf("operation %s's source %s is operation %s's target", op.ID, op.SourcePath, otherID),
				Paths:   []string{op.SourcePath},
			})
		}
	}
	return result
}

// checkCycles builds a dependency graph where an edge A -> B means "B's
// source lives under A's target directory", and reports a cycle as error.
func (v *Validator) checkCycles(ops []FileOperation) *Result {
	result := newResult()

	edges := make(map[string][]string)
	for _, a := range ops {
		if a.TargetPath == "" {
			continue
		}
		targetDir := filepath.Dir(filepath.Clean(a.TargetPath))
		for _, b := range ops {
			if a.ID == b.ID {
				continue
			}
			if isAncestorDir(targetDir, b.SourcePath) {
				edges[a.ID] = append(edges[a.ID], b.ID)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var cyclic []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range edges[id] {
			if color[next] == gray {
				cyclic = append(cyclic, id, next)
				return true
			}
			if color[next] == white && visit(next) {
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, op := range ops {
		if color[op.ID] == white {
			if visit(op.ID) {
				result.add(Issue{
					Code: "DEPENDENCY_CYCLE", Severity: SeverityError,
					Message: "operations form a dependency cycle through their target/source directories",
					Paths:   cyclic,
				})
				break
			}
		}
	}

	return result
}

func isAncestorDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, filepath.Dir(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}

func (v *Validator) checkDiskSpace(ops []FileOperation) *Result {
	result := newResult()
	if len(ops) == 0 {
		return result
	}

	var required uint64
	byTargetFS := make(map[string]uint64)
	for _, op := range ops {
		if op.TargetPath == "" {
			continue
		}
		info, err := os.Stat(op.SourcePath)
		if err != nil {
			continue
		}
		required += uint64(info.Size())
		byTargetFS[filepath.Dir(op.TargetPath)] += uint64(info.Size())
	}
	if required == 0 {
		return result
	}

	for dir, need := range byTargetFS {
		available, err := v.spaceChecker.AvailableBytes(dir)
		if err != nil {
			result.add(Issue{
				Code: "DISK_SPACE_UNKNOWN", Severity: SeverityWarning,
				Message: fmt.Sprintf("could not determine free space for %s: %v", dir, err),
				Paths:   []string{dir},
			})
			continue
		}

		budget := float64(available) * (1 - diskSpaceBuffer)
		if float64(need) > budget {
			result.add(Issue{
				Code: "DISK_SPACE_INSUFFICIENT", Severity: SeverityError,
				Message: fmt.Sprintf("need %s on %s but only %s available (after 10%% buffer)",
					humanize.Bytes(need), dir, humanize.Bytes(available)),
				Paths: []string{dir},
			})
		} else if float64(need)*diskSpaceWarnAt > budget {
			result.add(Issue{
				Code: "DISK_SPACE_LOW", Severity: SeverityWarning,
				Message: fmt.Sprintf("need %s on %s; only %s available, less than 2x headroom",
					humanize.Bytes(need), dir, humanize.Bytes(available)),
				Paths: []string{dir},
			})
		}
	}

	return result
}
