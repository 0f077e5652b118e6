package rbop

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gitvfsd/gitvfsd/internal/logger"
)

// WorkingTreeCallbacks is a concrete Callbacks implementation that
// applies a BackgroundOperation directly to a working-tree directory on
// disk. It is the default consumer wired by cmd/gitvfsd: Pre/Post are
// no-ops (there is no snapshot step needed for plain file operations),
// and PerItem dispatches on OperationKind.
//
// Every operation here is idempotent by construction — re-running it
// against an already-applied state is a harmless no-op — satisfying the
// replay requirement documented on Callbacks.
type WorkingTreeCallbacks struct {
	// Root is the working-tree directory every BackgroundOperation.Path
	// is resolved relative to.
	Root string
}

// Pre is a no-op: there is no external state to snapshot before a drain
// cycle for plain filesystem operations.
func (c WorkingTreeCallbacks) Pre() CallbackResult {
	return Ok()
}

// Post is a no-op, mirroring Pre.
func (c WorkingTreeCallbacks) Post() CallbackResult {
	return Ok()
}

// PerItem applies a single BackgroundOperation to the working tree.
func (c WorkingTreeCallbacks) PerItem(op BackgroundOperation) CallbackResult {
	switch op.Kind {
	case OpKindUpdatePlaceholder:
		return c.updatePlaceholder(op.Path)
	case OpKindDeletePlaceholder:
		return c.deletePlaceholder(op.Path)
	case OpKindRename:
		return c.rename(op.Path, op.SecondaryPath)
	case OpKindModified:
		// Marking a path as locally modified takes it out of lazy/
		// virtualized state; there is nothing further to do on disk —
		// the VFS driver already holds the real bytes.
		logger.Debug("operation %s: marked %s as locally modified", op.ID, op.Path)
		return Ok()
	default:
		return Fatal(fmt.Errorf("operation %s: unknown kind %v", op.ID, op.Kind))
	}
}

func (c WorkingTreeCallbacks) resolve(path string) string {
	return filepath.Join(c.Root, path)
}

func (c WorkingTreeCallbacks) updatePlaceholder(path string) CallbackResult {
	full := c.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Retryable(fmt.Errorf("update placeholder %s: %w", path, err))
	}
	if err := os.WriteFile(full, nil, 0o644); err != nil {
		return Retryable(fmt.Errorf("update placeholder %s: %w", path, err))
	}
	return Ok()
}

func (c WorkingTreeCallbacks) deletePlaceholder(path string) CallbackResult {
	if err := os.Remove(c.resolve(path)); err != nil && !os.IsNotExist(err) {
		return Retryable(fmt.Errorf("delete placeholder %s: %w", path, err))
	}
	return Ok()
}

func (c WorkingTreeCallbacks) rename(from, to string) CallbackResult {
	fullFrom := c.resolve(from)
	fullTo := c.resolve(to)

	if _, err := os.Stat(fullFrom); os.IsNotExist(err) {
		// Already renamed by a prior, crashed attempt at this same
		// operation — idempotent no-op.
		return Ok()
	}

	if err := os.MkdirAll(filepath.Dir(fullTo), 0o755); err != nil {
		return Retryable(fmt.Errorf("rename %s -> %s: %w", from, to, err))
	}
	if err := os.Rename(fullFrom, fullTo); err != nil {
		return Retryable(fmt.Errorf("rename %s -> %s: %w", from, to, err))
	}
	return Ok()
}
