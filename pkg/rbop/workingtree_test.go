package rbop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkingTreeCallbacks_UpdatePlaceholderCreatesFile(t *testing.T) {
	root := t.TempDir()
	cb := WorkingTreeCallbacks{Root: root}

	result := cb.PerItem(BackgroundOperation{ID: NewOperationID(), Kind: OpKindUpdatePlaceholder, Path: "a/b/file.txt"})
	if result.Status != Success {
		t.Fatalf("PerItem: %v", result.Err)
	}

	if _, err := os.Stat(filepath.Join(root, "a", "b", "file.txt")); err != nil {
		t.Fatalf("expected placeholder to exist: %v", err)
	}
}

func TestWorkingTreeCallbacks_DeletePlaceholderIsIdempotent(t *testing.T) {
	root := t.TempDir()
	cb := WorkingTreeCallbacks{Root: root}

	result := cb.PerItem(BackgroundOperation{ID: NewOperationID(), Kind: OpKindDeletePlaceholder, Path: "missing.txt"})
	if result.Status != Success {
		t.Fatalf("expected deleting an already-absent path to succeed, got: %v", result.Err)
	}
}

func TestWorkingTreeCallbacks_RenameMovesFile(t *testing.T) {
	root := t.TempDir()
	cb := WorkingTreeCallbacks{Root: root}

	if err := os.WriteFile(filepath.Join(root, "old.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	result := cb.PerItem(BackgroundOperation{ID: NewOperationID(), Kind: OpKindRename, Path: "old.txt", SecondaryPath: "new.txt"})
	if result.Status != Success {
		t.Fatalf("PerItem: %v", result.Err)
	}

	if _, err := os.Stat(filepath.Join(root, "new.txt")); err != nil {
		t.Fatalf("expected renamed file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected old path to be gone, stat err = %v", err)
	}
}

func TestWorkingTreeCallbacks_RenameIsIdempotentAfterCrashReplay(t *testing.T) {
	root := t.TempDir()
	cb := WorkingTreeCallbacks{Root: root}

	if err := os.WriteFile(filepath.Join(root, "new.txt"), []byte("already-renamed"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	result := cb.PerItem(BackgroundOperation{ID: NewOperationID(), Kind: OpKindRename, Path: "old.txt", SecondaryPath: "new.txt"})
	if result.Status != Success {
		t.Fatalf("expected replaying a completed rename to succeed as a no-op, got: %v", result.Err)
	}
}

func TestWorkingTreeCallbacks_UnknownKindIsFatal(t *testing.T) {
	root := t.TempDir()
	cb := WorkingTreeCallbacks{Root: root}

	result := cb.PerItem(BackgroundOperation{ID: NewOperationID(), Kind: OperationKind(99), Path: "x"})
	if result.Status != FatalError {
		t.Fatalf("expected FatalError for unknown kind, got %v", result.Status)
	}
}
