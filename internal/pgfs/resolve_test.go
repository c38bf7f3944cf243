package pgfs

import (
	"context"
	"testing"

	"github.com/armos-pg/pgfuse/internal/pgfake"
)

func TestResolvePathRoot(t *testing.T) {
	store := pgfake.New()
	ctx := context.Background()

	id, meta, err := resolvePath(ctx, store, "/")
	if err != nil {
		t.Fatalf("resolvePath(/): %v", err)
	}
	if id != RootID {
		t.Fatalf("resolvePath(/) = %d, want RootID %d", id, RootID)
	}
	if !meta.IsDir() {
		t.Fatalf("root meta is not a directory: mode=%o", meta.Mode)
	}
}

func TestResolvePathNestedComponents(t *testing.T) {
	store := pgfake.New()
	ctx := context.Background()

	dID, err := store.CreateEntry(ctx, RootID, "d", Meta{Mode: ModeDir | 0755})
	if err != nil {
		t.Fatalf("create d: %v", err)
	}
	fID, err := store.CreateEntry(ctx, dID, "f", Meta{Mode: ModeRegular | 0644})
	if err != nil {
		t.Fatalf("create f: %v", err)
	}

	id, _, err := resolvePath(ctx, store, "/d/f")
	if err != nil {
		t.Fatalf("resolvePath(/d/f): %v", err)
	}
	if id != fID {
		t.Fatalf("resolvePath(/d/f) = %d, want %d", id, fID)
	}
}

func TestResolvePathMissingComponentIsNotFound(t *testing.T) {
	store := pgfake.New()
	ctx := context.Background()

	if _, _, err := resolvePath(ctx, store, "/nope"); err != ErrNotFound {
		t.Fatalf("resolvePath(/nope) = %v, want ErrNotFound", err)
	}
}

func TestResolvePathThroughNonDirectoryFails(t *testing.T) {
	store := pgfake.New()
	ctx := context.Background()

	if _, err := store.CreateEntry(ctx, RootID, "f", Meta{Mode: ModeRegular | 0644}); err != nil {
		t.Fatalf("create f: %v", err)
	}

	if _, _, err := resolvePath(ctx, store, "/f/child"); err != ErrNotDir {
		t.Fatalf("resolvePath(/f/child) = %v, want ErrNotDir", err)
	}
}
