package pgfs

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/armos-pg/pgfuse/internal/pgfake"
)

// fakeRunner runs fn directly against a shared in-memory Store, with no
// pooling and no real transaction/rollback semantics: good enough to
// exercise the handler logic in fs.go, not the pool/transaction plumbing
// in txn.go (pool_test.go and the real pgStore are exercised separately).
type fakeRunner struct {
	store Store
}

func (r *fakeRunner) run(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	return fn(ctx, r.store)
}

func newTestFilesystem(t *testing.T, readOnly bool) *Filesystem {
	t.Helper()
	return &Filesystem{
		cfg:       Config{ReadOnly: readOnly},
		runner:    &fakeRunner{store: pgfake.New()},
		blockSize: testBlockSize,
		logger:    nopLogger{},
	}
}

func TestCreateWriteReadScenario(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	created, err := fs.CreateFile(ctx, RootID, "a", 0644, 1, 1)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	data := bytes.Repeat([]byte{0x41}, 1000)
	n, err := fs.Write(ctx, created.ID, 0, data)
	if err != nil || n != 1000 {
		t.Fatalf("Write = (%d, %v), want (1000, nil)", n, err)
	}

	meta, err := fs.GetAttr(ctx, created.ID)
	if err != nil || meta.Size != 1000 {
		t.Fatalf("GetAttr size = %d (err %v), want 1000", meta.Size, err)
	}

	got, err := fs.Read(ctx, created.ID, 0, 1000)
	if err != nil || len(got) != 1000 {
		t.Fatalf("Read = (%d bytes, %v), want 1000", len(got), err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read content mismatch")
	}

	got, err = fs.Read(ctx, created.ID, 999, 1000)
	if err != nil || len(got) != 1 || got[0] != 0x41 {
		t.Fatalf("tail read = %v (err %v), want one byte 0x41", got, err)
	}

	got, err = fs.Read(ctx, created.ID, 1000, 1000)
	if err != nil || len(got) != 0 {
		t.Fatalf("read past EOF = %v (err %v), want 0 bytes", got, err)
	}
}

func TestTruncateShrinkThenGrowScenario(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	created, err := fs.CreateFile(ctx, RootID, "t", 0644, 1, 1)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := fs.Write(ctx, created.ID, 0, bytes.Repeat([]byte{0x11}, 1500)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	meta, err := fs.Truncate(ctx, created.ID, 600)
	if err != nil || meta.Size != 600 {
		t.Fatalf("Truncate shrink: size=%d err=%v, want 600", meta.Size, err)
	}
	got, err := fs.Read(ctx, created.ID, 0, 2000)
	if err != nil || len(got) != 600 {
		t.Fatalf("Read after shrink: %d bytes err=%v, want 600", len(got), err)
	}

	meta, err = fs.Truncate(ctx, created.ID, 2000)
	if err != nil || meta.Size != 2000 {
		t.Fatalf("Truncate grow: size=%d err=%v, want 2000", meta.Size, err)
	}
	got, err = fs.Read(ctx, created.ID, 0, 2000)
	if err != nil || len(got) != 2000 {
		t.Fatalf("Read after grow: %d bytes err=%v, want 2000", len(got), err)
	}
	for i := 0; i < 600; i++ {
		if got[i] != 0x11 {
			t.Fatalf("byte %d = %#x, want 0x11", i, got[i])
		}
	}
	for i := 600; i < 2000; i++ {
		if got[i] != 0 {
			t.Fatalf("byte %d = %#x, want 0x00", i, got[i])
		}
	}
}

func TestDirectoryLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	d, err := fs.Mkdir(ctx, RootID, "d", 0755, 1, 1)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := fs.CreateFile(ctx, d.ID, "f", 0644, 1, 1); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if err := fs.Rmdir(ctx, RootID, "d"); err != ErrNotEmpty {
		t.Fatalf("Rmdir non-empty = %v, want ErrNotEmpty", err)
	}

	if err := fs.Unlink(ctx, d.ID, "f"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := fs.Rmdir(ctx, RootID, "d"); err != nil {
		t.Fatalf("Rmdir empty: %v", err)
	}

	if _, err := fs.GetAttr(ctx, d.ID); err != ErrNotFound {
		t.Fatalf("GetAttr after rmdir = %v, want ErrNotFound", err)
	}
}

func TestRenameAcrossDirectoriesScenario(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	a, err := fs.Mkdir(ctx, RootID, "a", 0755, 1, 1)
	if err != nil {
		t.Fatalf("Mkdir a: %v", err)
	}
	b, err := fs.Mkdir(ctx, RootID, "b", 0755, 1, 1)
	if err != nil {
		t.Fatalf("Mkdir b: %v", err)
	}
	x, err := fs.CreateFile(ctx, a.ID, "x", 0644, 1, 1)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := fs.Write(ctx, x.ID, 0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := fs.Rename(ctx, a.ID, "x", b.ID, "y"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	got, err := fs.Lookup(ctx, b.ID, "y")
	if err != nil {
		t.Fatalf("Lookup renamed: %v", err)
	}
	data, err := fs.Read(ctx, got.ID, 0, 3)
	if err != nil || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Fatalf("Read renamed content = %v (err %v), want [1 2 3]", data, err)
	}

	if _, err := fs.Lookup(ctx, a.ID, "x"); err != ErrNotFound {
		t.Fatalf("Lookup old location = %v, want ErrNotFound", err)
	}
}

func TestSymlinkRoundTripScenario(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	link, err := fs.Symlink(ctx, RootID, "link", "/target", 1, 1)
	if err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if !link.IsSymlink() {
		t.Fatalf("created entry is not a symlink: mode=%o", link.Mode)
	}

	target, err := fs.Readlink(ctx, link.ID)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "/target" {
		t.Fatalf("Readlink = %q, want %q", target, "/target")
	}
}

func TestCreateFileRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	if _, err := fs.CreateFile(ctx, RootID, "dup", 0644, 1, 1); err != nil {
		t.Fatalf("first CreateFile: %v", err)
	}
	if _, err := fs.CreateFile(ctx, RootID, "dup", 0644, 1, 1); err != ErrExists {
		t.Fatalf("second CreateFile = %v, want ErrExists", err)
	}

	if _, err := fs.Mkdir(ctx, RootID, "adir", 0755, 1, 1); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := fs.CreateFile(ctx, RootID, "adir", 0644, 1, 1); err != ErrIsDir {
		t.Fatalf("CreateFile over existing dir = %v, want ErrIsDir", err)
	}
}

func TestUnlinkRejectsDirectory(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	d, err := fs.Mkdir(ctx, RootID, "d", 0755, 1, 1)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fs.Unlink(ctx, RootID, "d"); err != ErrPermission {
		t.Fatalf("Unlink directory = %v, want ErrPermission", err)
	}
	_ = d
}

func TestReadOnlyFilesystemRejectsWrites(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, true)

	if _, err := fs.Mkdir(ctx, RootID, "d", 0755, 1, 1); err != ErrReadOnly {
		t.Fatalf("Mkdir on read-only fs = %v, want ErrReadOnly", err)
	}
	if _, err := fs.CreateFile(ctx, RootID, "f", 0644, 1, 1); err != ErrReadOnly {
		t.Fatalf("CreateFile on read-only fs = %v, want ErrReadOnly", err)
	}
}

func TestUtimensRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	f, err := fs.CreateFile(ctx, RootID, "f", 0644, 1, 1)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	atime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mtime := time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC)
	meta, err := fs.SetAttr(ctx, f.ID, SetAttrRequest{Atime: &atime, Mtime: &mtime})
	if err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if !meta.Atime.Equal(atime) || !meta.Mtime.Equal(mtime) {
		t.Fatalf("SetAttr result atime=%v mtime=%v, want %v/%v", meta.Atime, meta.Mtime, atime, mtime)
	}

	reread, err := fs.GetAttr(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if !reread.Atime.Equal(atime) || !reread.Mtime.Equal(mtime) {
		t.Fatalf("GetAttr atime=%v mtime=%v, want %v/%v", reread.Atime, reread.Mtime, atime, mtime)
	}
}

func TestReaddirListsChildrenAndSkipsRoot(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t, false)

	if _, err := fs.Mkdir(ctx, RootID, "d1", 0755, 1, 1); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := fs.CreateFile(ctx, RootID, "f1", 0644, 1, 1); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	entries, err := fs.Readdir(ctx, RootID)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Readdir returned %d entries, want 2: %+v", len(entries), entries)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["d1"] || !names["f1"] {
		t.Fatalf("Readdir entries = %+v, missing d1/f1", entries)
	}
}

func TestStatfsReflectsReadOnlyAndBlockSize(t *testing.T) {
	fs := newTestFilesystem(t, true)
	res := fs.Statfs(context.Background())
	if !res.ReadOnly {
		t.Fatalf("Statfs.ReadOnly = false, want true")
	}
	if res.BlockSize != testBlockSize {
		t.Fatalf("Statfs.BlockSize = %d, want %d", res.BlockSize, testBlockSize)
	}
}
