package fuseadapter

import (
	"os"
	"syscall"
	"testing"

	"github.com/jacobsa/fuse/fuseutil"

	"github.com/armos-pg/pgfuse/internal/pgfs"
)

func TestToErrnoMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want syscall.Errno
	}{
		{pgfs.ErrNotFound, syscall.ENOENT},
		{pgfs.ErrNotDir, syscall.ENOTDIR},
		{pgfs.ErrIsDir, syscall.EISDIR},
		{pgfs.ErrExists, syscall.EEXIST},
		{pgfs.ErrNotEmpty, syscall.ENOTEMPTY},
		{pgfs.ErrPermission, syscall.EPERM},
		{pgfs.ErrReadOnly, syscall.EROFS},
		{pgfs.ErrTooBig, syscall.EFBIG},
		{pgfs.ErrInconsistent, syscall.EIO},
	}
	for _, c := range cases {
		got := toErrno(c.err)
		if got != c.want {
			t.Errorf("toErrno(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestToAttributesDirectoryGetsTwoLinks(t *testing.T) {
	meta := pgfs.Meta{Mode: pgfs.ModeDir | 0755, Size: 0, Uid: 1000, Gid: 1000}
	attrs := toAttributes(meta)
	if attrs.Nlink != 2 {
		t.Fatalf("dir Nlink = %d, want 2", attrs.Nlink)
	}
	if attrs.Mode&os.ModeDir == 0 {
		t.Fatalf("dir Mode = %v, want os.ModeDir bit set", attrs.Mode)
	}
}

func TestToAttributesRegularFileGetsOneLink(t *testing.T) {
	meta := pgfs.Meta{Mode: pgfs.ModeRegular | 0644, Size: 42}
	attrs := toAttributes(meta)
	if attrs.Nlink != 1 {
		t.Fatalf("file Nlink = %d, want 1", attrs.Nlink)
	}
	if attrs.Size != 42 {
		t.Fatalf("file Size = %d, want 42", attrs.Size)
	}
}

func TestDirectEntryType(t *testing.T) {
	cases := []struct {
		mode os.FileMode
		want fuseutil.DirentType
	}{
		{os.ModeDir | 0755, fuseutil.DT_Directory},
		{os.ModeSymlink | 0777, fuseutil.DT_Link},
		{0644, fuseutil.DT_File},
	}
	for _, c := range cases {
		got := directEntryType(c.mode)
		if got != c.want {
			t.Errorf("directEntryType(%v) = %v, want %v", c.mode, got, c.want)
		}
	}
}
