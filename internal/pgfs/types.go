// Package pgfs implements the translation layer between VFS-shaped
// filesystem operations and a Postgres-backed inode/block store: path
// resolution, metadata CRUD, and block-sharded read/write/truncate.
package pgfs

import (
	"errors"
	"os"
	"time"
)

// Mode bits for the file-type portion of dir.mode, mirroring the POSIX
// S_IFxxx constants used throughout the original C implementation.
const (
	ModeTypeMask = 0170000
	ModeDir      = 0040000
	ModeRegular  = 0100000
	ModeSymlink  = 0120000
)

// RootID is the id of the seed row created by schema initialization. It is
// also, not coincidentally, fuseops.RootInodeID: the kernel's root inode
// number and our own dir.id for "/" are the same integer, so no separate ID
// space has to be maintained anywhere above this package.
const RootID int64 = 1

// DefaultBlockSize is STANDARD_BLOCK_SIZE from the original config.h.
const DefaultBlockSize = 512

// MaxNameLength mirrors MAX_FILENAME_LENGTH from config.h.
const MaxNameLength = 4096

// Meta is the in-memory form of one dir row, equivalent to the original
// PgMeta struct in pgsql.h.
type Meta struct {
	ID       int64
	ParentID int64
	Size     int64
	Mode     uint32
	Uid      uint32
	Gid      uint32
	Ctime    time.Time
	Mtime    time.Time
	Atime    time.Time
}

// IsDir, IsRegular and IsSymlink test the file-type bits of Mode.
func (m Meta) IsDir() bool     { return m.Mode&ModeTypeMask == ModeDir }
func (m Meta) IsRegular() bool { return m.Mode&ModeTypeMask == ModeRegular }
func (m Meta) IsSymlink() bool { return m.Mode&ModeTypeMask == ModeSymlink }

// ModeToFileMode maps the file-type bits stored in a dir.mode column to the
// os.FileMode bits callers outside this package (fuseadapter, pgfake) need
// for readdir entries and inode attributes, leaving permission bits as-is.
func ModeToFileMode(mode uint32) os.FileMode {
	perm := os.FileMode(mode & 0777)
	switch mode & ModeTypeMask {
	case ModeDir:
		return perm | os.ModeDir
	case ModeSymlink:
		return perm | os.ModeSymlink
	default:
		return perm
	}
}

// Sentinel errors returned by this package. The dispatcher layer
// (internal/fuseadapter) maps these to syscall.Errno values; nothing in this
// package depends on how a caller surfaces them.
var (
	ErrNotFound     = errors.New("pgfs: no such entry")
	ErrNotDir       = errors.New("pgfs: not a directory")
	ErrIsDir        = errors.New("pgfs: is a directory")
	ErrExists       = errors.New("pgfs: entry already exists")
	ErrNotEmpty     = errors.New("pgfs: directory not empty")
	ErrPermission   = errors.New("pgfs: operation not permitted")
	ErrReadOnly     = errors.New("pgfs: filesystem is read-only")
	ErrTooBig       = errors.New("pgfs: value too large")
	ErrInconsistent = errors.New("pgfs: database invariant violated")
)

// DirEntry is one row returned by Readdir, sufficient to fill a kernel
// directory buffer entry.
type DirEntry struct {
	Name string
	Mode os.FileMode
}

// expectedHandlerErrors are precondition failures a handler can return in
// the ordinary course of business (no such file, directory not empty, ...);
// these are never logged as server errors, only the errno they map to is
// returned to the kernel.
var expectedHandlerErrors = map[error]bool{
	ErrNotFound:   true,
	ErrNotDir:     true,
	ErrIsDir:      true,
	ErrExists:     true,
	ErrNotEmpty:   true,
	ErrPermission: true,
	ErrReadOnly:   true,
	ErrTooBig:     true,
}

// isExpectedHandlerError reports whether err is one of the sentinel
// precondition errors above, as opposed to a wrapped SQL failure that
// deserves an ERROR-level log line.
func isExpectedHandlerError(err error) bool {
	return expectedHandlerErrors[err]
}
