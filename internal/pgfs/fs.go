package pgfs

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Config holds everything a Filesystem needs and never changes again after
// Mount: the original C implementation reached the same values through
// getopt and a few globals, read freely from any thread once set.
type Config struct {
	ConnInfo       string
	ReadOnly       bool
	SingleThreaded bool
	Verbose        bool
	PoolSize       int
	BlockSize      int

	// Uid/Gid own the root row when schema bootstrap seeds it. Entries
	// created later take the uid/gid their handler is called with.
	Uid, Gid uint32

	DirMode  os.FileMode
	FileMode os.FileMode
}

func (c Config) poolSize() int {
	if c.SingleThreaded {
		return 1
	}
	if c.PoolSize > 0 {
		return c.PoolSize
	}
	return 10
}

func (c Config) blockSize() int {
	if c.BlockSize > 0 {
		return c.BlockSize
	}
	return DefaultBlockSize
}

// Filesystem is the Postgres-backed core of pgfuse: every method here
// operates on inode ids, never paths, leaving path-to-id resolution to
// callers that still need it (the one exception is resolvePath, used for
// mount-time sanity checks and tests).
type Filesystem struct {
	cfg       Config
	pool      *connPool
	runner    storeRunner
	blockSize int
	logger    Logger
}

// NewFilesystem opens the connection pool, bootstraps the schema if
// necessary, verifies integer_datetimes, negotiates the block size against
// any existing data, and returns a ready-to-use Filesystem. It does not
// mount anything; that is internal/fuseadapter's job.
func NewFilesystem(cfg Config, logger Logger) (*Filesystem, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	pool, err := newConnPool(cfg.ConnInfo, cfg.poolSize())
	if err != nil {
		return nil, err
	}

	boot := pool.slots[0]
	if err := checkIntegerDatetimes(boot); err != nil {
		pool.closeAll()
		return nil, err
	}

	rootMode := uint32(ModeDir) | uint32(cfg.DirMode.Perm())
	if cfg.DirMode == 0 {
		rootMode = uint32(ModeDir) | 0755
	}
	if !cfg.ReadOnly {
		if err := bootstrapSchema(boot, rootMode, cfg.Uid, cfg.Gid); err != nil {
			pool.closeAll()
			return nil, err
		}
	}

	blockSize, err := negotiateBlockSize(boot, cfg.blockSize())
	if err != nil {
		pool.closeAll()
		return nil, err
	}

	// Check that the seed root row with id RootID exists and can be read, by
	// resolving "/" the same whole-path way a CLI or test harness would,
	// before handing out a Filesystem that the per-component fuseadapter walk
	// relies on. The row's name, parent_id and uniqueness are not checked.
	if rootID, _, err := resolvePath(context.Background(), newPgStore(boot, blockSize), "/"); err != nil {
		pool.closeAll()
		return nil, fmt.Errorf("pgfs: resolving root row: %w", err)
	} else if rootID != RootID {
		pool.closeAll()
		return nil, fmt.Errorf("pgfs: root row has id %d, want %d: %w", rootID, RootID, ErrInconsistent)
	}

	return &Filesystem{
		cfg:       cfg,
		pool:      pool,
		runner:    &poolRunner{pool: pool, blockSize: blockSize, logger: logger},
		blockSize: blockSize,
		logger:    logger,
	}, nil
}

// Close releases every pooled connection. Called once at unmount.
func (fs *Filesystem) Close() error {
	return fs.pool.closeAll()
}

// BlockSize reports the block size negotiated at mount time.
func (fs *Filesystem) BlockSize() int {
	return fs.blockSize
}

// ReadOnly reports whether write operations must fail with ErrReadOnly.
func (fs *Filesystem) ReadOnly() bool {
	return fs.cfg.ReadOnly
}

func (fs *Filesystem) logEntry(op string, args ...interface{}) {
	if fs.cfg.Verbose {
		fs.logger.Infof(op+" "+verboseArgsFormat(len(args)), args...)
	}
}

func verboseArgsFormat(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += " "
		}
		s += "%v"
	}
	return s
}

// rejectIfReadOnly is the first check every mutating handler performs.
func (fs *Filesystem) rejectIfReadOnly() error {
	if fs.cfg.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// GetAttr resolves id and returns its metadata, for the getattr operation.
func (fs *Filesystem) GetAttr(ctx context.Context, id int64) (Meta, error) {
	fs.logEntry("getattr", id)
	var meta Meta
	err := fs.readOnlyTxn(ctx, func(ctx context.Context, store Store) error {
		m, err := store.ReadMeta(ctx, id)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

// Lookup resolves one path component under parentID, for the kernel's
// per-component walk.
func (fs *Filesystem) Lookup(ctx context.Context, parentID int64, name string) (Meta, error) {
	fs.logEntry("lookup", parentID, name)
	var meta Meta
	err := fs.readOnlyTxn(ctx, func(ctx context.Context, store Store) error {
		childID, _, err := store.LookupChild(ctx, parentID, name)
		if err != nil {
			return err
		}
		m, err := store.ReadMeta(ctx, childID)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

// Mkdir creates a new directory entry under parentID.
func (fs *Filesystem) Mkdir(ctx context.Context, parentID int64, name string, mode os.FileMode, uid, gid uint32) (Meta, error) {
	fs.logEntry("mkdir", parentID, name, mode)
	var created Meta
	err := fs.withTxn(ctx, func(ctx context.Context, store Store) error {
		if err := fs.rejectIfReadOnly(); err != nil {
			return err
		}
		parent, err := store.ReadMeta(ctx, parentID)
		if err != nil {
			return err
		}
		if !parent.IsDir() {
			return ErrNotDir
		}
		if _, _, err := store.LookupChild(ctx, parentID, name); err == nil {
			return ErrExists
		} else if err != ErrNotFound {
			return err
		}

		now := time.Now()
		m := Meta{
			ParentID: parentID,
			Mode:     ModeDir | uint32(mode.Perm()),
			Uid:      uid,
			Gid:      gid,
			Ctime:    now,
			Mtime:    now,
			Atime:    now,
		}
		id, err := store.CreateEntry(ctx, parentID, name, m)
		if err != nil {
			return err
		}
		m.ID = id
		created = m
		return nil
	})
	return created, err
}

// Rmdir removes an empty directory.
func (fs *Filesystem) Rmdir(ctx context.Context, parentID int64, name string) error {
	fs.logEntry("rmdir", parentID, name)
	return fs.withTxn(ctx, func(ctx context.Context, store Store) error {
		if err := fs.rejectIfReadOnly(); err != nil {
			return err
		}
		id, _, err := store.LookupChild(ctx, parentID, name)
		if err != nil {
			return err
		}
		meta, err := store.ReadMeta(ctx, id)
		if err != nil {
			return err
		}
		if !meta.IsDir() {
			return ErrNotDir
		}
		n, err := store.CountChildren(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrNotEmpty
		}
		return store.DeleteRow(ctx, id)
	})
}

// CreateFile creates a new regular-file entry and returns its metadata; the
// returned id doubles as the open file handle, per the spec's stateless
// handle design.
func (fs *Filesystem) CreateFile(ctx context.Context, parentID int64, name string, mode os.FileMode, uid, gid uint32) (Meta, error) {
	fs.logEntry("create", parentID, name, mode)
	var created Meta
	err := fs.withTxn(ctx, func(ctx context.Context, store Store) error {
		if err := fs.rejectIfReadOnly(); err != nil {
			return err
		}
		parent, err := store.ReadMeta(ctx, parentID)
		if err != nil {
			return err
		}
		if !parent.IsDir() {
			return ErrNotDir
		}
		if _, existingMode, err := store.LookupChild(ctx, parentID, name); err == nil {
			if (Meta{Mode: existingMode}).IsDir() {
				return ErrIsDir
			}
			return ErrExists
		} else if err != ErrNotFound {
			return err
		}

		now := time.Now()
		m := Meta{
			ParentID: parentID,
			Mode:     ModeRegular | uint32(mode.Perm()),
			Uid:      uid,
			Gid:      gid,
			Ctime:    now,
			Mtime:    now,
			Atime:    now,
		}
		id, err := store.CreateEntry(ctx, parentID, name, m)
		if err != nil {
			return err
		}
		m.ID = id
		created = m
		return nil
	})
	return created, err
}

// Unlink removes a non-directory entry.
func (fs *Filesystem) Unlink(ctx context.Context, parentID int64, name string) error {
	fs.logEntry("unlink", parentID, name)
	return fs.withTxn(ctx, func(ctx context.Context, store Store) error {
		if err := fs.rejectIfReadOnly(); err != nil {
			return err
		}
		id, _, err := store.LookupChild(ctx, parentID, name)
		if err != nil {
			return err
		}
		meta, err := store.ReadMeta(ctx, id)
		if err != nil {
			return err
		}
		if meta.IsDir() {
			return ErrPermission
		}
		return store.DeleteRow(ctx, id)
	})
}

// Rename moves the entry named oldName under oldParentID to newName under
// newParentID, deleting any entry already present under the new name.
func (fs *Filesystem) Rename(ctx context.Context, oldParentID int64, oldName string, newParentID int64, newName string) error {
	fs.logEntry("rename", oldParentID, oldName, newParentID, newName)
	return fs.withTxn(ctx, func(ctx context.Context, store Store) error {
		if err := fs.rejectIfReadOnly(); err != nil {
			return err
		}
		fromParent, err := store.ReadMeta(ctx, oldParentID)
		if err != nil {
			return err
		}
		if !fromParent.IsDir() {
			return ErrNotDir
		}
		toParent, err := store.ReadMeta(ctx, newParentID)
		if err != nil {
			return err
		}
		if !toParent.IsDir() {
			return ErrNotDir
		}
		id, _, err := store.LookupChild(ctx, oldParentID, oldName)
		if err != nil {
			return err
		}
		if existingID, _, err := store.LookupChild(ctx, newParentID, newName); err == nil {
			if err := store.DeleteRow(ctx, existingID); err != nil {
				return err
			}
		} else if err != ErrNotFound {
			return err
		}
		return store.Rename(ctx, id, newParentID, newName)
	})
}

// Readdir lists the children of id.
func (fs *Filesystem) Readdir(ctx context.Context, id int64) ([]DirEntry, error) {
	fs.logEntry("readdir", id)
	var entries []DirEntry
	err := fs.readOnlyTxn(ctx, func(ctx context.Context, store Store) error {
		meta, err := store.ReadMeta(ctx, id)
		if err != nil {
			return err
		}
		if !meta.IsDir() {
			return ErrNotDir
		}
		e, err := store.ListChildren(ctx, id)
		if err != nil {
			return err
		}
		entries = e
		return nil
	})
	return entries, err
}

// SetAttr applies any combination of mode/uid/gid/size/atime/mtime changes
// in one transaction, covering chmod, chown, utimens and the metadata side
// of truncate.
type SetAttrRequest struct {
	Mode  *os.FileMode
	Uid   *uint32
	Gid   *uint32
	Size  *int64
	Atime *time.Time
	Mtime *time.Time
}

func (fs *Filesystem) SetAttr(ctx context.Context, id int64, req SetAttrRequest) (Meta, error) {
	fs.logEntry("setattr", id)
	var result Meta
	err := fs.withTxn(ctx, func(ctx context.Context, store Store) error {
		if err := fs.rejectIfReadOnly(); err != nil {
			return err
		}
		meta, err := store.ReadMeta(ctx, id)
		if err != nil {
			return err
		}

		var truncating bool
		if req.Size != nil && *req.Size != meta.Size {
			if !meta.IsRegular() {
				return ErrIsDir
			}
			truncating = true
		}

		if req.Mode != nil {
			meta.Mode = meta.Mode&ModeTypeMask | uint32(req.Mode.Perm())
		}
		if req.Uid != nil {
			meta.Uid = *req.Uid
		}
		if req.Gid != nil {
			meta.Gid = *req.Gid
		}
		if req.Atime != nil {
			meta.Atime = *req.Atime
		}
		if req.Mtime != nil {
			meta.Mtime = *req.Mtime
		}
		meta.Ctime = time.Now()

		if truncating {
			if err := truncateFile(ctx, store, fs.blockSize, id, *req.Size); err != nil {
				return err
			}
			meta.Size = *req.Size
		}

		if err := store.WriteMeta(ctx, meta); err != nil {
			return err
		}
		result = meta
		return nil
	})
	return result, err
}

// Truncate resizes a regular file's content by calling SetAttr with only
// Size set, for the ftruncate path where only size changes.
func (fs *Filesystem) Truncate(ctx context.Context, id int64, size int64) (Meta, error) {
	return fs.SetAttr(ctx, id, SetAttrRequest{Size: &size})
}

// Symlink creates a symlink entry whose content is the target path string.
func (fs *Filesystem) Symlink(ctx context.Context, parentID int64, name, target string, uid, gid uint32) (Meta, error) {
	fs.logEntry("symlink", parentID, name, target)
	var created Meta
	err := fs.withTxn(ctx, func(ctx context.Context, store Store) error {
		if err := fs.rejectIfReadOnly(); err != nil {
			return err
		}
		parent, err := store.ReadMeta(ctx, parentID)
		if err != nil {
			return err
		}
		if !parent.IsDir() {
			return ErrNotDir
		}
		if _, _, err := store.LookupChild(ctx, parentID, name); err == nil {
			return ErrExists
		} else if err != ErrNotFound {
			return err
		}

		now := time.Now()
		m := Meta{
			ParentID: parentID,
			Size:     int64(len(target)),
			Mode:     ModeSymlink | 0777,
			Uid:      uid,
			Gid:      gid,
			Ctime:    now,
			Mtime:    now,
			Atime:    now,
		}
		id, err := store.CreateEntry(ctx, parentID, name, m)
		if err != nil {
			return err
		}
		if err := writeBuf(ctx, store, fs.blockSize, id, 0, []byte(target)); err != nil {
			return err
		}
		m.ID = id
		created = m
		return nil
	})
	return created, err
}

// Readlink returns the symlink target stored as id's content.
func (fs *Filesystem) Readlink(ctx context.Context, id int64) (string, error) {
	fs.logEntry("readlink", id)
	var target string
	err := fs.readOnlyTxn(ctx, func(ctx context.Context, store Store) error {
		meta, err := store.ReadMeta(ctx, id)
		if err != nil {
			return err
		}
		if !meta.IsSymlink() {
			return ErrInconsistent
		}
		buf, err := readBuf(ctx, store, fs.blockSize, id, meta.Size, 0, int(meta.Size))
		if err != nil {
			return err
		}
		target = string(buf)
		return nil
	})
	return target, err
}

// Read returns up to len bytes of id's content starting at offset.
func (fs *Filesystem) Read(ctx context.Context, id int64, offset int64, length int) ([]byte, error) {
	fs.logEntry("read", id, offset, length)
	var out []byte
	err := fs.readOnlyTxn(ctx, func(ctx context.Context, store Store) error {
		meta, err := store.ReadMeta(ctx, id)
		if err != nil {
			return err
		}
		buf, err := readBuf(ctx, store, fs.blockSize, id, meta.Size, offset, length)
		if err != nil {
			return err
		}
		out = buf
		return nil
	})
	return out, err
}

// Write stores data at offset into id's content, extending size as needed,
// and returns the number of bytes written.
func (fs *Filesystem) Write(ctx context.Context, id int64, offset int64, data []byte) (int, error) {
	fs.logEntry("write", id, offset, len(data))
	var n int
	err := fs.withTxn(ctx, func(ctx context.Context, store Store) error {
		if err := fs.rejectIfReadOnly(); err != nil {
			return err
		}
		meta, err := store.ReadMeta(ctx, id)
		if err != nil {
			return err
		}
		if !meta.IsRegular() {
			return ErrIsDir
		}
		if err := writeBuf(ctx, store, fs.blockSize, id, offset, data); err != nil {
			return err
		}
		newSize := meta.Size
		if end := offset + int64(len(data)); end > newSize {
			newSize = end
		}
		meta.Size = newSize
		meta.Mtime = time.Now()
		if err := store.WriteMeta(ctx, meta); err != nil {
			return err
		}
		n = len(data)
		return nil
	})
	return n, err
}

// Statfs returns the constant filesystem-capacity response described by
// the spec: very large total/free counts, the negotiated block size, and
// the maximum name length.
type StatfsResult struct {
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	MaxNameLen  uint32
	ReadOnly    bool
}

func (fs *Filesystem) Statfs(ctx context.Context) StatfsResult {
	fs.logEntry("statfs")
	const veryLarge = 1 << 40
	return StatfsResult{
		BlockSize:   uint32(fs.blockSize),
		TotalBlocks: veryLarge,
		FreeBlocks:  veryLarge,
		MaxNameLen:  MaxNameLength,
		ReadOnly:    fs.cfg.ReadOnly,
	}
}
