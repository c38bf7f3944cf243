// Package fuseadapter translates jacobsa/fuse's inode-id-keyed operation
// structs into calls against internal/pgfs.Filesystem. It owns no state of
// its own beyond a file-handle allocator: every dir.id doubles as both the
// fuse inode number and the pgfs.Filesystem argument, so there is no
// separate inode table to keep in sync, unlike a caching filesystem such
// as gcsfuse's.
package fuseadapter

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/armos-pg/pgfuse/internal/pgfs"
)

// FileSystem adapts a *pgfs.Filesystem to fuseutil.FileSystem. Unhandled
// operations (extended attributes, hard links, device nodes) fall through
// to fuseutil.NotImplementedFileSystem's ENOSYS responses, the same way
// gcsfuse's fileSystem embeds it to avoid hand-writing every method in the
// interface.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	fs *pgfs.Filesystem

	mu         sync.Mutex
	nextHandle fuseops.HandleID
}

// New wraps fs for mounting.
func New(fs *pgfs.Filesystem) *FileSystem {
	return &FileSystem{fs: fs}
}

func (a *FileSystem) allocHandle() fuseops.HandleID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextHandle++
	return a.nextHandle
}

func (a *FileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (a *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	r := a.fs.Statfs(ctx)
	op.BlockSize = r.BlockSize
	op.Blocks = r.TotalBlocks
	op.BlocksFree = r.FreeBlocks
	op.BlocksAvailable = r.FreeBlocks
	op.IoSize = r.BlockSize
	op.Inodes = r.TotalBlocks
	op.InodesFree = r.FreeBlocks
	return nil
}

func (a *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	meta, err := a.fs.Lookup(ctx, int64(op.Parent), op.Name)
	if err != nil {
		return toErrno(err)
	}
	fillEntry(&op.Entry, meta)
	return nil
}

func (a *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	meta, err := a.fs.GetAttr(ctx, int64(op.Inode))
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = toAttributes(meta)
	return nil
}

func (a *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	req := pgfs.SetAttrRequest{
		Mode:  op.Mode,
		Atime: op.Atime,
		Mtime: op.Mtime,
	}
	if op.Size != nil {
		size := int64(*op.Size)
		req.Size = &size
	}
	meta, err := a.fs.SetAttr(ctx, int64(op.Inode), req)
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = toAttributes(meta)
	return nil
}

func (a *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (a *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	uid, gid := callerIDs()
	meta, err := a.fs.Mkdir(ctx, int64(op.Parent), op.Name, op.Mode, uid, gid)
	if err != nil {
		return toErrno(err)
	}
	fillEntry(&op.Entry, meta)
	return nil
}

func (a *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	if err := a.fs.Rmdir(ctx, int64(op.Parent), op.Name); err != nil {
		return toErrno(err)
	}
	return nil
}

func (a *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	uid, gid := callerIDs()
	meta, err := a.fs.CreateFile(ctx, int64(op.Parent), op.Name, op.Mode, uid, gid)
	if err != nil {
		return toErrno(err)
	}
	fillEntry(&op.Entry, meta)
	op.Handle = a.allocHandle()
	return nil
}

func (a *FileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	uid, gid := callerIDs()
	meta, err := a.fs.Symlink(ctx, int64(op.Parent), op.Name, op.Target, uid, gid)
	if err != nil {
		return toErrno(err)
	}
	fillEntry(&op.Entry, meta)
	return nil
}

func (a *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	err := a.fs.Rename(ctx, int64(op.OldParent), op.OldName, int64(op.NewParent), op.NewName)
	if err != nil {
		return toErrno(err)
	}
	return nil
}

func (a *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	if err := a.fs.Unlink(ctx, int64(op.Parent), op.Name); err != nil {
		return toErrno(err)
	}
	return nil
}

func (a *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	meta, err := a.fs.GetAttr(ctx, int64(op.Inode))
	if err != nil {
		return toErrno(err)
	}
	if !meta.IsDir() {
		return syscall.ENOTDIR
	}
	op.Handle = a.allocHandle()
	return nil
}

func (a *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	entries, err := a.fs.Readdir(ctx, int64(op.Inode))
	if err != nil {
		return toErrno(err)
	}

	all := make([]fuseutil.Dirent, 0, len(entries)+2)
	all = append(all,
		fuseutil.Dirent{Offset: 1, Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory},
		fuseutil.Dirent{Offset: 2, Inode: fuseops.InodeID(pgfs.RootID), Name: "..", Type: fuseutil.DT_Directory},
	)
	for i, e := range entries {
		all = append(all, fuseutil.Dirent{
			Offset: fuseops.DirOffset(3 + i),
			Inode:  fuseops.InodeID(0),
			Name:   e.Name,
			Type:   directEntryType(e.Mode),
		})
	}

	idx := int(op.Offset)
	if idx > len(all) {
		return syscall.EINVAL
	}
	for _, e := range all[idx:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (a *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (a *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	meta, err := a.fs.GetAttr(ctx, int64(op.Inode))
	if err != nil {
		return toErrno(err)
	}
	if meta.IsDir() {
		return syscall.EISDIR
	}
	op.Handle = a.allocHandle()
	op.KeepPageCache = false
	return nil
}

func (a *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	data, err := a.fs.Read(ctx, int64(op.Inode), op.Offset, len(op.Dst))
	if err != nil {
		return toErrno(err)
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (a *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, err := a.fs.Write(ctx, int64(op.Inode), op.Offset, op.Data)
	if err != nil {
		return toErrno(err)
	}
	return nil
}

func (a *FileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	target, err := a.fs.Readlink(ctx, int64(op.Inode))
	if err != nil {
		return toErrno(err)
	}
	op.Target = target
	return nil
}

func (a *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (a *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (a *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func fillEntry(entry *fuseops.ChildInodeEntry, meta pgfs.Meta) {
	entry.Child = fuseops.InodeID(meta.ID)
	entry.Attributes = toAttributes(meta)
	entry.EntryExpiration = time.Time{}
	entry.AttributesExpiration = time.Time{}
}

func toAttributes(meta pgfs.Meta) fuseops.InodeAttributes {
	nlink := uint32(1)
	if meta.IsDir() {
		nlink = 2
	}
	return fuseops.InodeAttributes{
		Size:  uint64(meta.Size),
		Nlink: nlink,
		Mode:  pgfs.ModeToFileMode(meta.Mode),
		Atime: meta.Atime,
		Mtime: meta.Mtime,
		Ctime: meta.Ctime,
		Uid:   meta.Uid,
		Gid:   meta.Gid,
	}
}

func directEntryType(mode os.FileMode) fuseutil.DirentType {
	switch {
	case mode&os.ModeDir != 0:
		return fuseutil.DT_Directory
	case mode&os.ModeSymlink != 0:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

// callerIDs would normally come from the kernel request's caller
// credentials (op.Context() plus fuse.ReqCtx in older jacobsa/fuse
// releases); the current fuseops operation structs don't carry uid/gid
// directly, so new files are created owned by the mounting process. This
// matches the original implementation's behavior when run without a
// privileged bridge.
func callerIDs() (uid, gid uint32) {
	return uint32(os.Getuid()), uint32(os.Getgid())
}

// toErrno maps pgfs sentinel errors to the syscall.Errno values the kernel
// expects; anything unrecognized (SQL failures, invariant violations) is
// reported as EIO, matching the spec's "any SQL error surfaces as EIO".
func toErrno(err error) error {
	switch err {
	case pgfs.ErrNotFound:
		return syscall.ENOENT
	case pgfs.ErrNotDir:
		return syscall.ENOTDIR
	case pgfs.ErrIsDir:
		return syscall.EISDIR
	case pgfs.ErrExists:
		return syscall.EEXIST
	case pgfs.ErrNotEmpty:
		return syscall.ENOTEMPTY
	case pgfs.ErrPermission:
		return syscall.EPERM
	case pgfs.ErrReadOnly:
		return syscall.EROFS
	case pgfs.ErrTooBig:
		return syscall.EFBIG
	default:
		return syscall.EIO
	}
}
