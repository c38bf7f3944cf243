package pgfs

import "context"

// Store is the minimal storage contract the rest of this package needs: one
// row per inode in a "dir"-shaped table and block-sharded payloads in a
// "data"-shaped table, exactly as described in the schema. Splitting the SQL
// behind an interface — the way perkeep.org/pkg/sorted.KeyValue separates
// its sorted-store contract from any one backend — lets path resolution,
// metadata bookkeeping and block slicing be unit tested against an
// in-memory fake instead of a live Postgres server, while production wiring
// uses pgStore against lib/pq.
//
// Every method runs against whatever transaction-scoped connection the
// caller is currently holding; Store implementations do not manage
// transactions themselves (see Filesystem.withTxn).
type Store interface {
	// LookupChild resolves one path component: the row in dir with the
	// given (parentID, name). Returns ErrNotFound if there is no such row.
	LookupChild(ctx context.Context, parentID int64, name string) (id int64, mode uint32, err error)

	// ReadMeta loads the full metadata row for id.
	ReadMeta(ctx context.Context, id int64) (Meta, error)

	// WriteMeta updates every mutable column of the row for meta.ID.
	WriteMeta(ctx context.Context, meta Meta) error

	// CreateEntry inserts a new row, returning its assigned id.
	CreateEntry(ctx context.Context, parentID int64, name string, meta Meta) (id int64, err error)

	// DeleteRow removes the row for id. Callers are responsible for the
	// empty-directory precondition check (CountChildren) before calling
	// this for a directory.
	DeleteRow(ctx context.Context, id int64) error

	// CountChildren returns the number of rows with parent_id = id.
	CountChildren(ctx context.Context, id int64) (int, error)

	// Rename updates the parent_id and name of id in a single statement.
	Rename(ctx context.Context, id, newParentID int64, newName string) error

	// ListChildren returns the (name, mode) of every row with the given
	// parent_id, for readdir.
	ListChildren(ctx context.Context, parentID int64) ([]DirEntry, error)

	// ReadBlocks returns, in ascending block_no order, every existing data
	// row with dir_id = id and block_no in [fromBlock, toBlock].
	ReadBlocks(ctx context.Context, id, fromBlock, toBlock int64) ([]Block, error)

	// UpdateBlock applies one of the four partial-block UPDATE shapes
	// described in the spec to the row (id, blockNo), returning the number
	// of rows affected. subOffset and len(data) describe which sub-range of
	// the block payload is being replaced by data.
	UpdateBlock(ctx context.Context, id, blockNo int64, subOffset int, data []byte) (rowsAffected int, err error)

	// InsertBlock creates a new all-zero block row, then the caller retries
	// UpdateBlock.
	InsertBlock(ctx context.Context, id, blockNo int64, blockSize int) error

	// DeleteBlocksAbove removes every data row for id with block_no greater
	// than keepBlock.
	DeleteBlocksAbove(ctx context.Context, id, keepBlock int64) error

	// PadLastBlock truncates/pads the row (id, blockNo) so its payload's
	// first toLen bytes are kept and the rest is zero-filled out to
	// blockSize. Returns the number of rows affected.
	PadLastBlock(ctx context.Context, id, blockNo int64, toLen, blockSize int) (rowsAffected int, err error)
}

// Block is one row read back from the data table.
type Block struct {
	BlockNo int64
	Data    []byte
}
