package pgfs

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// querier is satisfied by both *sql.DB and *sql.Tx. Handlers run everything
// against a *sql.Tx (see Filesystem.withTxn); pgStore itself never opens or
// closes a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// pgStore is the lib/pq-backed Store implementation. Every statement here is
// a direct translation of the parameterized queries in the original
// pgsql.c's psql_* functions, with the original's hand-rolled network byte
// order conversion delegated to lib/pq's own wire encoding of the
// corresponding Go types.
type pgStore struct {
	q         querier
	blockSize int
}

func newPgStore(q querier, blockSize int) *pgStore {
	return &pgStore{q: q, blockSize: blockSize}
}

func (s *pgStore) LookupChild(ctx context.Context, parentID int64, name string) (int64, uint32, error) {
	var id int64
	var mode uint32
	err := s.q.QueryRowContext(ctx,
		`SELECT id, mode FROM dir WHERE parent_id = $1 AND name = $2`,
		parentID, name,
	).Scan(&id, &mode)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, 0, ErrNotFound
	case err != nil:
		return 0, 0, fmt.Errorf("pgfs: lookup child %q of %d: %w", name, parentID, err)
	}
	return id, mode, nil
}

func (s *pgStore) ReadMeta(ctx context.Context, id int64) (Meta, error) {
	var m Meta
	m.ID = id
	err := s.q.QueryRowContext(ctx,
		`SELECT size, mode, uid, gid, ctime, mtime, atime, parent_id FROM dir WHERE id = $1`,
		id,
	).Scan(&m.Size, &m.Mode, &m.Uid, &m.Gid, &m.Ctime, &m.Mtime, &m.Atime, &m.ParentID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Meta{}, ErrNotFound
	case err != nil:
		return Meta{}, fmt.Errorf("pgfs: read meta %d: %w", id, err)
	}
	m.Ctime = m.Ctime.UTC()
	m.Mtime = m.Mtime.UTC()
	m.Atime = m.Atime.UTC()
	return m, nil
}

func (s *pgStore) WriteMeta(ctx context.Context, m Meta) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE dir SET size=$2, mode=$3, uid=$4, gid=$5, ctime=$6, mtime=$7, atime=$8 WHERE id=$1`,
		m.ID, m.Size, m.Mode, m.Uid, m.Gid,
		truncateToPgMicros(m.Ctime), truncateToPgMicros(m.Mtime), truncateToPgMicros(m.Atime),
	)
	if err != nil {
		return fmt.Errorf("pgfs: write meta %d: %w", m.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return fmt.Errorf("pgfs: write meta %d: %w", m.ID, ErrInconsistent)
	}
	return nil
}

func (s *pgStore) CreateEntry(ctx context.Context, parentID int64, name string, m Meta) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO dir (parent_id, name, size, mode, uid, gid, ctime, mtime, atime)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		parentID, name, m.Size, m.Mode, m.Uid, m.Gid,
		truncateToPgMicros(m.Ctime), truncateToPgMicros(m.Mtime), truncateToPgMicros(m.Atime),
	).Scan(&id)
	if err != nil {
		// A unique-constraint violation on (parent_id, name) is a caller
		// bug: the spec requires the existence check to happen inside the
		// same transaction before calling CreateEntry.
		return 0, fmt.Errorf("pgfs: create entry %q in %d: %w", name, parentID, err)
	}
	return id, nil
}

func (s *pgStore) DeleteRow(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM dir WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgfs: delete row %d: %w", id, err)
	}
	return nil
}

func (s *pgStore) CountChildren(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM dir WHERE parent_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgfs: count children of %d: %w", id, err)
	}
	return n, nil
}

func (s *pgStore) Rename(ctx context.Context, id, newParentID int64, newName string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE dir SET parent_id = $2, name = $3 WHERE id = $1`,
		id, newParentID, newName,
	)
	if err != nil {
		return fmt.Errorf("pgfs: rename %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return fmt.Errorf("pgfs: rename %d: %w", id, ErrInconsistent)
	}
	return nil
}

func (s *pgStore) ListChildren(ctx context.Context, parentID int64) ([]DirEntry, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT name, mode FROM dir WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, fmt.Errorf("pgfs: list children of %d: %w", parentID, err)
	}
	defer rows.Close()

	var entries []DirEntry
	for rows.Next() {
		var e DirEntry
		var mode uint32
		if err := rows.Scan(&e.Name, &mode); err != nil {
			return nil, fmt.Errorf("pgfs: list children of %d: %w", parentID, err)
		}
		// The root's own self-row ("/") never shows up as a child of
		// anything real, but defensively skip it the way the original
		// psql_readdir does.
		if e.Name == "/" {
			continue
		}
		e.Mode = ModeToFileMode(mode)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *pgStore) ReadBlocks(ctx context.Context, id, fromBlock, toBlock int64) ([]Block, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT block_no, data FROM data WHERE dir_id = $1 AND block_no BETWEEN $2 AND $3 ORDER BY block_no ASC`,
		id, fromBlock, toBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("pgfs: read blocks %d..%d of %d: %w", fromBlock, toBlock, id, err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.BlockNo, &b.Data); err != nil {
			return nil, fmt.Errorf("pgfs: read blocks of %d: %w", id, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// UpdateBlock issues one of the four partial-write shapes from the spec,
// chosen from (subOffset, len(data)) against s.blockSize.
func (s *pgStore) UpdateBlock(ctx context.Context, id, blockNo int64, subOffset int, data []byte) (int, error) {
	n := len(data)
	bs := s.blockSize

	var query string
	var args []interface{}

	switch {
	case subOffset == 0 && n == bs:
		query = `UPDATE data SET data = $3 WHERE dir_id = $1 AND block_no = $2`
		args = []interface{}{id, blockNo, data}
	case subOffset == 0 && n < bs:
		query = fmt.Sprintf(
			`UPDATE data SET data = $3 || substring(data from %d for %d) WHERE dir_id = $1 AND block_no = $2`,
			n+1, bs-n)
		args = []interface{}{id, blockNo, data}
	case subOffset > 0 && subOffset+n == bs:
		query = fmt.Sprintf(
			`UPDATE data SET data = substring(data from 1 for %d) || $3 WHERE dir_id = $1 AND block_no = $2`,
			subOffset)
		args = []interface{}{id, blockNo, data}
	case subOffset > 0 && subOffset+n < bs:
		query = fmt.Sprintf(
			`UPDATE data SET data = substring(data from 1 for %d) || $3 || substring(data from %d for %d) WHERE dir_id = $1 AND block_no = $2`,
			subOffset, subOffset+n+1, bs-(subOffset+n))
		args = []interface{}{id, blockNo, data}
	default:
		return 0, fmt.Errorf("pgfs: update block %d of %d, offset %d len %d: %w", blockNo, id, subOffset, n, ErrInconsistent)
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pgfs: update block %d of %d: %w", blockNo, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgfs: update block %d of %d: %w", blockNo, id, err)
	}
	return int(affected), nil
}

func (s *pgStore) InsertBlock(ctx context.Context, id, blockNo int64, blockSize int) error {
	zero := make([]byte, blockSize)
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO data (dir_id, block_no, data) VALUES ($1, $2, $3)`,
		id, blockNo, zero,
	)
	if err != nil {
		return fmt.Errorf("pgfs: insert block %d of %d: %w", blockNo, id, err)
	}
	return nil
}

func (s *pgStore) DeleteBlocksAbove(ctx context.Context, id, keepBlock int64) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM data WHERE dir_id = $1 AND block_no > $2`,
		id, keepBlock,
	)
	if err != nil {
		return fmt.Errorf("pgfs: delete blocks above %d of %d: %w", keepBlock, id, err)
	}
	return nil
}

func (s *pgStore) PadLastBlock(ctx context.Context, id, blockNo int64, toLen, blockSize int) (int, error) {
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE data SET data = substring(data from 1 for %d) || $3 WHERE dir_id = $1 AND block_no = $2`, toLen),
		id, blockNo, bytes.Repeat([]byte{0}, blockSize-toLen),
	)
	if err != nil {
		return 0, fmt.Errorf("pgfs: pad last block %d of %d: %w", blockNo, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgfs: pad last block %d of %d: %w", blockNo, id, err)
	}
	return int(affected), nil
}
