// Package pgfake provides an in-memory implementation of pgfs.Store, the
// way fsouza/fake-gcs-server stands in for a live GCS bucket in gcsfuse's
// own tests: exercise path resolution, metadata bookkeeping and block
// slicing logic without a live Postgres server.
package pgfake

import (
	"context"
	"sort"
	"sync"

	"github.com/armos-pg/pgfuse/internal/pgfs"
)

type row struct {
	meta   pgfs.Meta
	blocks map[int64][]byte
}

// Store is a single-process, mutex-guarded stand-in for the real
// lib/pq-backed store. It does not attempt to reproduce Postgres
// transaction isolation; callers in tests run one operation at a time.
type Store struct {
	mu     sync.Mutex
	rows   map[int64]*row
	names  map[int64]string
	nextID int64
}

// New returns an empty Store seeded with the root row, mirroring the
// seed row schema bootstrap creates for a real database.
func New() *Store {
	s := &Store{
		rows:   make(map[int64]*row),
		names:  make(map[int64]string),
		nextID: pgfs.RootID + 1,
	}
	s.rows[pgfs.RootID] = &row{
		meta: pgfs.Meta{
			ID:       pgfs.RootID,
			ParentID: 0,
			Mode:     pgfs.ModeDir | 0755,
		},
		blocks: make(map[int64][]byte),
	}
	s.names[pgfs.RootID] = "/"
	return s
}

func (s *Store) LookupChild(_ context.Context, parentID int64, name string) (int64, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if r.meta.ParentID == parentID && s.names[id] == name {
			return id, r.meta.Mode, nil
		}
	}
	return 0, 0, pgfs.ErrNotFound
}

func (s *Store) ReadMeta(_ context.Context, id int64) (pgfs.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return pgfs.Meta{}, pgfs.ErrNotFound
	}
	return r.meta, nil
}

func (s *Store) WriteMeta(_ context.Context, m pgfs.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[m.ID]
	if !ok {
		return pgfs.ErrInconsistent
	}
	r.meta = m
	return nil
}

func (s *Store) CreateEntry(_ context.Context, parentID int64, name string, m pgfs.Meta) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	m.ID = id
	m.ParentID = parentID
	s.rows[id] = &row{meta: m, blocks: make(map[int64][]byte)}
	s.names[id] = name
	return id, nil
}

func (s *Store) DeleteRow(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	delete(s.names, id)
	return nil
}

func (s *Store) CountChildren(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.meta.ParentID == id {
			n++
		}
	}
	return n, nil
}

func (s *Store) Rename(_ context.Context, id, newParentID int64, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return pgfs.ErrInconsistent
	}
	r.meta.ParentID = newParentID
	s.names[id] = newName
	return nil
}

func (s *Store) ListChildren(_ context.Context, parentID int64) ([]pgfs.DirEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []pgfs.DirEntry
	for id, r := range s.rows {
		if r.meta.ParentID != parentID {
			continue
		}
		name := s.names[id]
		if name == "/" {
			continue
		}
		entries = append(entries, pgfs.DirEntry{Name: name, Mode: pgfs.ModeToFileMode(r.meta.Mode)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *Store) ReadBlocks(_ context.Context, id, fromBlock, toBlock int64) ([]pgfs.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, pgfs.ErrInconsistent
	}
	var blocks []pgfs.Block
	for no, data := range r.blocks {
		if no >= fromBlock && no <= toBlock {
			cp := make([]byte, len(data))
			copy(cp, data)
			blocks = append(blocks, pgfs.Block{BlockNo: no, Data: cp})
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].BlockNo < blocks[j].BlockNo })
	return blocks, nil
}

func (s *Store) UpdateBlock(_ context.Context, id, blockNo int64, subOffset int, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return 0, pgfs.ErrInconsistent
	}
	existing, ok := r.blocks[blockNo]
	if !ok {
		return 0, nil
	}
	if subOffset+len(data) > len(existing) {
		return 0, pgfs.ErrInconsistent
	}
	copy(existing[subOffset:], data)
	return 1, nil
}

func (s *Store) InsertBlock(_ context.Context, id, blockNo int64, blockSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return pgfs.ErrInconsistent
	}
	if _, exists := r.blocks[blockNo]; exists {
		return nil
	}
	r.blocks[blockNo] = make([]byte, blockSize)
	return nil
}

func (s *Store) DeleteBlocksAbove(_ context.Context, id, keepBlock int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return pgfs.ErrInconsistent
	}
	for no := range r.blocks {
		if no > keepBlock {
			delete(r.blocks, no)
		}
	}
	return nil
}

func (s *Store) PadLastBlock(_ context.Context, id, blockNo int64, toLen, blockSize int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return 0, pgfs.ErrInconsistent
	}
	existing, ok := r.blocks[blockNo]
	if !ok {
		return 0, nil
	}
	padded := make([]byte, blockSize)
	copy(padded, existing[:toLen])
	r.blocks[blockNo] = padded
	return 1, nil
}
