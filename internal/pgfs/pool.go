package pgfs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// slotState mirrors the AVAILABLE/ERROR sentinels in the original pool.c,
// plus a busy state. Unlike pool.c, a busy slot does not record which
// thread holds it; the holder keeps the slot index returned by acquire.
type slotState int

const (
	slotAvailable slotState = iota
	slotError
	slotBusy
)

// connPool is a fixed-size set of single-connection *sql.DB handles, each
// restricted to one open connection with SetMaxOpenConns(1). This
// reimplements the original pthread mutex/condition-variable connection
// pool from pool.c in Go: instead of a raw libpq PGconn per slot handed out
// by pid, a slot here is a *sql.DB wrapping exactly one lib/pq connection,
// acquired and released around each filesystem operation's transaction.
//
// database/sql already pools connections internally, but pgfuse's original
// design ties one Postgres session to one in-flight filesystem call for the
// whole lifetime of its transaction; a shared *sql.DB would let the
// standard pool silently interleave unrelated BEGIN/COMMIT pairs across
// connections. Keeping the one-slot-per-PGconn discipline from the C
// implementation avoids that.
type connPool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []*sql.DB
	state []slotState
}

// newConnPool opens size independent connections to conninfo, each capped
// to a single underlying connection.
func newConnPool(conninfo string, size int) (*connPool, error) {
	p := &connPool{
		slots: make([]*sql.DB, size),
		state: make([]slotState, size),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		db, err := sql.Open("postgres", conninfo)
		if err != nil {
			p.closeOpened()
			return nil, fmt.Errorf("pgfs: opening pool slot %d: %w", i, err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := db.Ping(); err != nil {
			db.Close()
			p.closeOpened()
			return nil, fmt.Errorf("pgfs: connecting pool slot %d: %w", i, err)
		}
		p.slots[i] = db
		p.state[i] = slotAvailable
	}
	return p, nil
}

func (p *connPool) closeOpened() {
	for _, db := range p.slots {
		if db != nil {
			db.Close()
		}
	}
}

// acquire blocks until a connection slot is available, or ctx is done.
// Mirrors psql_pool_acquire's scan-then-wait loop, adapted to
// sync.Cond.Wait instead of a raw pthread_cond_wait.
func (p *connPool) acquire(ctx context.Context) (*sql.DB, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, -1, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		for i, st := range p.state {
			if st == slotAvailable {
				p.state[i] = slotBusy
				return p.slots[i], i, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, -1, err
		}
		p.cond.Wait()
	}
}

// release returns slot to the pool. Unlike psql_pool_release, which scans
// from the end for the matching connection, the slot is indexed directly;
// the signal-one-waiter behavior is kept.
func (p *connPool) release(slot int) {
	p.mu.Lock()
	p.state[slot] = slotAvailable
	p.mu.Unlock()
	p.cond.Signal()
}

// closeAll shuts down every connection in the pool. Matches
// psql_pool_destroy, logging nothing itself; callers log at the call site.
func (p *connPool) closeAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for i, db := range p.slots {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.state[i] = slotError
	}
	return firstErr
}

// size reports the number of configured slots.
func (p *connPool) size() int {
	return len(p.slots)
}
