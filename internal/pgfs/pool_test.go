package pgfs

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"
)

// newBareConnPool builds a connPool without dialing any real database,
// exercising only the mutex/condition-variable bookkeeping from pool.go.
func newBareConnPool(size int) *connPool {
	p := &connPool{
		slots: make([]*sql.DB, size),
		state: make([]slotState, size),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.slots {
		// A non-nil but unopened *sql.DB is enough: acquire/release never
		// dereference the connection, only track slot ownership.
		p.slots[i], _ = sql.Open("postgres", "")
		p.state[i] = slotAvailable
	}
	return p
}

func TestPoolAcquireReleaseSingleSlot(t *testing.T) {
	p := newBareConnPool(1)
	ctx := context.Background()

	db, slot, err := p.acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if db == nil || slot != 0 {
		t.Fatalf("acquire returned slot=%d db=%v, want slot 0", slot, db)
	}

	done := make(chan struct{})
	go func() {
		_, slot2, err := p.acquire(ctx)
		if err != nil {
			t.Errorf("second acquire: %v", err)
		}
		if slot2 != 0 {
			t.Errorf("second acquire slot = %d, want 0", slot2)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("second acquire returned before release")
	case <-time.After(50 * time.Millisecond):
	}

	p.release(slot)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("second acquire did not unblock after release")
	}
}

func TestPoolAcquireNeverReturnsBrokenSlot(t *testing.T) {
	p := newBareConnPool(2)
	p.state[0] = slotError

	db, slot, err := p.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if slot != 1 {
		t.Fatalf("acquire returned broken slot 0, want 1 (got db=%v)", db)
	}
}

func TestPoolAcquireRespectsContextCancellation(t *testing.T) {
	p := newBareConnPool(1)
	ctx := context.Background()

	if _, _, err := p.acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := p.acquire(cctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("acquire on cancelled context returned nil error")
		}
	case <-time.After(time.Second):
		t.Fatalf("acquire did not return after context cancellation")
	}
}

func TestPoolSize(t *testing.T) {
	p := newBareConnPool(4)
	if p.size() != 4 {
		t.Fatalf("size() = %d, want 4", p.size())
	}
}
