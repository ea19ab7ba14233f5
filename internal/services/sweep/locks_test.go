package sweep

import (
	"sync"
	"testing"
	"time"
)

func TestTryLockSkipsHeldLock(t *testing.T) {
	locks := newTicketLocks()

	unlock := locks.Lock(1)
	if _, ok := locks.TryLock(1); ok {
		t.Fatal("TryLock succeeded on a held lock")
	}
	// Other tickets are unaffected.
	if u, ok := locks.TryLock(2); !ok {
		t.Fatal("TryLock failed on a free lock")
	} else {
		u()
	}

	unlock()
	u, ok := locks.TryLock(1)
	if !ok {
		t.Fatal("TryLock failed after release")
	}
	u()
}

func TestLockSerializesPerTicket(t *testing.T) {
	locks := newTicketLocks()

	var mu sync.Mutex
	var order []int

	unlock := locks.Lock(1)
	done := make(chan struct{})
	go func() {
		u := locks.Lock(1)
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		u()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second locker never acquired the lock")
	}

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}

func TestLockEntriesAreReclaimed(t *testing.T) {
	locks := newTicketLocks()
	for id := uint(1); id <= 10; id++ {
		unlock := locks.Lock(id)
		unlock()
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entries) != 0 {
		t.Fatalf("entries = %d, want 0 after release", len(locks.entries))
	}
}
