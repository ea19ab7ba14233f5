package sweep

import (
	"sync"
)

// ticketLocks provides a mutex per ticket id so clock mutations and rule
// evaluations for one ticket are single-writer while other tickets proceed
// in parallel. Entries are reference counted and removed when idle.
type ticketLocks struct {
	mu      sync.Mutex
	entries map[uint]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newTicketLocks() *ticketLocks {
	return &ticketLocks{entries: make(map[uint]*lockEntry)}
}

func (l *ticketLocks) entry(id uint) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	return e
}

func (l *ticketLocks) put(id uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[id]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

// Lock blocks until the ticket's lock is held and returns the unlock func.
func (l *ticketLocks) Lock(id uint) func() {
	e := l.entry(id)
	e.sem <- struct{}{}
	return func() {
		<-e.sem
		l.put(id)
	}
}

// TryLock acquires the ticket's lock only if it is free. The sweep uses this
// to skip tickets already being evaluated instead of queueing behind them.
func (l *ticketLocks) TryLock(id uint) (func(), bool) {
	e := l.entry(id)
	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.put(id)
		}, true
	default:
		l.put(id)
		return nil, false
	}
}
