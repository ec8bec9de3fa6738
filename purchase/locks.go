package purchase

import "sync"

// lockTable hands out one RWMutex per transaction id. Entries are reference
// counted and dropped when the last holder releases, so the table only ever
// holds ids with in-flight work.
type lockTable struct {
	mu    sync.Mutex
	locks map[TransactionID]*txLock
}

type txLock struct {
	sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[TransactionID]*txLock)}
}

func (t *lockTable) acquire(id TransactionID) *txLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &txLock{}
		t.locks[id] = l
	}
	l.refs++
	return l
}

func (t *lockTable) release(id TransactionID, l *txLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, id)
	}
}

// Lock takes the exclusive lock for id and returns its release func.
func (t *lockTable) Lock(id TransactionID) func() {
	l := t.acquire(id)
	l.Lock()
	return func() {
		l.Unlock()
		t.release(id, l)
	}
}

// RLock takes the shared lock for id and returns its release func.
func (t *lockTable) RLock(id TransactionID) func() {
	l := t.acquire(id)
	l.RLock()
	return func() {
		l.RUnlock()
		t.release(id, l)
	}
}

// size is used by tests to check entries are dropped.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
