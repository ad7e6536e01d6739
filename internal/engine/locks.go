package engine

import "sync"

// accountLocks hands out one mutex per account ID. Locks are never evicted;
// the set of live accounts is bounded by the store.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *accountLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}

	return m
}

// lockPair locks both account mutexes in lexicographic ID order so that two
// concurrent transfers over the same pair cannot deadlock. The returned
// function releases both locks.
func (l *accountLocks) lockPair(a, b string) func() {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	fm := l.get(first)
	sm := l.get(second)

	fm.Lock()
	sm.Lock()

	return func() {
		sm.Unlock()
		fm.Unlock()
	}
}
