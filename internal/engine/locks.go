package engine

import "sync"

// requesterLocks hands out one mutex per requester and drops it once nobody
// holds or waits on it.
type requesterLocks struct {
	mu    sync.Mutex
	locks map[string]*requesterLock
}

type requesterLock struct {
	sync.Mutex
	refs int
}

func newRequesterLocks() *requesterLocks {
	return &requesterLocks{locks: make(map[string]*requesterLock)}
}

func (l *requesterLocks) Lock(requesterID string) (unlock func()) {
	lk := l.ref(requesterID)
	lk.Lock()
	return func() {
		lk.Unlock()
		l.unref(requesterID, lk)
	}
}

func (l *requesterLocks) TryLock(requesterID string) (unlock func(), ok bool) {
	lk := l.ref(requesterID)
	if !lk.TryLock() {
		l.unref(requesterID, lk)
		return nil, false
	}
	return func() {
		lk.Unlock()
		l.unref(requesterID, lk)
	}, true
}

func (l *requesterLocks) ref(requesterID string) *requesterLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.locks[requesterID]
	if !ok {
		lk = &requesterLock{}
		l.locks[requesterID] = lk
	}
	lk.refs++
	return lk
}

func (l *requesterLocks) unref(requesterID string, lk *requesterLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, requesterID)
	}
}

func (l *requesterLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
