package service

import "sync"

// threadLocks admits one in-flight turn per thread. A second caller is
// rejected rather than queued.
type threadLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newThreadLocks() *threadLocks {
	return &threadLocks{active: make(map[string]struct{})}
}

func (l *threadLocks) tryLock(threadID string) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[threadID]; busy {
		return nil, false
	}
	l.active[threadID] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.active, threadID)
		l.mu.Unlock()
	}, true
}
