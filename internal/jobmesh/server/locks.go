package server

import "sync"

// jobLocks serializes mutation per job id. Locks are acquired parent
// before child when dispatch or cancel descend a tree; upward status
// propagation releases the child's lock before taking the parent's, so
// all hold-and-wait edges point downward and no cycle can form. A
// holder must re-read the job from the repository after acquiring its
// lock: state loaded outside the critical section is advisory only.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: map[string]*jobLock{}}
}

// lock blocks until the lock for id is held and returns the unlock
// function.
func (l *jobLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &jobLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
