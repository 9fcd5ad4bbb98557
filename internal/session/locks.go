package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedLocks serializes mutating operations per game id. Acquire blocks
// until the holder releases or ctx is canceled, so two concurrent
// selectVariant calls for one session never interleave. Entries are
// reference-counted and evicted once no holder or waiter remains, so the
// map does not grow with the number of sessions ever seen.
type keyedLocks struct {
	mu   sync.Mutex
	sems map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{sems: make(map[string]*lockEntry)}
}

func (l *keyedLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.sems[key]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.sems[key] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.put(key, e)
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		l.put(key, e)
	}, nil
}

func (l *keyedLocks) put(key string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.sems, key)
	}
	l.mu.Unlock()
}
