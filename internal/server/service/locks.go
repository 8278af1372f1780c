package service

import "sync"

// userLocks hands out one mutex per username so read-modify-write sequences
// on a user record (and its mailbox) are serialized across workers. Entries
// are never evicted; the map grows with the set of usernames ever touched.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for name and returns it for the caller to unlock.
func (l *userLocks) lock(name string) *sync.Mutex {
	l.mu.Lock()
	m, ok := l.m[name]
	if !ok {
		m = &sync.Mutex{}
		l.m[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m
}
