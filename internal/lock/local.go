package lock

import "sync"

// localTable is a keyed mutex table for one process. Entries exist only
// while held.
type localTable struct {
	mu      sync.Mutex
	holders map[string]string
}

func newLocalTable() *localTable {
	return &localTable{holders: make(map[string]string)}
}

func (t *localTable) tryLock(key, token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.holders[key]; held {
		return false
	}
	t.holders[key] = token
	return true
}

func (t *localTable) unlock(key, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.holders[key] == token {
		delete(t.holders, key)
	}
}

func (t *localTable) held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.holders[key]
	return ok
}
