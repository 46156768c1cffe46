package history

import (
	"sync"

	"github.com/deixis/suiterun/internal/run"
)

// LRUStore is an in-memory LRU cache of snapshots. Saves write through to
// an optional backing Store, which also serves cache misses. Without a
// backing store, evicted snapshots are gone.
type LRUStore struct {
	mu   sync.Mutex
	cap  int
	back Store

	// Doubly-linked list for LRU ordering (most recent at head).
	head, tail *lruEntry
	items      map[string]*lruEntry
}

type lruEntry struct {
	key    string
	status *run.Status
	prev   *lruEntry
	next   *lruEntry
}

// NewLRUStore creates an LRU cache with the given capacity that delegates
// to back on cache misses. Capacity must be >= 1; back may be nil.
func NewLRUStore(cap int, back Store) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		back:  back,
		items: make(map[string]*lruEntry, cap),
	}
}

// Save writes the snapshot to the cache and delegates to the backing store.
func (s *LRUStore) Save(status *run.Status) error {
	s.mu.Lock()
	s.put(status.ID, status)
	s.mu.Unlock()

	if s.back == nil {
		return nil
	}
	return s.back.Save(status)
}

// Load checks the cache first. On miss, loads from the backing store
// and promotes the snapshot into the cache.
func (s *LRUStore) Load(runID string) (*run.Status, error) {
	s.mu.Lock()
	if e, ok := s.items[runID]; ok {
		s.moveToFront(e)
		st := e.status
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	if s.back == nil {
		return nil, ErrNotFound
	}
	status, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.put(runID, status)
	s.mu.Unlock()

	return status, nil
}

// List returns the cached snapshots, most recently used first.
func (s *LRUStore) List() []*run.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*run.Status, 0, len(s.items))
	for e := s.head; e != nil; e = e.next {
		out = append(out, e.status)
	}
	return out
}

// Len returns the number of cached snapshots.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// put inserts or refreshes key. Callers hold mu.
func (s *LRUStore) put(key string, status *run.Status) {
	if e, ok := s.items[key]; ok {
		e.status = status
		s.moveToFront(e)
		return
	}
	e := &lruEntry{key: key, status: status}
	s.items[key] = e
	s.pushFront(e)
	if len(s.items) > s.cap {
		s.evict()
	}
}

func (s *LRUStore) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *LRUStore) moveToFront(e *lruEntry) {
	if s.head == e {
		return
	}
	s.remove(e)
	s.pushFront(e)
}

func (s *LRUStore) remove(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (s *LRUStore) evict() {
	if s.tail == nil {
		return
	}
	e := s.tail
	s.remove(e)
	delete(s.items, e.key)
}
