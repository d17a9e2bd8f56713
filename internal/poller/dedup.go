package poller

import (
	"fmt"
	"sync"
	"time"
)

const (
	// maxSeen caps the dedup set. When exceeded, the oldest evictCount keys
	// are dropped.
	maxSeen    = 10000
	evictCount = 5000
)

// Key identifies one observed version of a remote item.
func Key(source, kind string, id int, updatedAt time.Time) string {
	stamp := ""
	if !updatedAt.IsZero() {
		stamp = updatedAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s:%s:%d:%s", source, kind, id, stamp)
}

func identity(source, kind string, id int) string {
	return fmt.Sprintf("%s:%s:%d", source, kind, id)
}

// seenSet is an insertion-ordered set of dedup keys.
type seenSet struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	order []string

	// known holds identities of items that already had a task when the
	// poller started. The first sighting of such an item is absorbed
	// without creating a task.
	known map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{keys: make(map[string]struct{}), known: make(map[string]struct{})}
}

func (s *seenSet) seed(ident string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[ident] = struct{}{}
}

// claim records key and reports whether the caller should act on it.
func (s *seenSet) claim(key, ident string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.add(key)
	if _, ok := s.known[ident]; ok {
		delete(s.known, ident)
		return false
	}
	return true
}

// forget drops a key so a failed task creation is retried next poll.
func (s *seenSet) forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; !ok {
		return
	}
	delete(s.keys, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *seenSet) add(key string) {
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > maxSeen {
		for _, k := range s.order[:evictCount] {
			delete(s.keys, k)
		}
		s.order = append([]string(nil), s.order[evictCount:]...)
	}
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *seenSet) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}
