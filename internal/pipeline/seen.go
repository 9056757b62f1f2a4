package pipeline

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// seenSet is a TTL-bound LRU of keys already published.
type seenSet struct {
	mu    sync.Mutex
	clock clockwork.Clock
	cap   int
	ttl   time.Duration
	ll    *list.List // most recent at front
	items map[string]*list.Element
}

type seenEntry struct {
	key string
	exp time.Time
}

func newSeenSet(maxKeys int, ttl time.Duration, clock clockwork.Clock) *seenSet {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &seenSet{
		clock: clock,
		cap:   maxKeys,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[string]*list.Element, maxKeys),
	}
}

func (s *seenSet) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return false
	}
	if s.clock.Now().Before(el.Value.(seenEntry).exp) {
		s.ll.MoveToFront(el)
		return true
	}
	s.ll.Remove(el)
	delete(s.items, key)
	return false
}

func (s *seenSet) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if el, ok := s.items[key]; ok {
		el.Value = seenEntry{key: key, exp: now.Add(s.ttl)}
		s.ll.MoveToFront(el)
		return
	}
	s.items[key] = s.ll.PushFront(seenEntry{key: key, exp: now.Add(s.ttl)})

	for s.ll.Len() > s.cap {
		s.evict(s.ll.Back())
	}
	// Drop expired entries from the tail.
	for t := s.ll.Back(); t != nil && !now.Before(t.Value.(seenEntry).exp); t = s.ll.Back() {
		s.evict(t)
	}
}

func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

func (s *seenSet) evict(el *list.Element) {
	s.ll.Remove(el)
	delete(s.items, el.Value.(seenEntry).key)
}
