package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/chatngt/chatngt/internal/llm"
)

// TTLStore is an in-memory Store with a fixed time to live per thread
// and a capacity bound. When full, the least recently used thread is
// evicted. All methods are safe for concurrent use.
type TTLStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	threads  map[string]*thread
	order    *list.List // front is most recently used
	now      func() time.Time
}

type thread struct {
	id        string
	msgs      []llm.Message
	expiresAt time.Time
	element   *list.Element
}

// NewTTLStore creates an in-memory store. A ttl of zero keeps threads
// until they are evicted; a capacity of zero means unbounded.
func NewTTLStore(ttl time.Duration, capacity int) *TTLStore {
	return &TTLStore{
		ttl:      ttl,
		capacity: capacity,
		threads:  make(map[string]*thread),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get implements Store. Reading a thread marks it recently used but does
// not extend its lifetime.
func (s *TTLStore) Get(_ context.Context, threadID string) ([]llm.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, false, nil
	}
	if s.expired(t, s.now()) {
		s.remove(t)
		return nil, false, nil
	}

	s.order.MoveToFront(t.element)
	return llm.CloneMessages(t.msgs), true, nil
}

// Set implements Store.
func (s *TTLStore) Set(_ context.Context, threadID string, msgs []llm.Message) error {
	cp := llm.CloneMessages(msgs)

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.expiry()
	if t, ok := s.threads[threadID]; ok {
		t.msgs = cp
		t.expiresAt = expiresAt
		s.order.MoveToFront(t.element)
		return nil
	}

	for s.capacity > 0 && len(s.threads) >= s.capacity {
		s.evictOldest()
	}

	t := &thread{id: threadID, msgs: cp, expiresAt: expiresAt}
	t.element = s.order.PushFront(t)
	s.threads[threadID] = t
	return nil
}

// Delete implements Store.
func (s *TTLStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.threads[threadID]; ok {
		s.remove(t)
	}
	return nil
}

// CleanupExpired drops every expired thread and reports how many went.
func (s *TTLStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stale []*thread
	for _, t := range s.threads {
		if s.expired(t, now) {
			stale = append(stale, t)
		}
	}
	for _, t := range stale {
		s.remove(t)
	}
	return len(stale), nil
}

func (s *TTLStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *TTLStore) expired(t *thread, now time.Time) bool {
	return !t.expiresAt.IsZero() && !now.Before(t.expiresAt)
}

// evictOldest must be called with the lock held.
func (s *TTLStore) evictOldest() {
	if back := s.order.Back(); back != nil {
		s.remove(back.Value.(*thread))
	}
}

// remove must be called with the lock held.
func (s *TTLStore) remove(t *thread) {
	s.order.Remove(t.element)
	delete(s.threads, t.id)
}
