package tokenstore

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps tokens in process memory. Expired entries are hidden from
// Get immediately and physically dropped by the sweep that runs on every Put,
// so no goroutine or timer is held per entry.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	expiry  expiryHeap
	nowFunc func() time.Time
}

type memoryEntry struct {
	tok       PendingToken
	expiresAt time.Time
}

// NewMemoryStore returns an empty store. A non-positive ttl means DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: map[string]memoryEntry{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, tok PendingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if tok.InsertedAt.IsZero() {
		tok.InsertedAt = now
	}
	s.sweep(now)

	expiresAt := expiryFor(tok, s.ttl)
	s.entries[tok.TransferID] = memoryEntry{tok: tok, expiresAt: expiresAt}
	heap.Push(&s.expiry, expiryItem{transferID: tok.TransferID, expiresAt: expiresAt})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, transferID string) (PendingToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[transferID]
	if !ok || !s.nowFunc().Before(e.expiresAt) {
		return PendingToken{}, false, nil
	}
	return e.tok, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, transferID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, transferID)
	return nil
}

// Len reports the number of entries not yet swept, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweep drops entries whose deadline passed. A heap item is stale when the key
// was overwritten or consumed since it was pushed; those are skipped.
func (s *MemoryStore) sweep(now time.Time) {
	for s.expiry.Len() > 0 && !now.Before(s.expiry[0].expiresAt) {
		item := heap.Pop(&s.expiry).(expiryItem)
		if e, ok := s.entries[item.transferID]; ok && e.expiresAt.Equal(item.expiresAt) {
			delete(s.entries, item.transferID)
		}
	}
}

type expiryItem struct {
	transferID string
	expiresAt  time.Time
}

type expiryHeap []expiryItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiryItem)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
