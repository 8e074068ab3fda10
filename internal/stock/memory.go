package stock

import (
	"context"
	"sync"
)

// MemoryRepository implements both repositories in memory.
type MemoryRepository struct {
	mu       sync.Mutex
	own      []Entry
	reported map[[2]string][]Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{reported: map[[2]string][]Entry{}}
}

func (r *MemoryRepository) AddOwn(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.own = append(r.own, e)
	return nil
}

func (r *MemoryRepository) ListOwn(ctx context.Context, materialNumber, partnerBPNL string, kind Kind) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.own {
		if e.MaterialNumber == materialNumber && e.PartnerBPNL == partnerBPNL && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ReplaceReported(ctx context.Context, partnerBPNL, materialNumber string, rows []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fresh := make([]Entry, len(rows))
	for i, e := range rows {
		e.PartnerBPNL, e.MaterialNumber = partnerBPNL, materialNumber
		fresh[i] = e
	}
	r.reported[[2]string{partnerBPNL, materialNumber}] = fresh
	return nil
}

func (r *MemoryRepository) ListReported(ctx context.Context, partnerBPNL, materialNumber string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.reported[[2]string{partnerBPNL, materialNumber}]
	out := make([]Entry, len(rows))
	copy(out, rows)
	return out, nil
}
