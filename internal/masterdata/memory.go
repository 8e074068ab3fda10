package masterdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryDirectory serves partners and materials from memory. It implements
// both PartnerDirectory and MaterialDirectory.
type MemoryDirectory struct {
	mu        sync.RWMutex
	partners  map[string]Partner  // by BPNL
	materials map[string]Material // by own number
	relations map[[2]string]Relation
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		partners:  map[string]Partner{},
		materials: map[string]Material{},
		relations: map[[2]string]Relation{},
	}
}

func (d *MemoryDirectory) AddPartner(p Partner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.partners[p.BPNL] = p
}

func (d *MemoryDirectory) AddMaterial(m Material) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.materials[m.OwnMaterialNumber] = m
}

func (d *MemoryDirectory) AddRelation(r Relation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relations[[2]string{r.OwnMaterialNumber, r.PartnerBPNL}] = r
}

func (d *MemoryDirectory) FindPartnerByBPNL(ctx context.Context, bpnl string) (Partner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.partners[bpnl]
	if !ok {
		return Partner{}, fmt.Errorf("%w: partner %s", ErrNotFound, bpnl)
	}
	return p, nil
}

func (d *MemoryDirectory) ListPartners(ctx context.Context) ([]Partner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Partner, 0, len(d.partners))
	for _, p := range d.partners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BPNL < out[j].BPNL })
	return out, nil
}

func (d *MemoryDirectory) FindByCrossCompanyID(ctx context.Context, id string) (Material, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.materials {
		if m.CrossCompanyID != "" && m.CrossCompanyID == id {
			return m, nil
		}
	}
	return Material{}, fmt.Errorf("%w: cross-company id %s", ErrNotFound, id)
}

func (d *MemoryDirectory) FindByOwnNumber(ctx context.Context, ownNumber string) (Material, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.materials[ownNumber]
	if !ok {
		return Material{}, fmt.Errorf("%w: material %s", ErrNotFound, ownNumber)
	}
	return m, nil
}

func (d *MemoryDirectory) FindByPartnerMaterialNumber(ctx context.Context, number string) ([]Material, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[string]bool{}
	var out []Material
	for _, r := range d.relations {
		if r.PartnerMaterialNumber != number || seen[r.OwnMaterialNumber] {
			continue
		}
		if m, ok := d.materials[r.OwnMaterialNumber]; ok {
			seen[m.OwnMaterialNumber] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OwnMaterialNumber < out[j].OwnMaterialNumber
	})
	return out, nil
}

func (d *MemoryDirectory) FindRelation(ctx context.Context, ownNumber, partnerBPNL string) (Relation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.relations[[2]string{ownNumber, partnerBPNL}]
	if !ok {
		return Relation{}, fmt.Errorf("%w: relation %s/%s", ErrNotFound, ownNumber, partnerBPNL)
	}
	return r, nil
}
