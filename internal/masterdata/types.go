// Package masterdata holds the partner and material directories the exchange
// engine reads. Maintaining them is someone else's job; this package only looks
// things up.
package masterdata

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// ErrNotFound signals the requested partner or material does not exist.
var ErrNotFound = errors.New("masterdata: not found")

// BPNLPattern is the shape of a legal-entity business partner number.
var BPNLPattern = regexp.MustCompile(`^BPNL[0-9A-Z]{12}$`)

// Partner is a company we exchange data with.
type Partner struct {
	UUID   string
	Name   string
	BPNL   string
	DSPURL string // the partner's dataspace protocol endpoint
}

// Material is a local material or product record.
type Material struct {
	OwnMaterialNumber string
	CrossCompanyID    string // optional shared identifier (material global asset id)
	Name              string
	IsMaterial        bool // we buy it
	IsProduct         bool // we sell it
	CreatedAt         time.Time
}

// Relation links a local material to a partner and records the partner's own
// number for it and in which direction goods flow.
type Relation struct {
	OwnMaterialNumber       string
	PartnerBPNL             string
	PartnerMaterialNumber   string
	PartnerSuppliesMaterial bool // partner is registered as a supplier of this material
	PartnerBuysMaterial     bool // partner is registered as a buyer of this product
}

// PartnerDirectory looks up partners.
type PartnerDirectory interface {
	FindPartnerByBPNL(ctx context.Context, bpnl string) (Partner, error)
	ListPartners(ctx context.Context) ([]Partner, error)
}

// MaterialDirectory looks up materials and their partner relations.
type MaterialDirectory interface {
	FindByCrossCompanyID(ctx context.Context, id string) (Material, error)
	FindByOwnNumber(ctx context.Context, ownNumber string) (Material, error)
	// FindByPartnerMaterialNumber returns every material that any partner has
	// registered under number, oldest first.
	FindByPartnerMaterialNumber(ctx context.Context, number string) ([]Material, error)
	FindRelation(ctx context.Context, ownNumber, partnerBPNL string) (Relation, error)
}
