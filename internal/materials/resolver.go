// Package materials maps the material references a partner sends to our own
// material records.
package materials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
)

// ErrMaterialUnresolved means no tier produced a material. Callers skip the
// item and keep going.
var ErrMaterialUnresolved = errors.New("materials: unresolved")

// Role is the part we play for the material being looked up.
type Role string

const (
	RoleSupplier Role = "SUPPLIER"
	RoleCustomer Role = "CUSTOMER"
)

// Reference is a material as it appears on the wire. Either side's number and
// the shared id are all optional.
type Reference struct {
	GlobalAssetID          string `json:"materialGlobalAssetId,omitempty"`
	MaterialNumberCustomer string `json:"materialNumberCustomer,omitempty"`
	MaterialNumberSupplier string `json:"materialNumberSupplier,omitempty"`
}

// Sides splits the two material numbers into ours and the partner's, given
// our role.
func (r Reference) Sides(role Role) (own, partner string) {
	if role == RoleSupplier {
		return r.MaterialNumberSupplier, r.MaterialNumberCustomer
	}
	return r.MaterialNumberCustomer, r.MaterialNumberSupplier
}

// ReferenceFor builds the wire reference for one of our materials.
func ReferenceFor(m masterdata.Material, partnerNumber string, role Role) Reference {
	ref := Reference{GlobalAssetID: m.CrossCompanyID}
	if role == RoleSupplier {
		ref.MaterialNumberSupplier, ref.MaterialNumberCustomer = m.OwnMaterialNumber, partnerNumber
	} else {
		ref.MaterialNumberCustomer, ref.MaterialNumberSupplier = m.OwnMaterialNumber, partnerNumber
	}
	return ref
}

// Resolver runs the three lookup tiers.
type Resolver struct {
	dir masterdata.MaterialDirectory
	log *slog.Logger
}

func NewResolver(dir masterdata.MaterialDirectory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, log: logger.With("component", "material-resolver")}
}

// Resolve finds our material for ref as sent by partner. The first tier that
// yields a material wins:
//  1. the shared cross-company id,
//  2. the partner's number, limited to materials of the kind role trades that
//     partner may trade with us in role,
//  3. our own number.
func (r *Resolver) Resolve(ctx context.Context, ref Reference, partner masterdata.Partner, role Role) (masterdata.Material, error) {
	own, theirs := ref.Sides(role)
	log := r.log.With("partner", partner.BPNL, "role", role, "global_asset_id", ref.GlobalAssetID,
		"own_number", own, "partner_number", theirs)

	if ref.GlobalAssetID != "" {
		m, err := r.dir.FindByCrossCompanyID(ctx, ref.GlobalAssetID)
		switch {
		case err == nil:
			r.checkMismatch(ctx, log, m, own, theirs, partner)
			return m, nil
		case !errors.Is(err, masterdata.ErrNotFound):
			return masterdata.Material{}, fmt.Errorf("materials: by cross-company id: %w", err)
		}
		log.Debug("cross-company id unknown, trying material numbers")
	}

	if theirs != "" {
		m, ok, err := r.byPartnerNumber(ctx, log, theirs, partner, role)
		if err != nil {
			return masterdata.Material{}, err
		}
		if ok {
			return m, nil
		}
	}

	if own != "" {
		m, err := r.dir.FindByOwnNumber(ctx, own)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, masterdata.ErrNotFound) {
			return masterdata.Material{}, fmt.Errorf("materials: by own number: %w", err)
		}
	}

	return masterdata.Material{}, fmt.Errorf("%w: partner %s ref %+v", ErrMaterialUnresolved, partner.BPNL, ref)
}

func (r *Resolver) byPartnerNumber(ctx context.Context, log *slog.Logger, number string, partner masterdata.Partner, role Role) (masterdata.Material, bool, error) {
	candidates, err := r.dir.FindByPartnerMaterialNumber(ctx, number)
	if err != nil {
		return masterdata.Material{}, false, fmt.Errorf("materials: by partner number: %w", err)
	}
	var permitted []masterdata.Material
	for _, m := range candidates {
		if !tradedAs(m, role) {
			continue
		}
		rel, err := r.dir.FindRelation(ctx, m.OwnMaterialNumber, partner.BPNL)
		if errors.Is(err, masterdata.ErrNotFound) {
			continue
		}
		if err != nil {
			return masterdata.Material{}, false, fmt.Errorf("materials: relation: %w", err)
		}
		if permittedFor(rel, role) {
			permitted = append(permitted, m)
		}
	}
	switch len(permitted) {
	case 0:
		return masterdata.Material{}, false, nil
	case 1:
		return permitted[0], true, nil
	default:
		log.Warn("partner number matches several materials, using the oldest",
			"count", len(permitted), "chosen", permitted[0].OwnMaterialNumber)
		return permitted[0], true, nil
	}
}

// tradedAs: we supply products and buy materials.
func tradedAs(m masterdata.Material, role Role) bool {
	if role == RoleSupplier {
		return m.IsProduct
	}
	return m.IsMaterial
}

// permittedFor: when we supply, the partner must be registered as buyer, and
// the other way round.
func permittedFor(rel masterdata.Relation, role Role) bool {
	if role == RoleSupplier {
		return rel.PartnerBuysMaterial
	}
	return rel.PartnerSuppliesMaterial
}

func (r *Resolver) checkMismatch(ctx context.Context, log *slog.Logger, m masterdata.Material, own, theirs string, partner masterdata.Partner) {
	if own != "" && own != m.OwnMaterialNumber {
		log.Warn("own material number does not match cross-company id, keeping the id match",
			"resolved", m.OwnMaterialNumber)
	}
	if theirs == "" {
		return
	}
	rel, err := r.dir.FindRelation(ctx, m.OwnMaterialNumber, partner.BPNL)
	if err != nil {
		log.Warn("no partner relation for material resolved by cross-company id", "resolved", m.OwnMaterialNumber, "error", err)
		return
	}
	if rel.PartnerMaterialNumber != theirs {
		log.Warn("partner material number does not match cross-company id, keeping the id match",
			"resolved", m.OwnMaterialNumber, "registered_partner_number", rel.PartnerMaterialNumber)
	}
}
