package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the read side of pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGDirectory reads partners and materials from Postgres.
type PGDirectory struct {
	db Querier
}

func NewPGDirectory(db Querier) *PGDirectory {
	return &PGDirectory{db: db}
}

const materialColumns = `own_material_number, COALESCE(cross_company_id, ''), name, is_material, is_product, created_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.OwnMaterialNumber, &m.CrossCompanyID, &m.Name, &m.IsMaterial, &m.IsProduct, &m.CreatedAt)
	return m, err
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("masterdata: %s: %w", what, err)
}

func (d *PGDirectory) FindPartnerByBPNL(ctx context.Context, bpnl string) (Partner, error) {
	const query = `SELECT uuid, name, bpnl, dsp_url FROM partners WHERE bpnl = $1`
	var p Partner
	if err := d.db.QueryRow(ctx, query, bpnl).Scan(&p.UUID, &p.Name, &p.BPNL, &p.DSPURL); err != nil {
		return Partner{}, notFound(err, "partner "+bpnl)
	}
	return p, nil
}

func (d *PGDirectory) ListPartners(ctx context.Context) ([]Partner, error) {
	const query = `SELECT uuid, name, bpnl, dsp_url FROM partners ORDER BY bpnl`
	rows, err := d.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("masterdata: list partners: %w", err)
	}
	defer rows.Close()

	var out []Partner
	for rows.Next() {
		var p Partner
		if err := rows.Scan(&p.UUID, &p.Name, &p.BPNL, &p.DSPURL); err != nil {
			return nil, fmt.Errorf("masterdata: scan partner: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("masterdata: iterate partners: %w", err)
	}
	return out, nil
}

func (d *PGDirectory) FindByCrossCompanyID(ctx context.Context, id string) (Material, error) {
	query := `SELECT ` + materialColumns + ` FROM materials WHERE cross_company_id = $1`
	m, err := scanMaterial(d.db.QueryRow(ctx, query, id))
	if err != nil {
		return Material{}, notFound(err, "cross-company id "+id)
	}
	return m, nil
}

func (d *PGDirectory) FindByOwnNumber(ctx context.Context, ownNumber string) (Material, error) {
	query := `SELECT ` + materialColumns + ` FROM materials WHERE own_material_number = $1`
	m, err := scanMaterial(d.db.QueryRow(ctx, query, ownNumber))
	if err != nil {
		return Material{}, notFound(err, "material "+ownNumber)
	}
	return m, nil
}

func (d *PGDirectory) FindByPartnerMaterialNumber(ctx context.Context, number string) ([]Material, error) {
	query := `
		SELECT DISTINCT ` + materialColumns + `
		FROM materials
		WHERE own_material_number IN (
			SELECT own_material_number FROM material_partner_relations WHERE partner_material_number = $1
		)
		ORDER BY created_at, own_material_number`
	rows, err := d.db.Query(ctx, query, number)
	if err != nil {
		return nil, fmt.Errorf("masterdata: materials by partner number: %w", err)
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("masterdata: scan material: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("masterdata: iterate materials: %w", err)
	}
	return out, nil
}

func (d *PGDirectory) FindRelation(ctx context.Context, ownNumber, partnerBPNL string) (Relation, error) {
	const query = `
		SELECT own_material_number, partner_bpnl, partner_material_number,
		       partner_supplies_material, partner_buys_material
		FROM material_partner_relations
		WHERE own_material_number = $1 AND partner_bpnl = $2`
	var r Relation
	err := d.db.QueryRow(ctx, query, ownNumber, partnerBPNL).Scan(
		&r.OwnMaterialNumber,
		&r.PartnerBPNL,
		&r.PartnerMaterialNumber,
		&r.PartnerSuppliesMaterial,
		&r.PartnerBuysMaterial,
	)
	if err != nil {
		return Relation{}, notFound(err, "relation "+ownNumber+"/"+partnerBPNL)
	}
	return r, nil
}

// SavePartner inserts or updates a partner by BPNL.
func (d *PGDirectory) SavePartner(ctx context.Context, p Partner) error {
	const stmt = `
		INSERT INTO partners (uuid, name, bpnl, dsp_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bpnl) DO UPDATE SET name = EXCLUDED.name, dsp_url = EXCLUDED.dsp_url`
	if _, err := d.db.Exec(ctx, stmt, p.UUID, p.Name, p.BPNL, p.DSPURL); err != nil {
		return fmt.Errorf("masterdata: save partner %s: %w", p.BPNL, err)
	}
	return nil
}
