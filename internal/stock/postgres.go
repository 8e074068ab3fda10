package stock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRepository stores stock rows in Postgres.
type PGRepository struct {
	db DB
}

func NewPGRepository(db DB) *PGRepository {
	return &PGRepository{db: db}
}

const stockColumns = `own_material_number, partner_bpnl, kind, quantity, unit, location_bpns, location_bpna, is_blocked, last_updated_on`

func insertArgs(e Entry) []any {
	return []any{e.MaterialNumber, e.PartnerBPNL, string(e.Kind), e.Quantity, e.Unit, e.LocationBPNS, e.LocationBPNA, e.IsBlocked, e.LastUpdatedOn}
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.MaterialNumber, &e.PartnerBPNL, &kind, &e.Quantity, &e.Unit,
			&e.LocationBPNS, &e.LocationBPNA, &e.IsBlocked, &e.LastUpdatedOn); err != nil {
			return nil, fmt.Errorf("stock: scan row: %w", err)
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stock: iterate rows: %w", err)
	}
	return out, nil
}

func (r *PGRepository) AddOwn(ctx context.Context, e Entry) error {
	stmt := `INSERT INTO own_stocks (` + stockColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.Exec(ctx, stmt, insertArgs(e)...); err != nil {
		return fmt.Errorf("stock: add own: %w", err)
	}
	return nil
}

func (r *PGRepository) ListOwn(ctx context.Context, materialNumber, partnerBPNL string, kind Kind) ([]Entry, error) {
	query := `SELECT ` + stockColumns + ` FROM own_stocks
		WHERE own_material_number = $1 AND partner_bpnl = $2 AND kind = $3
		ORDER BY id`
	rows, err := r.db.Query(ctx, query, materialNumber, partnerBPNL, string(kind))
	if err != nil {
		return nil, fmt.Errorf("stock: list own: %w", err)
	}
	return scanEntries(rows)
}

func (r *PGRepository) ListReported(ctx context.Context, partnerBPNL, materialNumber string) ([]Entry, error) {
	query := `SELECT ` + stockColumns + ` FROM reported_stocks
		WHERE partner_bpnl = $1 AND own_material_number = $2
		ORDER BY id`
	rows, err := r.db.Query(ctx, query, partnerBPNL, materialNumber)
	if err != nil {
		return nil, fmt.Errorf("stock: list reported: %w", err)
	}
	return scanEntries(rows)
}

// ReplaceReported deletes and re-inserts inside one transaction so readers
// never see a mix of the old and the new report.
func (r *PGRepository) ReplaceReported(ctx context.Context, partnerBPNL, materialNumber string, rows []Entry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stock: begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	const del = `DELETE FROM reported_stocks WHERE partner_bpnl = $1 AND own_material_number = $2`
	if _, err := tx.Exec(ctx, del, partnerBPNL, materialNumber); err != nil {
		return fmt.Errorf("stock: delete reported: %w", err)
	}
	ins := `INSERT INTO reported_stocks (` + stockColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, e := range rows {
		e.PartnerBPNL, e.MaterialNumber = partnerBPNL, materialNumber
		if _, err := tx.Exec(ctx, ins, insertArgs(e)...); err != nil {
			return fmt.Errorf("stock: insert reported: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("stock: commit replace: %w", err)
	}
	return nil
}
