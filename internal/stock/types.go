// Package stock stores on-hand quantities: our own, and what partners last
// reported to us.
package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind says whose goods a stock row counts.
type Kind string

const (
	KindMaterial Kind = "MATERIAL" // held by the customer, bought from the partner
	KindProduct  Kind = "PRODUCT"  // held by the supplier, to be sold to the partner
)

// Row is one stock position.
type Row struct {
	Quantity      decimal.Decimal
	Unit          string
	LocationBPNS  string
	LocationBPNA  string
	IsBlocked     bool
	LastUpdatedOn time.Time
}

// Positive reports whether the row carries a quantity worth reporting.
func (r Row) Positive() bool { return r.Quantity.IsPositive() }

// Entry is a stored row for one material and one partner.
type Entry struct {
	Row
	MaterialNumber string // own material number
	PartnerBPNL    string
	Kind           Kind
}

// OwnRepository reads our own stock.
type OwnRepository interface {
	ListOwn(ctx context.Context, materialNumber, partnerBPNL string, kind Kind) ([]Entry, error)
	AddOwn(ctx context.Context, e Entry) error
}

// ReportedRepository keeps the latest report per (partner, material).
type ReportedRepository interface {
	// ReplaceReported drops every row stored for (partnerBPNL, materialNumber)
	// and stores rows in their place, atomically.
	ReplaceReported(ctx context.Context, partnerBPNL, materialNumber string, rows []Entry) error
	ListReported(ctx context.Context, partnerBPNL, materialNumber string) ([]Entry, error)
}

// PositiveOnly filters out rows with zero or negative quantity.
func PositiveOnly(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Positive() {
			out = append(out, e)
		}
	}
	return out
}
