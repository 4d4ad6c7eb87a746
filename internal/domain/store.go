package domain

import (
	"context"
	"time"
)

// MarketResult is the resolution bookkeeping row for one market.
type MarketResult struct {
	MarketID    string
	Slug        string
	Winner      Outcome
	Shares      [2]float64
	Cost        [2]float64
	RealizedPnL float64
	Residual    int // orders left as residual exposure after the sweep
	ResolvedAt  time.Time
}

// FillStore journals fills. Inserts are idempotent on Fill.ID.
type FillStore interface {
	InsertBatch(ctx context.Context, fills []Fill) error
	ListByMarket(ctx context.Context, marketID string) ([]Fill, error)
}

// ResultStore persists per-market resolution results.
type ResultStore interface {
	Upsert(ctx context.Context, r MarketResult) error
	SumPnL(ctx context.Context, since time.Time) (float64, error)
}
