package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// ResultStore implements domain.ResultStore.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a ResultStore on pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Upsert writes a market's resolution row. Late fills re-book the market,
// so a second write replaces the first.
func (s *ResultStore) Upsert(ctx context.Context, r domain.MarketResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO market_results (
			market_id, slug, winner, up_shares, down_shares,
			up_cost, down_cost, realized_pnl, residual, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market_id) DO UPDATE SET
			up_shares = EXCLUDED.up_shares,
			down_shares = EXCLUDED.down_shares,
			up_cost = EXCLUDED.up_cost,
			down_cost = EXCLUDED.down_cost,
			realized_pnl = EXCLUDED.realized_pnl,
			residual = EXCLUDED.residual`,
		r.MarketID, r.Slug, int16(r.Winner),
		r.Shares[domain.OutcomeUp], r.Shares[domain.OutcomeDown],
		r.Cost[domain.OutcomeUp], r.Cost[domain.OutcomeDown],
		r.RealizedPnL, r.Residual, r.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert result %s: %w", r.MarketID, err)
	}
	return nil
}

// SumPnL totals realized P&L of markets resolved at or after since.
func (s *ResultStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0)::float8 FROM market_results WHERE resolved_at >= $1`,
		since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return total, nil
}

var _ domain.ResultStore = (*ResultStore)(nil)
