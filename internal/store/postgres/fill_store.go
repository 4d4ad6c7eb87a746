package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// FillStore implements domain.FillStore.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore on pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const insertFill = `
	INSERT INTO fills (id, order_id, market_id, outcome, side, price, size, filled_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING`

// InsertBatch journals fills in one round trip. Fills already present
// are skipped, so replays are harmless.
func (s *FillStore) InsertBatch(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range fills {
		batch.Queue(insertFill,
			f.ID, f.OrderID, f.MarketID, int16(f.Outcome), int16(f.Side),
			f.Price, f.Size, f.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill %s: %w", fills[i].ID, err)
		}
	}
	return nil
}

// ListByMarket returns a market's fills in fill order.
func (s *FillStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, market_id, outcome, side, price::float8, size::float8, filled_at
		FROM fills WHERE market_id = $1
		ORDER BY filled_at, recorded_at`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var outcome, side int16
		if err := rows.Scan(&f.ID, &f.OrderID, &f.MarketID, &outcome, &side, &f.Price, &f.Size, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Outcome = domain.Outcome(outcome)
		f.Side = domain.OrderSide(side)
		out = append(out, f)
	}
	return out, rows.Err()
}

var _ domain.FillStore = (*FillStore)(nil)
