package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cmardones/budabid/internal/domain"
	"github.com/cmardones/budabid/internal/engine"
)

// FillStore journals runs and their fills. It is append-only: the bot writes
// progress for offline analysis but never reads state back, so a fresh
// process always starts from a clean slate.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// StartRun inserts the run header row.
func (s *FillStore) StartRun(ctx context.Context, runID string, intent domain.OrderIntent) error {
	const query = `
		INSERT INTO runs (run_id, market_id, side, strategy, target_amount, dry_run)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		runID, intent.MarketID, string(intent.Side), string(intent.Strategy),
		intent.TargetAmount, intent.DryRun,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", runID, err)
	}
	return nil
}

// RecordFill appends one fill to the run.
func (s *FillStore) RecordFill(ctx context.Context, runID string, fill domain.Fill) error {
	const query = `
		INSERT INTO fills (run_id, order_id, amount, price, quote, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		runID, fill.OrderID, fill.Amount, fill.Price, fill.Quote, fill.Time,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill for run %s: %w", runID, err)
	}
	return nil
}

// FinishRun writes the run's final figures onto the header row.
func (s *FillStore) FinishRun(ctx context.Context, summary domain.ExecutionSummary) error {
	const query = `
		UPDATE runs SET
			finished_at = $2,
			total_spent = $3,
			total_received = $4,
			average_price = $5,
			completed = $6,
			interrupted = $7
		WHERE run_id = $1`

	_, err := s.pool.Exec(ctx, query,
		summary.RunID, summary.FinishedAt,
		summary.TotalSpent, summary.TotalReceived, summary.AveragePrice,
		summary.Completed, summary.Interrupted,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", summary.RunID, err)
	}
	return nil
}

// Compile-time interface check.
var _ engine.Journal = (*FillStore)(nil)
