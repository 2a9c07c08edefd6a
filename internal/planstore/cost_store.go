package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"goa.design/convergio/internal/cost"
)

// AddDaily implements cost.DailyStore, persisting the cost controller's
// daily aggregate into the same database the rest of the store uses rather
// than introducing a second backend for one small table.
func (s *Store) AddDaily(ctx context.Context, agg cost.DailyAggregate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_daily_totals(date, input_tokens, output_tokens, cost_usd, calls)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cost_usd = cost_usd + excluded.cost_usd,
			calls = calls + excluded.calls`,
		agg.Date, agg.InputTokens, agg.OutputTokens, agg.CostUSD, agg.Calls,
	)
	if err != nil {
		return fmt.Errorf("planstore: add daily cost: %w", err)
	}
	return nil
}

// DailyTotal returns the stored aggregate for a given date (zero value, nil
// error, when no rows exist for that date).
func (s *Store) DailyTotal(ctx context.Context, date string) (cost.DailyAggregate, error) {
	var agg cost.DailyAggregate
	agg.Date = date
	row := s.db.QueryRowContext(ctx,
		`SELECT input_tokens, output_tokens, cost_usd, calls FROM cost_daily_totals WHERE date = ?`, date)
	err := row.Scan(&agg.InputTokens, &agg.OutputTokens, &agg.CostUSD, &agg.Calls)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, nil
	}
	if err != nil {
		return cost.DailyAggregate{}, fmt.Errorf("planstore: daily total: %w", err)
	}
	return agg, nil
}
