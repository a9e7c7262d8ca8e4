package postgres

import (
	"context"

	"github.com/linenloft/api/internal/repositories"
)

type counterRepository struct {
	store *Store
}

// Next atomically advances the named counter and returns the new value.
// The upsert seeds a fresh counter at 1 so callers never pre-create rows.
func (r *counterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		INSERT INTO counters (id, value)
		VALUES ($1, 1)
		ON CONFLICT (id) DO UPDATE SET value = counters.value + 1
		RETURNING value`

	var value int64
	if err := r.store.q(ctx).QueryRowContext(opCtx, query, counterID).Scan(&value); err != nil {
		return 0, repositories.NewError("counters.next", repositories.KindUnavailable, "advance counter", err)
	}
	return value, nil
}

var _ repositories.CounterRepository = (*counterRepository)(nil)
