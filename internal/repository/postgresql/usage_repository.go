package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepository struct {
	pool *pgxpool.Pool
}

func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// Increment bumps the (owner, period) counter in a single atomic statement.
// The upsert leaves no read-then-write window, so concurrent increments for
// the same owner never lose an update. An owner already at limit consumes
// nothing: the conditional update matches no row and allowed is false.
// limit <= 0 means unlimited.
func (r *UsageRepository) Increment(ctx context.Context, ownerID string, period time.Time, limit int64) (int64, bool, error) {
	const q = `
INSERT INTO usage_records (owner_id, period, count)
VALUES ($1, $2, 1)
ON CONFLICT (owner_id, period)
DO UPDATE SET count = usage_records.count + 1, updated_at = now()
WHERE $3 <= 0 OR usage_records.count < $3
RETURNING count;
`
	var count int64
	if err := r.pool.QueryRow(ctx, q, ownerID, period, limit).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return count, true, nil
}

// Get returns the counter for (owner, period); zero when no record exists yet.
func (r *UsageRepository) Get(ctx context.Context, ownerID string, period time.Time) (int64, error) {
	const q = `SELECT count FROM usage_records WHERE owner_id=$1 AND period=$2;`

	var count int64
	if err := r.pool.QueryRow(ctx, q, ownerID, period).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}
