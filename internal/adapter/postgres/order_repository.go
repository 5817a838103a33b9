package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/orderfeed/internal/domain"
)

// OrderRepo serves order snapshots from the query pool.
type OrderRepo struct {
	pool  *pgxpool.Pool
	query string
}

// NewOrderRepo creates a repo reading from table.
func NewOrderRepo(pool *pgxpool.Pool, table string) *OrderRepo {
	return &OrderRepo{
		pool:  pool,
		query: fmt.Sprintf("SELECT to_jsonb(o) FROM %s o ORDER BY o.updated_at DESC LIMIT $1", tableIdentifier(table)),
	}
}

// FetchRecent returns up to limit orders as JSON objects, most recently
// updated first.
func (r *OrderRepo) FetchRecent(ctx context.Context, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		return []domain.Record{}, nil
	}

	rows, err := r.pool.Query(ctx, r.query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query recent orders: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	records := make([]domain.Record, 0, limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: failed to scan order: %w", domain.ErrStore, err)
		}
		records = append(records, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read orders: %w", domain.ErrStore, err)
	}

	return records, nil
}

// Ping checks the pool for readiness probes.
func (r *OrderRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
