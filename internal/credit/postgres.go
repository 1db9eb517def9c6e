package credit

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/identifier"
)

// PostgresStore is the relational credit-pool collaborator spec.md §4.7
// treats as external. Credit pools are themselves relational rows keyed
// by parent graph ID, so it reuses the same sqlx/lib-pq plumbing as
// subgraph metadata (internal/metadata) rather than a second storage
// stack.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-opened sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type poolRow struct {
	ParentGraphID      string    `db:"parent_graph_id"`
	MonthlyAllocation  float64   `db:"monthly_allocation"`
	CurrentBalance     float64   `db:"current_balance"`
	LastAllocationDate time.Time `db:"last_allocation_date"`
}

// GetPool implements PoolStore.
func (s *PostgresStore) GetPool(ctx context.Context, parentGraphID identifier.ID) (Pool, error) {
	var row poolRow
	err := s.db.GetContext(ctx, &row, `
		SELECT parent_graph_id, monthly_allocation, current_balance, last_allocation_date
		FROM credit_pools
		WHERE parent_graph_id = $1
	`, string(parentGraphID))
	if err == sql.ErrNoRows {
		return Pool{}, errors.New(errors.CodeClient, "no credit pool for %s", parentGraphID)
	}
	if err != nil {
		return Pool{}, errors.Wrap(errors.CodeServer, err, "failed to load credit pool for %s", parentGraphID)
	}
	return Pool{
		ParentGraphID:      identifier.ID(row.ParentGraphID),
		MonthlyAllocation:  row.MonthlyAllocation,
		CurrentBalance:     row.CurrentBalance,
		LastAllocationDate: row.LastAllocationDate,
	}, nil
}

// ConsumeCAS implements PoolStore: a single UPDATE with both the parent key
// and the expected balance in its WHERE clause is the compare-and-swap —
// grounded on the same row-level CAS idiom as the teacher's
// infrastructure/accountpool/supabase/repository.go TryLockAccount.
func (s *PostgresStore) ConsumeCAS(ctx context.Context, parentGraphID identifier.ID, expectedBalance, cost float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_pools
		SET current_balance = current_balance - $3
		WHERE parent_graph_id = $1 AND current_balance = $2
	`, string(parentGraphID), expectedBalance, cost)
	if err != nil {
		return errors.Wrap(errors.CodeServer, err, "credit CAS update failed for %s", parentGraphID)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.CodeServer, err, "credit CAS rows-affected check failed for %s", parentGraphID)
	}
	if rows == 0 {
		return ErrConditionFailed
	}
	return nil
}

var _ PoolStore = (*PostgresStore)(nil)
