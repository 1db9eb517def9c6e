// Package credit implements the credit router from spec.md §4.7: any
// credit-consuming operation on a subgraph ID is translated to its parent's
// pool before an atomic compare-and-swap debit.
package credit

import (
	"context"
	"sync"
	"time"

	"github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/logging"
	"github.com/robosystems/graphplane/internal/metrics"
	"github.com/robosystems/graphplane/internal/resilience"
)

// Pool is the external collaborator's view of a parent graph's credit
// balance. Subgraphs never own a pool of their own.
type Pool struct {
	ParentGraphID      identifier.ID
	MonthlyAllocation  float64
	CurrentBalance     float64
	LastAllocationDate time.Time
}

// PoolStore is the narrow interface the router depends on. A Postgres
// implementation (postgres.go) and an in-memory implementation
// (MemoryStore, below) both satisfy it.
type PoolStore interface {
	GetPool(ctx context.Context, parentGraphID identifier.ID) (Pool, error)
	// ConsumeCAS debits cost from the pool's balance under the condition
	// that the stored balance still equals expectedBalance. It returns
	// ErrConditionFailed when the compare fails, so the router can retry
	// against the freshly read balance.
	ConsumeCAS(ctx context.Context, parentGraphID identifier.ID, expectedBalance, cost float64) error
}

// ErrConditionFailed is returned by a PoolStore's ConsumeCAS when the
// stored balance has since moved away from expectedBalance.
var ErrConditionFailed = errors.New(errors.CodeTransient, "credit: balance changed since read")

// ConsumeResult is the outcome of a Consume call.
type ConsumeResult struct {
	Success bool
	Error   string
}

// Router translates any graph ID (subgraphs included) to its parent's
// credit pool and performs atomic debits against it.
type Router struct {
	store   PoolStore
	metrics *metrics.Metrics
	log     *logging.Logger
}

// New creates a Router backed by store.
func New(store PoolStore, m *metrics.Metrics, log *logging.Logger) *Router {
	return &Router{store: store, metrics: m, log: log}
}

// Consume debits cost from graphID's pool — the parent's pool for a
// subgraph ID. Insufficient balance returns {Success: false, Error:
// "insufficient"} without mutating anything. Shared repositories use a
// distinct per-user repository-credit path outside this router.
func (r *Router) Consume(ctx context.Context, graphID identifier.ID, opType string, cost float64) (ConsumeResult, error) {
	parsed := identifier.Parse(graphID)
	if parsed.Kind == identifier.KindShared {
		return ConsumeResult{}, errors.New(errors.CodeClient, "shared repository %q uses the per-user repository-credit path, not the graph credit router", graphID)
	}

	parent, err := identifier.ParentOf(graphID)
	if err != nil {
		return ConsumeResult{}, err
	}

	var result ConsumeResult
	retryErr := resilience.Retry(ctx, resilience.RegistryCASRetryConfig(), func() error {
		pool, getErr := r.store.GetPool(ctx, parent)
		if getErr != nil {
			return getErr
		}
		if pool.CurrentBalance < cost {
			result = ConsumeResult{Success: false, Error: "insufficient"}
			return nil
		}
		if casErr := r.store.ConsumeCAS(ctx, parent, pool.CurrentBalance, cost); casErr != nil {
			if r.metrics != nil {
				r.metrics.RecordCreditCASRetry()
			}
			return casErr
		}
		result = ConsumeResult{Success: true}
		return nil
	})

	outcome := "success"
	if retryErr != nil {
		outcome = "error"
	} else if !result.Success {
		outcome = "insufficient"
	}
	if r.metrics != nil {
		r.metrics.RecordCreditConsume(outcome)
	}
	if retryErr != nil {
		return ConsumeResult{}, errors.Wrap(errors.CodeServer, retryErr, "credit consume failed for %s (op %s)", parent, opType)
	}
	return result, nil
}

// MemoryStore is an in-memory PoolStore for tests.
type MemoryStore struct {
	mu    sync.Mutex
	pools map[identifier.ID]Pool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pools: make(map[identifier.ID]Pool)}
}

// Seed installs a starting pool for parentGraphID, used by tests.
func (s *MemoryStore) Seed(pool Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.ParentGraphID] = pool
}

// GetPool implements PoolStore.
func (s *MemoryStore) GetPool(_ context.Context, parentGraphID identifier.ID) (Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[parentGraphID]
	if !ok {
		return Pool{}, errors.New(errors.CodeClient, "no credit pool for %s", parentGraphID)
	}
	return pool, nil
}

// ConsumeCAS implements PoolStore.
func (s *MemoryStore) ConsumeCAS(_ context.Context, parentGraphID identifier.ID, expectedBalance, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[parentGraphID]
	if !ok {
		return errors.New(errors.CodeClient, "no credit pool for %s", parentGraphID)
	}
	if pool.CurrentBalance != expectedBalance {
		return ErrConditionFailed
	}
	pool.CurrentBalance -= cost
	s.pools[parentGraphID] = pool
	return nil
}

var _ PoolStore = (*MemoryStore)(nil)
