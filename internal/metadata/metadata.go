// Package metadata persists the subgraph service's parallel metadata
// record (spec.md §4.6 step 7): parent_graph_id, subgraph_index, and
// subgraph name, kept separately from the graph/instance registry because
// it is relational, not a placement decision.
package metadata

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/identifier"
)

// SubgraphRecord is one row of subgraph metadata.
type SubgraphRecord struct {
	ParentGraphID identifier.ID `db:"parent_graph_id"`
	GraphID       identifier.ID `db:"graph_id"`
	Name          string        `db:"name"`
	SubgraphIndex int           `db:"subgraph_index"`
	CreatedAt     time.Time     `db:"created_at"`
}

// Store is the narrow interface the subgraph service depends on.
type Store interface {
	Insert(ctx context.Context, rec SubgraphRecord) error
	Delete(ctx context.Context, graphID identifier.ID) error
	ListByParent(ctx context.Context, parentGraphID identifier.ID) ([]SubgraphRecord, error)
}

// PostgresStore implements Store against a `subgraphs` table, grounded on
// the teacher's applications/storage/postgres row-mapping idiom.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-opened sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, rec SubgraphRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subgraphs (parent_graph_id, graph_id, name, subgraph_index, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, string(rec.ParentGraphID), string(rec.GraphID), rec.Name, rec.SubgraphIndex, rec.CreatedAt)
	if err != nil {
		return errors.Wrap(errors.CodeServer, err, "failed to insert subgraph metadata for %s", rec.GraphID)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, graphID identifier.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subgraphs WHERE graph_id = $1`, string(graphID))
	if err != nil {
		return errors.Wrap(errors.CodeServer, err, "failed to delete subgraph metadata for %s", graphID)
	}
	return nil
}

// ListByParent implements Store.
func (s *PostgresStore) ListByParent(ctx context.Context, parentGraphID identifier.ID) ([]SubgraphRecord, error) {
	var rows []SubgraphRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT parent_graph_id, graph_id, name, subgraph_index, created_at
		FROM subgraphs
		WHERE parent_graph_id = $1
		ORDER BY subgraph_index
	`, string(parentGraphID))
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(errors.CodeServer, err, "failed to list subgraphs for %s", parentGraphID)
	}
	return rows, nil
}

var _ Store = (*PostgresStore)(nil)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[identifier.ID]SubgraphRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[identifier.ID]SubgraphRecord)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, rec SubgraphRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.GraphID] = rec
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, graphID identifier.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, graphID)
	return nil
}

// ListByParent implements Store.
func (s *MemoryStore) ListByParent(_ context.Context, parentGraphID identifier.ID) ([]SubgraphRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SubgraphRecord
	for _, rec := range s.records {
		if rec.ParentGraphID == parentGraphID {
			out = append(out, rec)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
