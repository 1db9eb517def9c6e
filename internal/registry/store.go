package registry

import (
	"context"
	"errors"

	"github.com/robosystems/graphplane/internal/identifier"
)

// ErrAlreadyExists is returned by PutDatabaseIfAbsent when a record for the
// graph ID already exists (the DynamoDB `attribute_not_exists` condition
// failed).
var ErrAlreadyExists = errors.New("registry: record already exists")

// ErrConditionFailed is returned by any conditional update when its
// condition does not hold against the current stored value — the
// caller-supplied expected state is stale.
var ErrConditionFailed = errors.New("registry: condition failed")

// ErrNotFound is returned when a get targets a key with no stored record.
var ErrNotFound = errors.New("registry: record not found")

// Store is the narrow conditional-write contract the allocation manager,
// client factory, and subgraph service depend on. It is satisfied both by a
// DynamoDB-backed implementation (dynamostore.go) and by an in-memory
// implementation (memstore.go) used in unit tests.
type Store interface {
	// GetDatabase returns the DatabaseRecord for graphID, or ErrNotFound.
	GetDatabase(ctx context.Context, graphID identifier.ID) (DatabaseRecord, error)

	// PutDatabaseIfAbsent inserts record under the condition that no
	// record for its GraphID already exists. Returns ErrAlreadyExists
	// (without mutation) if one does.
	PutDatabaseIfAbsent(ctx context.Context, record DatabaseRecord) error

	// UpdateDatabaseStatus transitions a database's status under the
	// condition that its current status equals expectedCurrent. Returns
	// ErrConditionFailed if the stored status has already moved on.
	UpdateDatabaseStatus(ctx context.Context, graphID identifier.ID, expectedCurrent, next DatabaseStatus) error

	// DeleteDatabaseRecord removes record only if its AllocationLock
	// equals expectedLock — used to unwind a Step A insert when Step B's
	// capacity increment fails. Returns ErrConditionFailed if the lock
	// has since changed (another allocator resolved the race first).
	DeleteDatabaseRecord(ctx context.Context, graphID identifier.ID, expectedLock string) error

	// TouchLastAccessed best-effort updates a database record's
	// LastAccessed timestamp; callers must not treat failure as fatal.
	TouchLastAccessed(ctx context.Context, graphID identifier.ID) error

	// ListInstancesByTier returns every instance record in the given
	// tier, paginating internally until exhausted.
	ListInstancesByTier(ctx context.Context, tier string) ([]InstanceRecord, error)

	// ListInstancesByNodeType returns every instance record of the given
	// node type, paginating internally until exhausted.
	ListInstancesByNodeType(ctx context.Context, nodeType NodeType) ([]InstanceRecord, error)

	// GetInstance returns the InstanceRecord for instanceID, or
	// ErrNotFound.
	GetInstance(ctx context.Context, instanceID string) (InstanceRecord, error)

	// IncrementDatabaseCount increments an instance's DatabaseCount under
	// the condition that it remains below MaxDatabases. Returns
	// ErrConditionFailed if another allocator has already filled the
	// instance.
	IncrementDatabaseCount(ctx context.Context, instanceID string) error

	// DecrementDatabaseCount decrements an instance's DatabaseCount under
	// the condition that it is currently greater than zero. Returns
	// ErrConditionFailed if the count is already zero — callers should
	// treat this as an integrity event to log, not a fatal error.
	DecrementDatabaseCount(ctx context.Context, instanceID string) error

	// ListDatabasesByInstance returns every active database record hosted
	// on instanceID, used by the subgraph service to enumerate a parent's
	// co-located subgraphs.
	ListDatabasesByInstance(ctx context.Context, instanceID string) ([]DatabaseRecord, error)
}
