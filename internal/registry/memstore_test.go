package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robosystems/graphplane/internal/identifier"
)

func TestMemStore_PutDatabaseIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	record := DatabaseRecord{GraphID: "kg0123456789abcdef", Status: DatabaseCreating}
	require.NoError(t, s.PutDatabaseIfAbsent(ctx, record))

	err := s.PutDatabaseIfAbsent(ctx, record)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemStore_IncrementDatabaseCount_RespectsCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.SeedInstance(InstanceRecord{InstanceID: "i-1", DatabaseCount: 49, MaxDatabases: 50})

	require.NoError(t, s.IncrementDatabaseCount(ctx, "i-1"))
	inst, err := s.GetInstance(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, 50, inst.DatabaseCount)

	err = s.IncrementDatabaseCount(ctx, "i-1")
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestMemStore_DecrementDatabaseCount_NeverNegative(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.SeedInstance(InstanceRecord{InstanceID: "i-1", DatabaseCount: 0, MaxDatabases: 50})

	err := s.DecrementDatabaseCount(ctx, "i-1")
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestMemStore_DeleteDatabaseRecord_LockMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	record := DatabaseRecord{GraphID: "kg0123456789abcdef", AllocationLock: "lock-a"}
	require.NoError(t, s.PutDatabaseIfAbsent(ctx, record))

	err := s.DeleteDatabaseRecord(ctx, record.GraphID, "lock-b")
	assert.ErrorIs(t, err, ErrConditionFailed)

	require.NoError(t, s.DeleteDatabaseRecord(ctx, record.GraphID, "lock-a"))
	_, err = s.GetDatabase(ctx, record.GraphID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_UpdateDatabaseStatus_ConditionFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	record := DatabaseRecord{GraphID: "kg0123456789abcdef", Status: DatabaseActive}
	require.NoError(t, s.PutDatabaseIfAbsent(ctx, record))

	err := s.UpdateDatabaseStatus(ctx, record.GraphID, DatabaseCreating, DatabaseDeleted)
	assert.ErrorIs(t, err, ErrConditionFailed)

	require.NoError(t, s.UpdateDatabaseStatus(ctx, record.GraphID, DatabaseActive, DatabaseDeleted))
}

func TestMemStore_ListSubgraphsOf(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	parent := identifier.ID("kg0123456789abcdef")
	require.NoError(t, s.PutDatabaseIfAbsent(ctx, DatabaseRecord{GraphID: parent, Status: DatabaseActive}))
	require.NoError(t, s.PutDatabaseIfAbsent(ctx, DatabaseRecord{GraphID: "kg0123456789abcdef_dev", Status: DatabaseActive}))
	require.NoError(t, s.PutDatabaseIfAbsent(ctx, DatabaseRecord{GraphID: "kg9999999999999999", Status: DatabaseActive}))

	subs := s.ListSubgraphsOf(parent)
	require.Len(t, subs, 1)
	assert.Equal(t, identifier.ID("kg0123456789abcdef_dev"), subs[0].GraphID)
}
