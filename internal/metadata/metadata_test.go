package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robosystems/graphplane/internal/identifier"
)

const parentGraphID = identifier.ID("kg0123456789abcdef")

func TestMemoryStore_InsertAndListByParent(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.Insert(context.Background(), SubgraphRecord{
		ParentGraphID: parentGraphID, GraphID: parentGraphID + "_dev", Name: "dev", SubgraphIndex: 1, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Insert(context.Background(), SubgraphRecord{
		ParentGraphID: parentGraphID, GraphID: parentGraphID + "_prod", Name: "prod", SubgraphIndex: 2, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Insert(context.Background(), SubgraphRecord{
		ParentGraphID: "kgfedcba9876543210", GraphID: "kgfedcba9876543210_other", Name: "other", SubgraphIndex: 1, CreatedAt: time.Now(),
	}))

	recs, err := store.ListByParent(context.Background(), parentGraphID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Insert(context.Background(), SubgraphRecord{
		ParentGraphID: parentGraphID, GraphID: parentGraphID + "_dev", Name: "dev",
	}))

	require.NoError(t, store.Delete(context.Background(), parentGraphID+"_dev"))

	recs, err := store.ListByParent(context.Background(), parentGraphID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemoryStore_ListByParent_EmptyWhenNoneExist(t *testing.T) {
	store := NewMemoryStore()
	recs, err := store.ListByParent(context.Background(), parentGraphID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
