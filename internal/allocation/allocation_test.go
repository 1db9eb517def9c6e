package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/registry"
	"github.com/robosystems/graphplane/internal/tier"
)

func newHealthyInstance(id string, maxDatabases int) registry.InstanceRecord {
	return registry.InstanceRecord{
		InstanceID:   id,
		PrivateIP:    "10.0.0.1",
		Status:       registry.InstanceHealthy,
		MaxDatabases: maxDatabases,
		ClusterTier:  tier.Standard.String(),
		NodeType:     registry.NodeWriter,
		CreatedAt:    time.Now(),
	}
}

func TestManager_Allocate_PlacesOnInstanceWithMostResidualCapacity(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(newHealthyInstance("i-full", 2))
	store.SeedInstance(newHealthyInstance("i-empty", 10))

	m := NewManager(store, nil, nil, nil, nil)
	loc, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.NoError(t, err)
	assert.Equal(t, "i-empty", loc.InstanceID)
	assert.Equal(t, registry.DatabaseActive, loc.Status)
	assert.NotEmpty(t, loc.GraphID)
}

func TestManager_Allocate_RejectsInvalidTenantID(t *testing.T) {
	store := registry.NewMemStore()
	m := NewManager(store, nil, nil, nil, nil)

	_, err := m.Allocate(context.Background(), "not a valid tenant!", "", tier.Standard)
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeClient, cerrors.CodeOf(err))
}

func TestManager_Allocate_RejectsInvalidGraphID(t *testing.T) {
	store := registry.NewMemStore()
	m := NewManager(store, nil, nil, nil, nil)

	_, err := m.Allocate(context.Background(), "tenant-1", "not-an-id", tier.Standard)
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeSyntax, cerrors.CodeOf(err))
}

func TestManager_Allocate_SubgraphIDRoutesToParentLocation(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(newHealthyInstance("i-1", 10))
	m := NewManager(store, nil, nil, nil, nil)

	parentLoc, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.NoError(t, err)

	subID := parentLoc.GraphID + "_dev"
	loc, err := m.Allocate(context.Background(), "tenant-1", subID, tier.Standard)
	require.NoError(t, err)
	assert.Equal(t, parentLoc.InstanceID, loc.InstanceID)
	assert.Equal(t, subID, loc.GraphID)
}

func TestManager_Allocate_NoCapacityOnStandardReturnsRetryableError(t *testing.T) {
	store := registry.NewMemStore()
	m := NewManager(store, nil, nil, nil, nil)

	_, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeAllocation, cerrors.CodeOf(err))
}

func TestManager_Allocate_NoCapacityOnDedicatedTierRequiresManualProvisioning(t *testing.T) {
	store := registry.NewMemStore()
	m := NewManager(store, nil, nil, nil, nil)

	_, err := m.Allocate(context.Background(), "tenant-1", "", tier.Name("enterprise"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual provisioning")
}

type stubAutoscaler struct {
	signaled []tier.Name
}

func (s *stubAutoscaler) SignalScaleOut(_ context.Context, tierName tier.Name) error {
	s.signaled = append(s.signaled, tierName)
	return nil
}

func TestManager_Allocate_NoCapacitySignalsAutoscaleOnStandardTier(t *testing.T) {
	store := registry.NewMemStore()
	autoscaler := &stubAutoscaler{}
	m := NewManager(store, autoscaler, nil, nil, nil)

	_, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.Error(t, err)
	require.Len(t, autoscaler.signaled, 1)
	assert.Equal(t, tier.Standard, autoscaler.signaled[0])
}

func TestManager_Allocate_SkipsInstanceAtCapacityAndUsesOthers(t *testing.T) {
	store := registry.NewMemStore()
	full := newHealthyInstance("i-full", 1)
	full.DatabaseCount = 1
	store.SeedInstance(full)
	store.SeedInstance(newHealthyInstance("i-open", 5))

	m := NewManager(store, nil, nil, nil, nil)
	loc, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.NoError(t, err)
	assert.Equal(t, "i-open", loc.InstanceID)
}

type protectRecorder struct {
	enabled  []string
	disabled []string
}

func (p *protectRecorder) Enable(_ context.Context, instanceID string) error {
	p.enabled = append(p.enabled, instanceID)
	return nil
}

func (p *protectRecorder) Disable(_ context.Context, instanceID string) error {
	p.disabled = append(p.disabled, instanceID)
	return nil
}

func TestManager_Allocate_EnablesScaleInProtectionOnFirstDatabase(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(newHealthyInstance("i-1", 10))
	protect := &protectRecorder{}
	m := NewManager(store, nil, protect, nil, nil)

	_, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.NoError(t, err)
	assert.Equal(t, []string{"i-1"}, protect.enabled)
}

func TestManager_FindDatabaseLocation_ResolvesSubgraphToParentInstance(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(newHealthyInstance("i-1", 10))
	m := NewManager(store, nil, nil, nil, nil)

	parentLoc, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.NoError(t, err)

	subID := parentLoc.GraphID + "_dev"
	loc, err := m.FindDatabaseLocation(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, parentLoc.InstanceID, loc.InstanceID)
	assert.Equal(t, subID, loc.GraphID)
}

func TestManager_FindDatabaseLocation_NotFoundReturnsRoutingError(t *testing.T) {
	store := registry.NewMemStore()
	m := NewManager(store, nil, nil, nil, nil)

	_, err := m.FindDatabaseLocation(context.Background(), "kg0000000000000000")
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeRouting, cerrors.CodeOf(err))
}

func TestManager_Deallocate_TombstonesAndDecrementsInstanceCount(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(newHealthyInstance("i-1", 10))
	m := NewManager(store, nil, nil, nil, nil)

	loc, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.NoError(t, err)

	require.NoError(t, m.Deallocate(context.Background(), loc.GraphID))

	inst, err := store.GetInstance(context.Background(), "i-1")
	require.NoError(t, err)
	assert.Equal(t, 0, inst.DatabaseCount)
}

func TestManager_Deallocate_DisablesScaleInProtectionWhenInstanceGoesIdle(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(newHealthyInstance("i-1", 10))
	protect := &protectRecorder{}
	m := NewManager(store, nil, protect, nil, nil)

	loc, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.NoError(t, err)

	require.NoError(t, m.Deallocate(context.Background(), loc.GraphID))
	assert.Equal(t, []string{"i-1"}, protect.disabled)
}

func TestManager_Deallocate_IsIdempotentOnceDeleted(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(newHealthyInstance("i-1", 10))
	m := NewManager(store, nil, nil, nil, nil)

	loc, err := m.Allocate(context.Background(), "tenant-1", "", tier.Standard)
	require.NoError(t, err)

	require.NoError(t, m.Deallocate(context.Background(), loc.GraphID))
	require.NoError(t, m.Deallocate(context.Background(), loc.GraphID))
}
