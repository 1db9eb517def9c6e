package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robosystems/graphplane/internal/allocation"
	"github.com/robosystems/graphplane/internal/backend"
	"github.com/robosystems/graphplane/internal/cache"
	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/registry"
)

func TestDecodeLocation_AcceptsConcreteAndJSONRoundTrippedShapes(t *testing.T) {
	want := registry.Location{InstanceID: "i-1", PrivateIP: "10.0.0.5", BackendType: "default"}

	loc, ok := decodeLocation(want)
	require.True(t, ok)
	assert.Equal(t, want, loc)

	// RedisStore round-trips every cached value through JSON, so a hit
	// comes back as map[string]interface{} rather than registry.Location.
	asMap := map[string]interface{}{
		"instance_id":  "i-1",
		"private_ip":   "10.0.0.5",
		"backend_type": "default",
	}
	loc, ok = decodeLocation(asMap)
	require.True(t, ok)
	assert.Equal(t, want, loc)

	_, ok = decodeLocation("not a location")
	assert.False(t, ok)
}

func newTestFactory(t *testing.T, store *registry.MemStore, cfg Config) *Factory {
	t.Helper()
	cfg.BackendTemplate = backend.DefaultConfig()
	mgr := allocation.NewManager(store, nil, nil, nil, nil)
	return New(cfg, store, mgr, cache.New(cache.DefaultConfig()), nil, nil, nil)
}

func TestFactory_Resolve_InvalidGraphID(t *testing.T) {
	store := registry.NewMemStore()
	f := newTestFactory(t, store, Config{Environment: "test"})

	_, _, err := f.Resolve(context.Background(), identifier.ID("not a valid id"), OpRead)
	require.Error(t, err)
}

func TestFactory_Resolve_UserGraph_UsesAllocationManager(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(registry.InstanceRecord{
		InstanceID: "i-1", PrivateIP: "10.0.0.5", Status: registry.InstanceHealthy,
		DatabaseCount: 1, MaxDatabases: 10, ClusterTier: "standard",
	})
	require.NoError(t, store.PutDatabaseIfAbsent(context.Background(), registry.DatabaseRecord{
		GraphID: "kg0123456789abcdef", InstanceID: "i-1", PrivateIP: "10.0.0.5", Status: registry.DatabaseActive,
	}))

	f := newTestFactory(t, store, Config{Environment: "test", Port: 9999})

	client, dbName, err := f.Resolve(context.Background(), identifier.ID("kg0123456789abcdef"), OpWrite)
	require.NoError(t, err)
	assert.Equal(t, "kg0123456789abcdef", dbName)
	assert.NotNil(t, client)
}

func TestFactory_Resolve_Subgraph_RoutesToParentInstance(t *testing.T) {
	store := registry.NewMemStore()
	store.SeedInstance(registry.InstanceRecord{
		InstanceID: "i-1", PrivateIP: "10.0.0.5", Status: registry.InstanceHealthy,
		DatabaseCount: 1, MaxDatabases: 10, ClusterTier: "standard",
	})
	require.NoError(t, store.PutDatabaseIfAbsent(context.Background(), registry.DatabaseRecord{
		GraphID: "kg0123456789abcdef", InstanceID: "i-1", PrivateIP: "10.0.0.5", Status: registry.DatabaseActive,
	}))

	f := newTestFactory(t, store, Config{Environment: "test", Port: 9999})

	client, dbName, err := f.Resolve(context.Background(), identifier.ID("kg0123456789abcdef_dev"), OpRead)
	require.NoError(t, err)
	assert.Equal(t, "kg0123456789abcdef_dev", dbName)
	assert.NotNil(t, client)
}

func TestFactory_Resolve_SharedRepository_WriteUsesMaster(t *testing.T) {
	masterServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer masterServer.Close()

	ip, port := splitHostPort(t, masterServer.URL)

	store := registry.NewMemStore()
	store.SeedInstance(registry.InstanceRecord{
		InstanceID: "master-1", PrivateIP: ip, Status: registry.InstanceHealthy, NodeType: registry.NodeSharedMaster,
	})

	f := newTestFactory(t, store, Config{Environment: "test", Port: port})

	client, dbName, err := f.Resolve(context.Background(), identifier.ID("sec"), OpWrite)
	require.NoError(t, err)
	assert.Equal(t, "sec", dbName)
	assert.NotNil(t, client)
}

func TestFactory_Resolve_SharedRepository_ReadFailsWithoutFallback(t *testing.T) {
	store := registry.NewMemStore()
	f := newTestFactory(t, store, Config{
		Environment:             "test",
		SharedReplicaALBEnabled: false,
		AllowSharedMasterReads:  false,
	})

	_, _, err := f.Resolve(context.Background(), identifier.ID("sec"), OpRead)
	require.Error(t, err)
}

func TestFactory_ResolveShared_FallsBackToMasterWhenALBUnhealthy(t *testing.T) {
	albServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer albServer.Close()

	masterServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer masterServer.Close()

	ip, port := splitHostPort(t, masterServer.URL)

	store := registry.NewMemStore()
	store.SeedInstance(registry.InstanceRecord{
		InstanceID: "master-1", PrivateIP: ip, Status: registry.InstanceHealthy, NodeType: registry.NodeSharedMaster,
	})

	f := newTestFactory(t, store, Config{
		Environment:             "test",
		Port:                    port,
		ReplicaALBURL:           albServer.URL,
		SharedReplicaALBEnabled: true,
		AllowSharedMasterReads:  true,
	})

	client, _, err := f.Resolve(context.Background(), identifier.ID("sec"), OpRead)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestFactory_ClientFor_PoolsByBaseURL(t *testing.T) {
	store := registry.NewMemStore()
	f := newTestFactory(t, store, Config{Environment: "test"})

	c1, err := f.clientFor("http://10.0.0.1:8000")
	require.NoError(t, err)
	c2, err := f.clientFor("http://10.0.0.1:8000")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c3, err := f.clientFor("http://10.0.0.2:8000")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	trimmed := strings.TrimPrefix(rawURL, "http://")
	parts := strings.Split(trimmed, ":")
	require.Len(t, parts, 2)
	port, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return parts[0], port
}
