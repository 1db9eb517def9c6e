package subgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robosystems/graphplane/internal/backend"
	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/metadata"
	"github.com/robosystems/graphplane/internal/registry"
	"github.com/robosystems/graphplane/internal/tier"
)

const parentGraphID = identifier.ID("kg0123456789abcdef")

// fakeLocator always resolves to the single seeded instance.
type fakeLocator struct {
	loc registry.Location
}

func (f *fakeLocator) FindDatabaseLocation(_ context.Context, _ identifier.ID) (registry.Location, error) {
	return f.loc, nil
}

// fakeProvider returns one pre-built client regardless of location.
type fakeProvider struct {
	client *backend.Client
}

func (f *fakeProvider) ClientForLocation(_ registry.Location) (*backend.Client, error) {
	return f.client, nil
}

// fakeTiers returns a fixed tier configuration.
type fakeTiers struct {
	cfg tier.Config
}

func (f *fakeTiers) Get(_ tier.Name) (tier.Config, error) {
	return f.cfg, nil
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*backend.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(mux)
	cfg := backend.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "test-key"
	client, err := backend.New(cfg, nil, nil, nil)
	require.NoError(t, err)
	return client, srv.Close
}

func maxSubgraphs(n int) tier.Config {
	v := n
	return tier.Config{MaxSubgraphs: &v}
}

func newRegistryDBStore(t *testing.T, inst registry.InstanceRecord) *registry.MemStore {
	t.Helper()
	store := registry.NewMemStore()
	store.SeedInstance(inst)
	return store
}

func TestService_Create_InstallsSchemaAndPersistsMetadata(t *testing.T) {
	var createCalled, schemaCalled bool

	mux := http.NewServeMux()
	mux.HandleFunc("/databases/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "_dev"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/schema"):
			schemaCalled = true
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/databases", func(w http.ResponseWriter, r *http.Request) {
		createCalled = true
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "created"})
	})

	client, closeFn := newTestClient(t, mux)
	defer closeFn()

	store := newRegistryDBStore(t, registry.InstanceRecord{
		InstanceID: "i-1", ClusterTier: "standard", Status: registry.InstanceHealthy,
	})
	meta := metadata.NewMemoryStore()

	svc := New(store, &fakeLocator{loc: registry.Location{InstanceID: "i-1"}}, &fakeProvider{client: client}, &fakeTiers{cfg: maxSubgraphs(5)}, meta, nil, nil)

	result, err := svc.Create(context.Background(), CreateRequest{
		ParentGraphID: parentGraphID,
		Name:          "dev",
		BaseSchema:    "entity",
	})
	require.NoError(t, err)
	assert.Equal(t, "active", result.Status)
	assert.Equal(t, identifier.ID("kg0123456789abcdef_dev"), result.GraphID)
	assert.True(t, createCalled)
	assert.True(t, schemaCalled)

	recs, err := meta.ListByParent(context.Background(), parentGraphID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "dev", recs[0].Name)
}

func TestService_Create_RejectsSharedRepositoryParent(t *testing.T) {
	store := registry.NewMemStore()
	meta := metadata.NewMemoryStore()
	svc := New(store, &fakeLocator{}, &fakeProvider{}, &fakeTiers{cfg: maxSubgraphs(5)}, meta, nil, nil)

	_, err := svc.Create(context.Background(), CreateRequest{ParentGraphID: "sec", Name: "dev"})
	require.Error(t, err)
}

func TestService_Create_RejectsAtTierLimit(t *testing.T) {
	store := newRegistryDBStore(t, registry.InstanceRecord{InstanceID: "i-1", ClusterTier: "standard"})
	meta := metadata.NewMemoryStore()
	require.NoError(t, meta.Insert(context.Background(), metadata.SubgraphRecord{ParentGraphID: parentGraphID, GraphID: parentGraphID + "_a", Name: "a"}))

	svc := New(store, &fakeLocator{loc: registry.Location{InstanceID: "i-1"}}, &fakeProvider{}, &fakeTiers{cfg: maxSubgraphs(1)}, meta, nil, nil)

	_, err := svc.Create(context.Background(), CreateRequest{ParentGraphID: parentGraphID, Name: "b"})
	require.Error(t, err)
}

func TestService_Create_DisabledByKillSwitch(t *testing.T) {
	store := registry.NewMemStore()
	meta := metadata.NewMemoryStore()
	svc := New(store, &fakeLocator{}, &fakeProvider{}, &fakeTiers{}, meta, nil, nil)
	svc.CreationEnabled = func() bool { return false }

	_, err := svc.Create(context.Background(), CreateRequest{ParentGraphID: parentGraphID, Name: "dev"})
	require.Error(t, err)
}

func TestService_Create_ReturnsExistsWithoutReinstalling(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/databases/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"graph_id": "kg0123456789abcdef_dev"})
	})

	client, closeFn := newTestClient(t, mux)
	defer closeFn()

	store := newRegistryDBStore(t, registry.InstanceRecord{InstanceID: "i-1", ClusterTier: "standard"})
	meta := metadata.NewMemoryStore()
	svc := New(store, &fakeLocator{loc: registry.Location{InstanceID: "i-1"}}, &fakeProvider{client: client}, &fakeTiers{cfg: maxSubgraphs(5)}, meta, nil, nil)

	result, err := svc.Create(context.Background(), CreateRequest{ParentGraphID: parentGraphID, Name: "dev"})
	require.NoError(t, err)
	assert.Equal(t, "exists", result.Status)
}

func TestService_Delete_RefusesWhenDataPresentWithoutForce(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/databases/kg0123456789abcdef_dev/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backend.Result{Data: []map[string]interface{}{{"cnt": float64(42)}}})
	})

	client, closeFn := newTestClient(t, mux)
	defer closeFn()

	store := newRegistryDBStore(t, registry.InstanceRecord{InstanceID: "i-1"})
	meta := metadata.NewMemoryStore()
	svc := New(store, &fakeLocator{loc: registry.Location{InstanceID: "i-1"}}, &fakeProvider{client: client}, &fakeTiers{}, meta, nil, nil)

	err := svc.Delete(context.Background(), parentGraphID+"_dev", false, false)
	require.Error(t, err)
}

func TestService_Delete_ForceDeletesAndRemovesMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/databases/kg0123456789abcdef_dev/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backend.Result{Data: []map[string]interface{}{{"cnt": float64(0)}}})
	})
	mux.HandleFunc("/databases/kg0123456789abcdef_dev", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusOK)
		}
	})

	client, closeFn := newTestClient(t, mux)
	defer closeFn()

	store := newRegistryDBStore(t, registry.InstanceRecord{InstanceID: "i-1"})
	meta := metadata.NewMemoryStore()
	require.NoError(t, meta.Insert(context.Background(), metadata.SubgraphRecord{ParentGraphID: parentGraphID, GraphID: parentGraphID + "_dev", Name: "dev"}))

	svc := New(store, &fakeLocator{loc: registry.Location{InstanceID: "i-1"}}, &fakeProvider{client: client}, &fakeTiers{}, meta, nil, nil)

	err := svc.Delete(context.Background(), parentGraphID+"_dev", true, false)
	require.NoError(t, err)

	recs, err := meta.ListByParent(context.Background(), parentGraphID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestService_List_FiltersByParentPrefix(t *testing.T) {
	store := newRegistryDBStore(t, registry.InstanceRecord{InstanceID: "i-1"})
	require.NoError(t, store.PutDatabaseIfAbsent(context.Background(), registry.DatabaseRecord{
		GraphID: parentGraphID + "_dev", InstanceID: "i-1", Status: registry.DatabaseActive,
	}))
	require.NoError(t, store.PutDatabaseIfAbsent(context.Background(), registry.DatabaseRecord{
		GraphID: parentGraphID, InstanceID: "i-1", Status: registry.DatabaseActive,
	}))

	meta := metadata.NewMemoryStore()
	svc := New(store, &fakeLocator{loc: registry.Location{InstanceID: "i-1"}}, &fakeProvider{}, &fakeTiers{}, meta, nil, nil)

	listings, err := svc.List(context.Background(), parentGraphID)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "dev", listings[0].Name)
}

func TestService_GetInfo_ReturnsCountsWhenExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/databases/kg0123456789abcdef_dev", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"size_bytes": float64(1024)})
	})
	mux.HandleFunc("/databases/kg0123456789abcdef_dev/query", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Cypher string `json:"cypher"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if strings.Contains(body.Cypher, "-[r]->") {
			json.NewEncoder(w).Encode(backend.Result{Data: []map[string]interface{}{{"cnt": float64(3)}}})
			return
		}
		json.NewEncoder(w).Encode(backend.Result{Data: []map[string]interface{}{{"cnt": float64(10)}}})
	})

	client, closeFn := newTestClient(t, mux)
	defer closeFn()

	store := newRegistryDBStore(t, registry.InstanceRecord{InstanceID: "i-1"})
	meta := metadata.NewMemoryStore()
	svc := New(store, &fakeLocator{loc: registry.Location{InstanceID: "i-1"}}, &fakeProvider{client: client}, &fakeTiers{}, meta, nil, nil)

	info, err := svc.GetInfo(context.Background(), parentGraphID+"_dev")
	require.NoError(t, err)
	require.True(t, info.Exists)
	require.NotNil(t, info.NodeCount)
	require.NotNil(t, info.EdgeCount)
	require.NotNil(t, info.SizeBytes)
	assert.Equal(t, int64(10), *info.NodeCount)
	assert.Equal(t, int64(3), *info.EdgeCount)
	assert.Equal(t, int64(1024), *info.SizeBytes)
}

func TestResolveForkTables_AppliesExcludePatterns(t *testing.T) {
	tables := resolveForkTables(ForkOptions{
		Tables:          []string{"customers", "staging_tmp", "invoices"},
		ExcludePatterns: []string{"staging_*"},
	})
	assert.Equal(t, []string{"customers", "invoices"}, tables)
}
