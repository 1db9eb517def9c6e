// Package routing implements the client factory from spec.md §4.5:
// resolving a graph ID and operation type to a ready-to-use backend
// client, with shared-master discovery, replica-ALB health checks, a
// per-graph location cache, and pooled per-base-URL HTTP clients.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robosystems/graphplane/internal/allocation"
	"github.com/robosystems/graphplane/internal/backend"
	"github.com/robosystems/graphplane/internal/cache"
	"github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/logging"
	"github.com/robosystems/graphplane/internal/metrics"
	"github.com/robosystems/graphplane/internal/registry"
	"github.com/robosystems/graphplane/internal/resilience"
)

// OpType distinguishes a read from a write for routing purposes — writes
// to a shared repository always go to the master, reads may go to a
// replica.
type OpType string

const (
	OpRead  OpType = "read"
	OpWrite OpType = "write"
)

// IngestionMarkerSet is the external marker collaborator spec.md §9 open
// questions describes: instances that are healthy-enough to serve as a
// shared-master fallback while flagged unhealthy because they are mid
// ingestion. A nil IngestionMarkerSet simply disables the fallback pass.
type IngestionMarkerSet interface {
	IsIngestionActive(ctx context.Context, instanceID string) (bool, error)
}

// Config controls Factory behavior; every field maps to a spec.md §6
// environment variable or documented default.
type Config struct {
	Environment             string
	Port                    int
	APIKey                  string
	ReplicaALBURL           string
	SharedReplicaALBEnabled bool
	AllowSharedMasterReads  bool

	MasterDiscoveryTTL time.Duration
	MasterMarkerTTL    time.Duration
	ALBHealthTTL       time.Duration
	LocationCacheTTL   time.Duration

	BackendTemplate backend.Config
}

// WithDefaults fills zero fields with the documented defaults.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.MasterDiscoveryTTL == 0 {
		c.MasterDiscoveryTTL = 5 * time.Minute
	}
	if c.MasterMarkerTTL == 0 {
		c.MasterMarkerTTL = 1 * time.Minute
	}
	if c.ALBHealthTTL == 0 {
		c.ALBHealthTTL = 30 * time.Second
	}
	if c.LocationCacheTTL == 0 {
		c.LocationCacheTTL = 60 * time.Second
	}
	return c
}

// PoolStats tracks per-base-URL request/failure counters for observability.
type PoolStats struct {
	Requests uint64
	Failures uint64
}

// Snapshot returns a point-in-time copy of the counters.
func (p *PoolStats) Snapshot() PoolStats {
	return PoolStats{
		Requests: atomic.LoadUint64(&p.Requests),
		Failures: atomic.LoadUint64(&p.Failures),
	}
}

// RecordRequest increments the request counter, and the failure counter
// too when err is non-nil.
func (p *PoolStats) RecordRequest(err error) {
	atomic.AddUint64(&p.Requests, 1)
	if err != nil {
		atomic.AddUint64(&p.Failures, 1)
	}
}

// Factory resolves graph IDs to ready-to-use backend clients per the
// decision table in spec.md §4.5.
type Factory struct {
	cfg   Config
	store registry.Store
	alloc *allocation.Manager
	loc   cache.Store // optional; nil falls back to the allocation manager every call
	markers IngestionMarkerSet

	httpClient *http.Client

	masterBreaker *resilience.CircuitBreaker
	albBreaker    *resilience.CircuitBreaker

	clientsMu sync.Mutex
	clients   map[string]*backend.Client
	stats     map[string]*PoolStats

	metrics *metrics.Metrics
	log     *logging.Logger
}

// New creates a Factory. loc and markers may be nil.
func New(cfg Config, store registry.Store, alloc *allocation.Manager, loc cache.Store, markers IngestionMarkerSet, m *metrics.Metrics, log *logging.Logger) *Factory {
	cfg = cfg.WithDefaults()
	return &Factory{
		cfg:           cfg,
		store:         store,
		alloc:         alloc,
		loc:           loc,
		markers:       markers,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		masterBreaker: resilience.New(resilience.DefaultConfig()),
		albBreaker:    resilience.New(resilience.DefaultConfig()),
		clients:       make(map[string]*backend.Client),
		stats:         make(map[string]*PoolStats),
		metrics:       m,
		log:           log,
	}
}

// Resolve returns a ready-to-use backend client for graphID and the
// on-disk database name to address within it.
func (f *Factory) Resolve(ctx context.Context, graphID identifier.ID, op OpType) (*backend.Client, string, error) {
	parsed := identifier.Parse(graphID)

	switch parsed.Kind {
	case identifier.KindInvalid:
		return nil, "", errors.New(errors.CodeSyntax, "invalid graph id %q", graphID)
	case identifier.KindShared:
		client, err := f.resolveShared(ctx, op)
		if err != nil {
			return nil, "", err
		}
		return client, identifier.DatabaseName(graphID), nil
	default: // KindParent, KindSubgraph
		loc, err := f.locate(ctx, graphID)
		if err != nil {
			return nil, "", err
		}
		client, err := f.ClientForLocation(loc)
		if err != nil {
			return nil, "", err
		}
		return client, identifier.DatabaseName(graphID), nil
	}
}

func (f *Factory) locate(ctx context.Context, graphID identifier.ID) (registry.Location, error) {
	start := time.Now()
	key := "loc:" + f.cfg.Environment + ":" + string(graphID)

	if f.loc != nil {
		if v, ok := f.loc.Get(key); ok {
			if loc, ok := decodeLocation(v); ok {
				if f.metrics != nil {
					f.metrics.RecordRoutingLookup(true, time.Since(start))
				}
				return loc, nil
			}
		}
	}

	loc, err := f.alloc.FindDatabaseLocation(ctx, graphID)
	if f.metrics != nil {
		f.metrics.RecordRoutingLookup(false, time.Since(start))
	}
	if err != nil {
		return registry.Location{}, err
	}

	if f.loc != nil {
		f.loc.Set(key, loc, f.cfg.LocationCacheTTL)
	}
	return loc, nil
}

// InvalidateLocation drops any cached location for graphID, used after a
// deallocation or migration.
func (f *Factory) InvalidateLocation(graphID identifier.ID) {
	if f.loc == nil {
		return
	}
	f.loc.Invalidate("loc:" + f.cfg.Environment + ":" + string(graphID))
}

func (f *Factory) resolveShared(ctx context.Context, op OpType) (*backend.Client, error) {
	if op == OpWrite {
		return f.sharedMasterClient(ctx)
	}

	if f.cfg.SharedReplicaALBEnabled && f.cfg.ReplicaALBURL != "" {
		if healthy := f.albHealthy(ctx); healthy {
			return f.clientFor(f.cfg.ReplicaALBURL)
		}
	}

	if f.cfg.AllowSharedMasterReads {
		return f.sharedMasterClient(ctx)
	}

	return nil, errors.New(errors.CodeRouting, "no healthy read path for shared repositories: ALB unavailable and master reads disallowed")
}

func (f *Factory) masterCacheKey() string {
	return "shared-master:" + f.cfg.Environment
}

// sharedMasterClient discovers the shared-master endpoint (paginated scan
// of the instance registry, cached), falling back to an ingestion-active
// marker hit with a short TTL per spec.md §9.
func (f *Factory) sharedMasterClient(ctx context.Context) (*backend.Client, error) {
	key := f.masterCacheKey()
	if f.loc != nil {
		if v, ok := f.loc.Get(key); ok {
			if baseURL, ok := v.(string); ok {
				return f.clientFor(baseURL)
			}
		}
	}

	var baseURL string
	discoverErr := f.masterBreaker.Execute(ctx, func() error {
		instances, err := f.store.ListInstancesByNodeType(ctx, registry.NodeSharedMaster)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			if inst.Status == registry.InstanceHealthy {
				baseURL = f.baseURLForIP(inst.PrivateIP)
				return nil
			}
		}
		return errors.New(errors.CodeRouting, "no healthy shared-master instance")
	})

	if discoverErr == nil {
		if f.loc != nil {
			f.loc.Set(key, baseURL, f.cfg.MasterDiscoveryTTL)
		}
		return f.clientFor(baseURL)
	}

	if f.markers != nil {
		if fallbackURL, ok := f.markerFallback(ctx); ok {
			if f.loc != nil {
				f.loc.Set(key, fallbackURL, f.cfg.MasterMarkerTTL)
			}
			return f.clientFor(fallbackURL)
		}
	}

	return nil, errors.Wrap(errors.CodeRouting, discoverErr, "shared-master undiscoverable")
}

// markerFallback inspects instances flagged unhealthy that the external
// marker set reports as merely mid-ingestion, tolerating them as a
// shared-master fallback for a short TTL.
func (f *Factory) markerFallback(ctx context.Context) (string, bool) {
	instances, err := f.store.ListInstancesByNodeType(ctx, registry.NodeSharedMaster)
	if err != nil {
		return "", false
	}
	for _, inst := range instances {
		active, err := f.markers.IsIngestionActive(ctx, inst.InstanceID)
		if err != nil || !active {
			continue
		}
		if f.log != nil {
			f.log.WithFields(map[string]interface{}{
				"instance_id": inst.InstanceID,
			}).Warn("using ingestion-active shared-master fallback")
		}
		return f.baseURLForIP(inst.PrivateIP), true
	}
	return "", false
}

// albHealthy checks the replica ALB's health endpoint, caching the result
// for cfg.ALBHealthTTL and guarding the check with an independent circuit
// breaker. A probe failure is treated as unhealthy rather than raised —
// resolveShared falls through to the master-reads policy instead.
func (f *Factory) albHealthy(ctx context.Context) bool {
	key := "alb-health:" + f.cfg.ReplicaALBURL
	if f.loc != nil {
		if v, ok := f.loc.Get(key); ok {
			if healthy, ok := v.(bool); ok {
				return healthy
			}
		}
	}

	var healthy bool
	err := f.albBreaker.Execute(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(f.cfg.ReplicaALBURL, "/")+"/health", nil)
		if reqErr != nil {
			return reqErr
		}
		resp, doErr := f.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		healthy = resp.StatusCode < 300
		if !healthy {
			return fmt.Errorf("alb health check returned status %d", resp.StatusCode)
		}
		return nil
	})

	if err != nil {
		healthy = false
	}
	if f.loc != nil {
		f.loc.Set(key, healthy, f.cfg.ALBHealthTTL)
	}
	return healthy
}

// ClientForLocation returns a pooled backend client for the instance
// hosting loc, constructing and caching one on first use.
func (f *Factory) ClientForLocation(loc registry.Location) (*backend.Client, error) {
	return f.clientFor(f.baseURLForIP(loc.PrivateIP))
}

// WarmCaches proactively refreshes the shared-master discovery cache and,
// if a replica ALB is configured, its health cache, so the first caller
// after a TTL expiry never pays the discovery cost. Intended for
// graphplane-opsd's periodic refresher worker; errors are non-fatal since
// Resolve will retry discovery on demand anyway.
func (f *Factory) WarmCaches(ctx context.Context) error {
	if _, err := f.sharedMasterClient(ctx); err != nil {
		return err
	}
	if f.cfg.SharedReplicaALBEnabled && f.cfg.ReplicaALBURL != "" {
		f.albHealthy(ctx)
	}
	return nil
}

// decodeLocation accepts a cache hit from either cache backing: the
// in-process Cache round-trips the concrete registry.Location unchanged,
// while RedisStore round-trips every value through JSON and so hands back
// a map[string]interface{} instead. Re-encoding and decoding through
// encoding/json normalizes both shapes into a registry.Location without the
// Store interface itself needing to know about either concrete type.
func decodeLocation(v interface{}) (registry.Location, bool) {
	if loc, ok := v.(registry.Location); ok {
		return loc, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return registry.Location{}, false
	}
	var loc registry.Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return registry.Location{}, false
	}
	return loc, true
}

func (f *Factory) baseURLForIP(ip string) string {
	return fmt.Sprintf("http://%s:%d", ip, f.cfg.Port)
}

// clientFor returns the pooled backend.Client for baseURL, creating one
// with the factory's backend config template on first use. Per spec.md
// §9, a client is never shared across base URLs.
func (f *Factory) clientFor(baseURL string) (*backend.Client, error) {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	if c, ok := f.clients[baseURL]; ok {
		return c, nil
	}

	cfg := f.cfg.BackendTemplate
	cfg.BaseURL = baseURL
	if cfg.APIKey == "" {
		cfg.APIKey = f.cfg.APIKey
	}

	stats := &PoolStats{}
	client, err := backend.New(cfg, stats, f.metrics, f.log)
	if err != nil {
		return nil, err
	}

	f.clients[baseURL] = client
	f.stats[baseURL] = stats
	return client, nil
}

// Stats returns a snapshot of per-base-URL pool statistics.
func (f *Factory) Stats() map[string]PoolStats {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	out := make(map[string]PoolStats, len(f.stats))
	for baseURL, s := range f.stats {
		out[baseURL] = s.Snapshot()
	}
	return out
}

// BreakerStates returns each pooled client's circuit breaker state, keyed
// by base URL, for the operator health surface.
func (f *Factory) BreakerStates() map[string]resilience.State {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	out := make(map[string]resilience.State, len(f.clients))
	for baseURL, c := range f.clients {
		out[baseURL] = c.BreakerState()
	}
	return out
}

// Shutdown logs final pool statistics, per spec.md §9 "tear down pools
// explicitly on shutdown; log final statistics."
func (f *Factory) Shutdown() {
	if f.log == nil {
		return
	}
	for baseURL, stats := range f.Stats() {
		f.log.WithFields(map[string]interface{}{
			"base_url": baseURL,
			"requests": stats.Requests,
			"failures": stats.Failures,
		}).Info("backend connection pool shutdown")
	}
}
