// Package allocation implements atomic placement of graph databases onto
// worker instances: the two-step conditional commit, capacity-aware
// instance selection, autoscale signaling, and deallocation.
package allocation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	cerrors "github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/logging"
	"github.com/robosystems/graphplane/internal/metrics"
	"github.com/robosystems/graphplane/internal/registry"
	"github.com/robosystems/graphplane/internal/resilience"
	"github.com/robosystems/graphplane/internal/tier"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// MaxRetries bounds the Step A/B commit retry loop per spec.md §4.4.
const MaxRetries = 3

// AutoscaleSignaler requests an increase in desired capacity for a tier.
// Implementations typically call a cloud autoscaling-group API.
type AutoscaleSignaler interface {
	SignalScaleOut(ctx context.Context, tierName tier.Name) error
}

// ScaleProtection toggles scale-in protection on a worker instance.
type ScaleProtection interface {
	Enable(ctx context.Context, instanceID string) error
	Disable(ctx context.Context, instanceID string) error
}

// Manager implements the allocation manager described in spec.md §4.4.
type Manager struct {
	store     registry.Store
	autoscale AutoscaleSignaler
	protect   ScaleProtection
	metrics   *metrics.Metrics
	log       *logging.Logger

	signalMu      sync.Mutex
	signalLimiter map[tier.Name]*rate.Limiter
	signalWindow  time.Duration
}

// NewManager constructs a Manager. autoscale and protect may be nil, in
// which case their effects are skipped.
func NewManager(store registry.Store, autoscale AutoscaleSignaler, protect ScaleProtection, m *metrics.Metrics, log *logging.Logger) *Manager {
	return &Manager{
		store:         store,
		autoscale:     autoscale,
		protect:       protect,
		metrics:       m,
		log:           log,
		signalLimiter: make(map[tier.Name]*rate.Limiter),
		signalWindow:  5 * time.Minute,
	}
}

func (m *Manager) limiterFor(tierName tier.Name) *rate.Limiter {
	m.signalMu.Lock()
	defer m.signalMu.Unlock()
	if l, ok := m.signalLimiter[tierName]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(m.signalWindow), 1)
	m.signalLimiter[tierName] = l
	return l
}

// Allocate places a new database for tenantID on the requested tier,
// generating graphID if empty. If graphID already names a subgraph, the
// manager routes to the parent's location without creating anything new.
func (m *Manager) Allocate(ctx context.Context, tenantID string, graphID identifier.ID, tierName tier.Name) (registry.Location, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return registry.Location{}, cerrors.New(cerrors.CodeClient, "invalid tenant_id %q", tenantID)
	}
	if tierName == "" {
		tierName = tier.Standard
	}

	if graphID == "" {
		generated, err := generateGraphID()
		if err != nil {
			return registry.Location{}, cerrors.Wrap(cerrors.CodeServer, err, "failed to generate graph_id")
		}
		graphID = generated
	} else {
		parsed := identifier.Parse(graphID)
		if parsed.Kind == identifier.KindInvalid {
			return registry.Location{}, cerrors.New(cerrors.CodeSyntax, "invalid graph_id %q", graphID)
		}
		if parsed.Kind == identifier.KindSubgraph {
			return m.FindDatabaseLocation(ctx, graphID)
		}
	}

	start := time.Now()
	loc, err := m.commit(ctx, tenantID, graphID, tierName, 0, nil)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if m.metrics != nil {
		m.metrics.RecordAllocation(tierName.String(), outcome, time.Since(start))
	}
	return loc, err
}

func (m *Manager) commit(ctx context.Context, tenantID string, graphID identifier.ID, tierName tier.Name, attempt int, excluded map[string]bool) (registry.Location, error) {
	if attempt >= MaxRetries {
		return registry.Location{}, cerrors.New(cerrors.CodeAllocation, "allocation for %s exhausted %d retries", graphID, MaxRetries)
	}

	instances, err := m.store.ListInstancesByTier(ctx, tierName.String())
	if err != nil {
		return registry.Location{}, cerrors.Wrap(cerrors.CodeServer, err, "failed to list instances for tier %s", tierName)
	}

	candidate := selectCandidate(instances, excluded)
	if candidate == nil {
		return registry.Location{}, m.handleNoCapacity(ctx, tierName)
	}

	lock := lockMarker(graphID, attempt)
	record := registry.DatabaseRecord{
		GraphID:          graphID,
		TenantID:         tenantID,
		GraphType:        registry.GraphTypeEntity,
		InstanceID:       candidate.InstanceID,
		PrivateIP:        candidate.PrivateIP,
		AvailabilityZone: candidate.AvailabilityZone,
		CreatedAt:        time.Now(),
		LastAccessed:     time.Now(),
		Status:           registry.DatabaseCreating,
		AllocationLock:   lock,
	}

	err = m.store.PutDatabaseIfAbsent(ctx, record)
	if err != nil {
		if err == registry.ErrAlreadyExists {
			existing, getErr := m.store.GetDatabase(ctx, graphID)
			if getErr != nil {
				return registry.Location{}, cerrors.Wrap(cerrors.CodeServer, getErr, "allocation race on %s but record unreadable", graphID)
			}
			return locationFromRecord(existing), nil
		}
		return registry.Location{}, cerrors.Wrap(cerrors.CodeServer, err, "failed to insert database record for %s", graphID)
	}

	incErr := m.incrementWithRetry(ctx, candidate.InstanceID)
	if incErr != nil {
		_ = m.store.DeleteDatabaseRecord(ctx, graphID, lock)
		if excluded == nil {
			excluded = make(map[string]bool)
		}
		excluded[candidate.InstanceID] = true
		return m.commit(ctx, tenantID, graphID, tierName, attempt+1, excluded)
	}

	if candidate.DatabaseCount == 0 && m.protect != nil {
		if err := m.protect.Enable(ctx, candidate.InstanceID); err != nil && m.log != nil {
			m.log.WithError(err).Warn("failed to enable scale-in protection")
		}
	}

	if err := m.store.UpdateDatabaseStatus(ctx, graphID, registry.DatabaseCreating, registry.DatabaseActive); err != nil && m.log != nil {
		m.log.WithError(err).Warn("failed to activate database record after commit")
	}

	return registry.Location{
		GraphID:          graphID,
		InstanceID:       candidate.InstanceID,
		PrivateIP:        candidate.PrivateIP,
		AvailabilityZone: candidate.AvailabilityZone,
		Status:           registry.DatabaseActive,
	}, nil
}

func (m *Manager) incrementWithRetry(ctx context.Context, instanceID string) error {
	return resilience.Retry(ctx, resilience.RegistryCASRetryConfig(), func() error {
		return m.store.IncrementDatabaseCount(ctx, instanceID)
	})
}

func (m *Manager) handleNoCapacity(ctx context.Context, tierName tier.Name) error {
	if tierName.IsDedicated() {
		return cerrors.New(cerrors.CodeAllocation, "dedicated tier %s requires manual provisioning", tierName)
	}

	if m.autoscale != nil && m.limiterFor(tierName).Allow() {
		if err := m.autoscale.SignalScaleOut(ctx, tierName); err != nil && m.log != nil {
			m.log.WithError(err).Warn("autoscale signal failed")
		}
		if m.metrics != nil {
			m.metrics.RecordAutoscaleSignal(tierName.String(), true)
		}
	} else if m.metrics != nil {
		m.metrics.RecordAutoscaleSignal(tierName.String(), false)
	}

	return cerrors.New(cerrors.CodeAllocation, "no capacity for tier %s; retry in 3-5 minutes", tierName)
}

// FindDatabaseLocation resolves graphID to its physical location,
// substituting the parent's record for subgraph IDs and best-effort
// touching last_accessed.
func (m *Manager) FindDatabaseLocation(ctx context.Context, graphID identifier.ID) (registry.Location, error) {
	lookupID := graphID
	parsed := identifier.Parse(graphID)
	if parsed.Kind == identifier.KindSubgraph {
		lookupID = parsed.Parent
	}

	record, err := m.store.GetDatabase(ctx, lookupID)
	if err != nil {
		if err == registry.ErrNotFound {
			return registry.Location{}, cerrors.New(cerrors.CodeRouting, "no database found for %s", graphID)
		}
		return registry.Location{}, cerrors.Wrap(cerrors.CodeServer, err, "registry lookup failed for %s", graphID)
	}

	if tErr := m.store.TouchLastAccessed(ctx, lookupID); tErr != nil && m.log != nil {
		m.log.WithError(tErr).Debug("failed to touch last_accessed")
	}

	loc := locationFromRecord(record)
	loc.GraphID = graphID
	return loc, nil
}

// Deallocate tombstones graphID's record and releases its instance slot.
func (m *Manager) Deallocate(ctx context.Context, graphID identifier.ID) error {
	record, err := m.store.GetDatabase(ctx, graphID)
	if err != nil {
		return cerrors.Wrap(cerrors.CodeServer, err, "failed to load database record for %s", graphID)
	}
	if record.Status == registry.DatabaseDeleted {
		return nil
	}

	if err := m.store.UpdateDatabaseStatus(ctx, graphID, record.Status, registry.DatabaseDeleted); err != nil {
		return cerrors.Wrap(cerrors.CodeServer, err, "failed to tombstone %s", graphID)
	}

	decErr := m.store.DecrementDatabaseCount(ctx, record.InstanceID)
	if decErr == registry.ErrConditionFailed {
		if m.log != nil {
			m.log.WithFields(map[string]interface{}{"instance_id": record.InstanceID}).Warn("database_count already zero on deallocate")
		}
		return nil
	}
	if decErr != nil {
		if rbErr := m.store.UpdateDatabaseStatus(ctx, graphID, registry.DatabaseDeleted, record.Status); rbErr != nil && m.log != nil {
			m.log.WithError(rbErr).Error("failed to roll back status after decrement failure")
		}
		return cerrors.Wrap(cerrors.CodeServer, decErr, "failed to decrement database_count for %s", record.InstanceID)
	}

	if inst, err := m.store.GetInstance(ctx, record.InstanceID); err == nil && inst.DatabaseCount == 0 && m.protect != nil {
		if err := m.protect.Disable(ctx, record.InstanceID); err != nil && m.log != nil {
			m.log.WithError(err).Warn("failed to disable scale-in protection")
		}
	}
	return nil
}

func selectCandidate(instances []registry.InstanceRecord, excluded map[string]bool) *registry.InstanceRecord {
	var candidates []registry.InstanceRecord
	for _, inst := range instances {
		if inst.Status != registry.InstanceHealthy {
			continue
		}
		if !inst.HasCapacity() {
			continue
		}
		if excluded != nil && excluded[inst.InstanceID] {
			continue
		}
		candidates = append(candidates, inst)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ResidualCapacity() > candidates[j].ResidualCapacity()
	})
	return &candidates[0]
}

func locationFromRecord(record registry.DatabaseRecord) registry.Location {
	return registry.Location{
		GraphID:          record.GraphID,
		InstanceID:       record.InstanceID,
		PrivateIP:        record.PrivateIP,
		AvailabilityZone: record.AvailabilityZone,
		Status:           record.Status,
		BackendType:      record.BackendType,
	}
}

func lockMarker(graphID identifier.ID, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", graphID, hexTime(), attempt)
}

func hexTime() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func generateGraphID() (identifier.ID, error) {
	return identifier.GenerateGraphID()
}
