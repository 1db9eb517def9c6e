// Package subgraph implements the subgraph service from spec.md §4.6:
// create/fork/list/delete databases that co-locate on a parent's instance
// and inherit its credit pool and permissions.
package subgraph

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/robosystems/graphplane/internal/backend"
	"github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/logging"
	"github.com/robosystems/graphplane/internal/metadata"
	"github.com/robosystems/graphplane/internal/metrics"
	"github.com/robosystems/graphplane/internal/registry"
	"github.com/robosystems/graphplane/internal/tier"
)

// Locator resolves a graph ID to its physical placement. Satisfied by
// *allocation.Manager.
type Locator interface {
	FindDatabaseLocation(ctx context.Context, graphID identifier.ID) (registry.Location, error)
}

// ClientProvider returns a pooled backend client for a resolved location.
// Satisfied by *routing.Factory.
type ClientProvider interface {
	ClientForLocation(loc registry.Location) (*backend.Client, error)
}

// TierLookup resolves a tier name to its configuration. Satisfied by
// *tier.Catalog.
type TierLookup interface {
	Get(name tier.Name) (tier.Config, error)
}

// ForkOptions controls the optional parent-data fork performed during
// subgraph creation.
type ForkOptions struct {
	Tables          []string
	ExcludePatterns []string
	IgnoreErrors    bool
}

// CreateRequest describes a subgraph creation request.
type CreateRequest struct {
	ParentGraphID identifier.ID
	Name          string
	BaseSchema    string
	Extensions    []string
	CustomDDL     string
	ForkParent    bool
	Fork          ForkOptions
}

// CreateResult is the outcome of Service.Create.
type CreateResult struct {
	GraphID       identifier.ID
	ParentGraphID identifier.ID
	Status        string // "active" or "exists"
	SubgraphIndex int
	Fork          *backend.ForkResult
}

// Info is the combined existence/size/count projection spec.md §4.6
// "Info" describes. Count fields degrade to nil on backend error rather
// than failing the whole response.
type Info struct {
	GraphID    identifier.ID
	Exists     bool
	NodeCount  *int64
	EdgeCount  *int64
	SizeBytes  *int64
	CreatedAt  *time.Time
}

// Listing is one row of Service.List's projection.
type Listing struct {
	GraphID    identifier.ID
	Name       string
	InstanceID string
	Status     registry.DatabaseStatus
}

// Service implements the subgraph lifecycle operations.
type Service struct {
	registry registry.Store
	alloc    Locator
	clients  ClientProvider
	tiers    TierLookup
	metadata metadata.Store
	metrics  *metrics.Metrics
	log      *logging.Logger

	// CreationEnabled is the global kill switch (spec.md §6
	// SUBGRAPH_CREATION_ENABLED). A nil func means creation is always
	// enabled.
	CreationEnabled func() bool
}

// New creates a Service.
func New(store registry.Store, alloc Locator, clients ClientProvider, tiers TierLookup, meta metadata.Store, m *metrics.Metrics, log *logging.Logger) *Service {
	return &Service{
		registry: store,
		alloc:    alloc,
		clients:  clients,
		tiers:    tiers,
		metadata: meta,
		metrics:  m,
		log:      log,
	}
}

// Create validates tier policy, places the subgraph database on the
// parent's instance, installs its schema, persists metadata, and
// optionally forks parent staging tables into it. A schema-install or
// metadata-persist failure after the backend database has been created
// triggers a best-effort cleanup of that database; a fork failure returns
// an error and leaves the created subgraph and its metadata in place.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if s.CreationEnabled != nil && !s.CreationEnabled() {
		return CreateResult{}, errors.New(errors.CodeConfiguration, "subgraph creation is disabled")
	}

	parentParsed := identifier.Parse(req.ParentGraphID)
	switch parentParsed.Kind {
	case identifier.KindShared:
		return CreateResult{}, errors.New(errors.CodeClient, "shared repository %q cannot have subgraphs", req.ParentGraphID)
	case identifier.KindParent:
		// ok
	default:
		return CreateResult{}, errors.New(errors.CodeSyntax, "parent %q is not a valid user-graph id", req.ParentGraphID)
	}

	subgraphID, err := identifier.ConstructSubgraph(req.ParentGraphID, req.Name)
	if err != nil {
		return CreateResult{}, err
	}

	loc, err := s.alloc.FindDatabaseLocation(ctx, req.ParentGraphID)
	if err != nil {
		return CreateResult{}, errors.Wrap(errors.CodeAllocation, err, "failed to resolve parent instance for %s", req.ParentGraphID)
	}

	inst, err := s.registry.GetInstance(ctx, loc.InstanceID)
	if err != nil {
		return CreateResult{}, errors.Wrap(errors.CodeServer, err, "failed to load instance record %s", loc.InstanceID)
	}

	tierCfg, err := s.tiers.Get(tier.Name(inst.ClusterTier))
	if err != nil {
		return CreateResult{}, err
	}
	maxSubgraphs := tierCfg.MaxSubgraphsOrDefault()
	if maxSubgraphs == 0 {
		return CreateResult{}, errors.New(errors.CodeAllocation, "tier %s does not support subgraphs", inst.ClusterTier)
	}

	existing, err := s.metadata.ListByParent(ctx, req.ParentGraphID)
	if err != nil {
		return CreateResult{}, errors.Wrap(errors.CodeServer, err, "failed to list existing subgraphs for %s", req.ParentGraphID)
	}
	if len(existing) >= maxSubgraphs {
		return CreateResult{}, errors.New(errors.CodeAllocation, "parent %s already has the maximum of %d subgraphs", req.ParentGraphID, maxSubgraphs)
	}

	client, err := s.clients.ClientForLocation(loc)
	if err != nil {
		return CreateResult{}, err
	}

	dbName := identifier.DatabaseName(subgraphID)
	already, err := client.DatabaseExists(ctx, dbName)
	if err != nil {
		return CreateResult{}, err
	}
	if already {
		return CreateResult{GraphID: subgraphID, ParentGraphID: req.ParentGraphID, Status: "exists"}, nil
	}

	createReq := backend.CreateDatabaseRequest{
		GraphID:         dbName,
		SchemaType:      "entity",
		IsSubgraph:      true,
		CustomSchemaDDL: req.CustomDDL,
	}
	if _, err := client.CreateDatabase(ctx, createReq); err != nil {
		return CreateResult{}, errors.Wrap(errors.CodeServer, err, "failed to create subgraph database %s", dbName)
	}

	schemaReq := backend.InstallSchemaRequest{}
	if req.CustomDDL != "" {
		schemaReq.Type = "ddl"
		schemaReq.DDL = req.CustomDDL
	} else {
		schemaReq.Type = "custom"
		schemaReq.BaseSchema = req.BaseSchema
		schemaReq.Extensions = req.Extensions
	}
	if err := client.InstallSchema(ctx, dbName, schemaReq); err != nil {
		s.cleanup(ctx, client, dbName)
		return CreateResult{}, errors.Wrap(errors.CodeServer, err, "failed to install schema on subgraph %s", dbName)
	}

	index := len(existing) + 1
	metaRec := metadata.SubgraphRecord{
		ParentGraphID: req.ParentGraphID,
		GraphID:       subgraphID,
		Name:          req.Name,
		SubgraphIndex: index,
		CreatedAt:     time.Now(),
	}
	if err := s.metadata.Insert(ctx, metaRec); err != nil {
		s.cleanup(ctx, client, dbName)
		return CreateResult{}, errors.Wrap(errors.CodeServer, err, "failed to persist subgraph metadata for %s", subgraphID)
	}

	result := CreateResult{GraphID: subgraphID, ParentGraphID: req.ParentGraphID, Status: "active", SubgraphIndex: index}

	if req.ForkParent {
		forkReq := backend.ForkFromParentRequest{
			SubgraphID:      dbName,
			Tables:          resolveForkTables(req.Fork),
			ExcludePatterns: req.Fork.ExcludePatterns,
			IgnoreErrors:    req.Fork.IgnoreErrors,
		}
		forkResult, err := client.ForkFromParent(ctx, identifier.DatabaseName(req.ParentGraphID), forkReq)
		if err != nil {
			return CreateResult{}, errors.Wrap(errors.CodeServer, err, "fork from parent failed for %s", subgraphID)
		}
		result.Fork = &forkResult
	}

	return result, nil
}

// cleanup best-effort deletes a partially created subgraph database,
// logging if the cleanup itself fails, per spec.md §4.6 step 8.
func (s *Service) cleanup(ctx context.Context, client *backend.Client, dbName string) {
	if err := client.DeleteDatabase(ctx, dbName); err != nil && s.log != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{"database": dbName}).Error("failed to clean up subgraph database after partial creation failure")
	}
}

// resolveForkTables applies glob-style exclude patterns (path.Match
// semantics) to the requested table include-list, mirroring the original
// fork service's fnmatch-based filtering.
func resolveForkTables(opts ForkOptions) []string {
	if len(opts.ExcludePatterns) == 0 {
		return opts.Tables
	}
	out := make([]string, 0, len(opts.Tables))
	for _, table := range opts.Tables {
		excluded := false
		for _, pattern := range opts.ExcludePatterns {
			if matched, _ := path.Match(pattern, table); matched {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, table)
		}
	}
	return out
}

// Delete resolves the parent, refuses to delete a subgraph holding data
// unless force is set, optionally takes a best-effort backup first, then
// deletes the backend database and its metadata record.
func (s *Service) Delete(ctx context.Context, graphID identifier.ID, force, createBackup bool) error {
	parsed := identifier.Parse(graphID)
	if parsed.Kind != identifier.KindSubgraph {
		return errors.New(errors.CodeClient, "%s is not a subgraph", graphID)
	}

	loc, err := s.alloc.FindDatabaseLocation(ctx, graphID)
	if err != nil {
		return errors.Wrap(errors.CodeAllocation, err, "failed to resolve subgraph instance for %s", graphID)
	}
	client, err := s.clients.ClientForLocation(loc)
	if err != nil {
		return err
	}

	dbName := identifier.DatabaseName(graphID)

	if !force {
		result, err := client.Query(ctx, dbName, "MATCH (n) RETURN count(n) AS cnt LIMIT 1", nil)
		if err == nil && len(result.Data) > 0 {
			if hasData(result.Data[0]["cnt"]) {
				return errors.New(errors.CodeClient, "subgraph %s has data; pass force=true to delete anyway", graphID)
			}
		}
	}

	if createBackup {
		if _, err := client.CreateBackup(ctx, dbName, backend.CreateBackupRequest{Format: "native"}); err != nil && s.log != nil {
			s.log.WithError(err).Warn("pre-delete backup failed; proceeding with deletion")
		}
	}

	if err := client.DeleteDatabase(ctx, dbName); err != nil {
		return err
	}

	if err := s.metadata.Delete(ctx, graphID); err != nil && s.log != nil {
		s.log.WithError(err).Error("failed to delete subgraph metadata record after database deletion")
	}
	return nil
}

func hasData(v interface{}) bool {
	switch n := v.(type) {
	case float64:
		return n > 0
	case int:
		return n > 0
	case int64:
		return n > 0
	default:
		return false
	}
}

// List returns every subgraph co-located on parentGraphID's instance.
func (s *Service) List(ctx context.Context, parentGraphID identifier.ID) ([]Listing, error) {
	loc, err := s.alloc.FindDatabaseLocation(ctx, parentGraphID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeAllocation, err, "failed to resolve parent instance for %s", parentGraphID)
	}

	dbs, err := s.registry.ListDatabasesByInstance(ctx, loc.InstanceID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeServer, err, "failed to list databases on instance %s", loc.InstanceID)
	}

	prefix := string(parentGraphID) + "_"
	out := make([]Listing, 0, len(dbs))
	for _, db := range dbs {
		if !strings.HasPrefix(string(db.GraphID), prefix) {
			continue
		}
		out = append(out, Listing{
			GraphID:    db.GraphID,
			Name:       strings.TrimPrefix(string(db.GraphID), prefix),
			InstanceID: db.InstanceID,
			Status:     db.Status,
		})
	}
	return out, nil
}

// GetInfo combines a backend existence check, node/edge counts, and the
// backend's database record for graphID. Count errors degrade to nil
// rather than failing the whole response, per spec.md §4.6 "Info".
func (s *Service) GetInfo(ctx context.Context, graphID identifier.ID) (Info, error) {
	loc, err := s.alloc.FindDatabaseLocation(ctx, graphID)
	if err != nil {
		return Info{}, errors.Wrap(errors.CodeAllocation, err, "failed to resolve instance for %s", graphID)
	}
	client, err := s.clients.ClientForLocation(loc)
	if err != nil {
		return Info{}, err
	}

	dbName := identifier.DatabaseName(graphID)
	exists, err := client.DatabaseExists(ctx, dbName)
	if err != nil {
		return Info{}, err
	}
	info := Info{GraphID: graphID, Exists: exists}
	if !exists {
		return info, nil
	}

	if res, err := client.Query(ctx, dbName, "MATCH (n) RETURN count(n) AS cnt", nil); err == nil && len(res.Data) > 0 {
		info.NodeCount = toInt64Ptr(res.Data[0]["cnt"])
	} else if s.log != nil {
		s.log.WithError(err).Debug("node count query failed; returning nil count")
	}

	if res, err := client.Query(ctx, dbName, "MATCH ()-[r]->() RETURN count(r) AS cnt", nil); err == nil && len(res.Data) > 0 {
		info.EdgeCount = toInt64Ptr(res.Data[0]["cnt"])
	} else if s.log != nil {
		s.log.WithError(err).Debug("edge count query failed; returning nil count")
	}

	if rec, err := client.GetDatabase(ctx, dbName); err == nil {
		if size, ok := rec["size_bytes"]; ok {
			info.SizeBytes = toInt64Ptr(size)
		}
	} else if s.log != nil {
		s.log.WithError(err).Debug("database record lookup failed")
	}

	return info, nil
}

func toInt64Ptr(v interface{}) *int64 {
	switch n := v.(type) {
	case float64:
		out := int64(n)
		return &out
	case int:
		out := int64(n)
		return &out
	case int64:
		return &n
	default:
		return nil
	}
}
