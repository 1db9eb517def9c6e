// Package bootstrap assembles the control plane's collaborators from
// config.Config, mirroring the teacher's cmd/appserver wiring sequence
// (connect storage, build services, wire dependents) so both cmd/graphctl
// and cmd/graphplane-opsd share one construction path.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/robosystems/graphplane/internal/allocation"
	"github.com/robosystems/graphplane/internal/backend"
	"github.com/robosystems/graphplane/internal/cache"
	"github.com/robosystems/graphplane/internal/config"
	"github.com/robosystems/graphplane/internal/credit"
	"github.com/robosystems/graphplane/internal/logging"
	"github.com/robosystems/graphplane/internal/metadata"
	"github.com/robosystems/graphplane/internal/metrics"
	"github.com/robosystems/graphplane/internal/permission"
	"github.com/robosystems/graphplane/internal/registry"
	"github.com/robosystems/graphplane/internal/routing"
	"github.com/robosystems/graphplane/internal/subgraph"
	"github.com/robosystems/graphplane/internal/tier"
)

// Deps holds every collaborator a graphctl subcommand or graphplane-opsd
// worker needs. When GRAPHPLANE_POSTGRES_DSN is unset, New backs Subgraphs
// and Credit with in-memory metadata and credit-pool stores instead of
// Postgres.
type Deps struct {
	Config      *config.Config
	Log         *logging.Logger
	Metrics     *metrics.Metrics
	Registry    registry.Store
	Tiers       *tier.Catalog
	Allocator   *allocation.Manager
	Routing     *routing.Factory
	Subgraphs   *subgraph.Service
	Credit      *credit.Router
	Permissions *permission.Resolver

	postgresDB *sqlx.DB
}

// New connects to every configured backing store and wires the control
// plane's collaborators for component (used as the logger's name).
func New(ctx context.Context, cfg *config.Config, component string) (*Deps, error) {
	log := logging.New(component, cfg.LogLevel, cfg.LogFormat)
	m := metrics.Init()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	store := registry.NewDynamoStore(dynamoClient, registry.DynamoStoreConfig{
		DatabasesTable: cfg.GraphRegistryTable,
		InstancesTable: cfg.InstanceRegistryTable,
	})

	tiers := tier.New(cfg.Environment, "")

	alloc := allocation.NewManager(store, nil, nil, m, log)

	var locCache cache.Store
	if cfg.RedisCacheEnabled && cfg.RedisAddr != "" {
		locCache = cache.NewRedisStore(cfg.RedisAddr, "graphplane:loc:", cfg.RedisTTL)
	} else {
		locCache = cache.New(cache.DefaultConfig())
	}

	routingFactory := routing.New(routing.Config{
		Environment:             cfg.Environment,
		APIKey:                  cfg.GraphAPIKey,
		ReplicaALBURL:           cfg.ReplicaALBURL,
		SharedReplicaALBEnabled: cfg.SharedReplicaALBEnabled,
		AllowSharedMasterReads:  cfg.AllowSharedMasterReads,
		MasterDiscoveryTTL:      cfg.InstanceCacheTTL,
		ALBHealthTTL:            cfg.ALBHealthCacheTTL,
		BackendTemplate:         backendConfig(cfg),
	}, store, alloc, locCache, nil, m, log)

	deps := &Deps{
		Config:      cfg,
		Log:         log,
		Metrics:     m,
		Registry:    store,
		Tiers:       tiers,
		Allocator:   alloc,
		Routing:     routingFactory,
		Permissions: permission.New(permission.NewMemoryAuthorizer()),
	}

	if cfg.PostgresDSN != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		deps.postgresDB = db
		deps.Subgraphs = subgraph.New(store, alloc, routingFactory, tiers, metadata.NewPostgresStore(db), m, log)
		deps.Subgraphs.CreationEnabled = func() bool { return cfg.SubgraphCreationEnabled }
		deps.Credit = credit.New(credit.NewPostgresStore(db), m, log)
	} else {
		memMeta := metadata.NewMemoryStore()
		deps.Subgraphs = subgraph.New(store, alloc, routingFactory, tiers, memMeta, m, log)
		deps.Subgraphs.CreationEnabled = func() bool { return cfg.SubgraphCreationEnabled }
		deps.Credit = credit.New(credit.NewMemoryStore(), m, log)
	}

	return deps, nil
}

// PostgresDB returns the underlying *sql.DB for migration commands, or nil
// when no DSN was configured.
func (d *Deps) PostgresDB() *sql.DB {
	if d.postgresDB == nil {
		return nil
	}
	return d.postgresDB.DB
}

// Close releases any open connections.
func (d *Deps) Close() error {
	if d.postgresDB != nil {
		return d.postgresDB.Close()
	}
	return nil
}

func backendConfig(cfg *config.Config) backend.Config {
	tmpl := backend.DefaultConfig()
	tmpl.APIKey = cfg.GraphAPIKey
	tmpl.Timeout = cfg.ReadTimeout
	tmpl.MaxRetries = cfg.MaxRetries
	tmpl.CircuitBreakerThreshold = int(cfg.CircuitBreakerThreshold)
	tmpl.CircuitBreakerTimeout = cfg.CircuitBreakerTimeout
	return tmpl
}
