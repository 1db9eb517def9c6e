// Package config loads control plane configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvOrDefault returns the value of the named environment variable, or
// fallback if it is unset or empty.
func EnvOrDefault(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

// EnvBool returns the named environment variable parsed as a bool, or
// fallback if unset or unparseable.
func EnvBool(name string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// EnvInt returns the named environment variable parsed as an int, or
// fallback if unset or unparseable.
func EnvInt(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// EnvInt64 returns the named environment variable parsed as an int64, or
// fallback if unset or unparseable.
func EnvInt64(name string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// EnvDuration returns the named environment variable parsed with
// time.ParseDuration, or fallback if unset or unparseable.
func EnvDuration(name string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// EnvCSV returns the named environment variable split on commas, with
// whitespace trimmed from each element and empty elements dropped. Returns
// fallback if the variable is unset.
func EnvCSV(name string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnvByteSize returns the named environment variable parsed as a byte count,
// accepting a trailing K/M/G suffix (case-insensitive, base 1024), or
// fallback if unset or unparseable.
func EnvByteSize(name string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	v = strings.ToUpper(v)
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "G"):
		multiplier = 1024 * 1024 * 1024
		v = strings.TrimSuffix(v, "G")
	case strings.HasSuffix(v, "M"):
		multiplier = 1024 * 1024
		v = strings.TrimSuffix(v, "M")
	case strings.HasSuffix(v, "K"):
		multiplier = 1024
		v = strings.TrimSuffix(v, "K")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}
	return n * multiplier
}

// Config holds the control plane's environment-derived settings, covering
// every variable named in spec.md's external interfaces section.
type Config struct {
	// Registry / DynamoDB
	DynamoDBTableDatabases string
	DynamoDBTableInstances string
	AWSRegion              string

	// Postgres (subgraph metadata, credit pools) — not named in spec.md
	// §6; ambient storage config for the external collaborators it
	// places out of scope.
	PostgresDSN string

	// Optional shared location cache
	RedisCacheEnabled bool
	RedisAddr         string
	RedisTTL          time.Duration

	// Environment selects the tier manifest partition and namespaces the
	// location/master-discovery caches (spec.md §6 ENVIRONMENT, §9 "keys
	// must include environment").
	Environment string

	// Backend HTTP client (spec.md §6 GRAPH_API_URL / GRAPH_API_KEY /
	// GRAPH_CONNECT_TIMEOUT / GRAPH_READ_TIMEOUT)
	GraphAPIURL    string
	GraphAPIKey    string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int

	// Shared-repository read-path policy (spec.md §6)
	ReplicaALBURL           string
	SharedReplicaALBEnabled bool
	AllowSharedMasterReads  bool

	// Circuit breaker (spec.md §6 GRAPH_CIRCUIT_BREAKER_THRESHOLD /
	// GRAPH_CIRCUIT_BREAKER_TIMEOUT)
	CircuitBreakerThreshold uint32
	CircuitBreakerTimeout   time.Duration

	// Cache TTLs (spec.md §6 GRAPH_INSTANCE_CACHE_TTL /
	// GRAPH_ALB_HEALTH_CACHE_TTL)
	InstanceCacheTTL   time.Duration
	ALBHealthCacheTTL  time.Duration

	// Feature flags (spec.md §6, all default on)
	RetryLogicEnabled     bool
	HealthChecksEnabled   bool
	CircuitBreakersEnabled bool

	// Subgraph kill switch (spec.md §6 SUBGRAPH_CREATION_ENABLED)
	SubgraphCreationEnabled bool

	// Registry table names (spec.md §6 GRAPH_REGISTRY_TABLE /
	// INSTANCE_REGISTRY_TABLE)
	GraphRegistryTable    string
	InstanceRegistryTable string

	// Allocation
	DefaultMaxDatabasesPerInstance int
	AllocationLockTTL              time.Duration

	// Autoscale signal rate limit
	AutoscaleSignalInterval time.Duration

	// Ops server
	OpsListenAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// FromEnv loads a Config from the process environment, applying the same
// defaults and variable names spec.md §6 documents.
func FromEnv() *Config {
	// .env is optional; only local/dev setups carry one, so a missing file
	// is not an error.
	_ = godotenv.Load()

	return &Config{
		DynamoDBTableDatabases: EnvOrDefault("GRAPH_REGISTRY_TABLE", "graph-databases"),
		DynamoDBTableInstances: EnvOrDefault("INSTANCE_REGISTRY_TABLE", "graph-instances"),
		AWSRegion:              EnvOrDefault("AWS_REGION", "us-east-1"),

		PostgresDSN: EnvOrDefault("GRAPHPLANE_POSTGRES_DSN", ""),

		RedisCacheEnabled: EnvBool("GRAPH_REDIS_CACHE_ENABLED", true),
		RedisAddr:         EnvOrDefault("GRAPHPLANE_REDIS_ADDR", ""),
		RedisTTL:          EnvDuration("GRAPHPLANE_REDIS_TTL", 30*time.Second),

		Environment: EnvOrDefault("ENVIRONMENT", "dev"),

		GraphAPIURL:    EnvOrDefault("GRAPH_API_URL", ""),
		GraphAPIKey:    EnvOrDefault("GRAPH_API_KEY", ""),
		ConnectTimeout: EnvDuration("GRAPH_CONNECT_TIMEOUT", 5*time.Second),
		ReadTimeout:    EnvDuration("GRAPH_READ_TIMEOUT", 30*time.Second),
		MaxRetries:     EnvInt("GRAPHPLANE_BACKEND_MAX_RETRIES", 3),

		ReplicaALBURL:           EnvOrDefault("GRAPH_REPLICA_ALB_URL", ""),
		SharedReplicaALBEnabled: EnvBool("SHARED_REPLICA_ALB_ENABLED", false),
		AllowSharedMasterReads:  EnvBool("ALLOW_SHARED_MASTER_READS", false),

		CircuitBreakerThreshold: uint32(EnvInt("GRAPH_CIRCUIT_BREAKER_THRESHOLD", 5)),
		CircuitBreakerTimeout:   EnvDuration("GRAPH_CIRCUIT_BREAKER_TIMEOUT", 60*time.Second),

		InstanceCacheTTL:  EnvDuration("GRAPH_INSTANCE_CACHE_TTL", 60*time.Second),
		ALBHealthCacheTTL: EnvDuration("GRAPH_ALB_HEALTH_CACHE_TTL", 30*time.Second),

		RetryLogicEnabled:      EnvBool("GRAPH_RETRY_LOGIC_ENABLED", true),
		HealthChecksEnabled:    EnvBool("GRAPH_HEALTH_CHECKS_ENABLED", true),
		CircuitBreakersEnabled: EnvBool("GRAPH_CIRCUIT_BREAKERS_ENABLED", true),

		SubgraphCreationEnabled: EnvBool("SUBGRAPH_CREATION_ENABLED", true),

		GraphRegistryTable:    EnvOrDefault("GRAPH_REGISTRY_TABLE", "graph-databases"),
		InstanceRegistryTable: EnvOrDefault("INSTANCE_REGISTRY_TABLE", "graph-instances"),

		DefaultMaxDatabasesPerInstance: EnvInt("GRAPHPLANE_MAX_DATABASES_PER_INSTANCE", 10),
		AllocationLockTTL:              EnvDuration("GRAPHPLANE_ALLOCATION_LOCK_TTL", 60*time.Second),

		AutoscaleSignalInterval: EnvDuration("GRAPHPLANE_AUTOSCALE_SIGNAL_INTERVAL", 5*time.Minute),

		OpsListenAddr: EnvOrDefault("GRAPHPLANE_OPS_LISTEN_ADDR", ":9090"),

		LogLevel:  EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: EnvOrDefault("LOG_FORMAT", "json"),
	}
}
