// Package tier loads and caches the per-environment tier catalog: the
// declarative manifest of writer tiers, their instance configuration, and
// their subgraph/quota limits.
package tier

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/robosystems/graphplane/internal/errors"
)

// Name is a tagged-variant tier identifier. Known tiers get their own
// constant; an unrecognized manifest entry is still representable via
// Name(raw) so the catalog never has to reject a tier it doesn't
// recognize by name — only Defaults() has to know how to fall back.
type Name string

const (
	// Standard is the baseline tier. It is the only tier the allocation
	// manager is allowed to autoscale on capacity exhaustion.
	Standard Name = "standard"
	// Enterprise is a dedicated tier: capacity exhaustion requires manual
	// provisioning, never autoscaling.
	Enterprise Name = "enterprise"
	// Premium is a dedicated tier, same autoscale restriction as Enterprise.
	Premium Name = "premium"
)

// IsDedicated reports whether a tier requires manual provisioning on
// capacity exhaustion rather than autoscaling. Only Standard autoscales.
func (n Name) IsDedicated() bool {
	return n != Standard
}

// CopyOperationLimits bounds the columnar staging plane's copy/ingest
// operations for a tier.
type CopyOperationLimits struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	MaxRowsPerCopy int `yaml:"max_rows_per_copy"`
}

// BackupLimits bounds backup/restore operations for a tier.
type BackupLimits struct {
	MaxConcurrent   int `yaml:"max_concurrent"`
	RetentionDays   int `yaml:"retention_days"`
	MaxSizeGB       int `yaml:"max_size_gb"`
}

// Config is a single tier's full configuration, as loaded from the
// manifest, with documented defaults substituted for any absent field.
type Config struct {
	TierName              Name                 `yaml:"tier_name"`
	BackendType           string               `yaml:"backend_type"`
	MaxSubgraphs          *int                 `yaml:"max_subgraphs"`
	DatabasesPerInstance  int                  `yaml:"databases_per_instance"`
	MemoryPerDBMB         int                  `yaml:"memory_per_db_mb"`
	MaxMemoryMB           int                  `yaml:"max_memory_mb"`
	ChunkSize             int                  `yaml:"chunk_size"`
	QueryTimeoutSeconds   int                  `yaml:"query_timeout_seconds"`
	CopyOperationLimits   CopyOperationLimits  `yaml:"copy_operation_limits"`
	BackupLimits          BackupLimits         `yaml:"backup_limits"`
	APIRateMultiplier     float64              `yaml:"api_rate_multiplier"`
	Disabled              bool                 `yaml:"disabled"`
}

// MaxSubgraphsOrDefault returns the tier's subgraph limit, falling back to
// Defaults() when the manifest left the field unset.
func (c Config) MaxSubgraphsOrDefault() int {
	if c.MaxSubgraphs != nil {
		return *c.MaxSubgraphs
	}
	return Defaults().MaxSubgraphs
}

// Defaults returns the fallback values used when a manifest entry omits a
// field, carried over from the original tier configuration's documented
// defaults.
func Defaults() Config {
	defaultMaxSubgraphs := 10
	return Config{
		TierName:             Standard,
		BackendType:          "default",
		MaxSubgraphs:         &defaultMaxSubgraphs,
		DatabasesPerInstance: 10,
		MemoryPerDBMB:        512,
		MaxMemoryMB:          8192,
		ChunkSize:            10000,
		QueryTimeoutSeconds:  30,
		CopyOperationLimits: CopyOperationLimits{
			MaxConcurrent:  2,
			MaxRowsPerCopy: 1_000_000,
		},
		BackupLimits: BackupLimits{
			MaxConcurrent: 1,
			RetentionDays: 30,
			MaxSizeGB:     100,
		},
		APIRateMultiplier: 1.0,
	}
}

// manifest is the on-disk shape of graph.yml: a per-environment list of
// tier entries.
type manifest struct {
	Environments map[string][]Config `yaml:"environments"`
}

// Catalog holds the loaded, cached tier configuration for one environment.
// Loading is single-writer on first use and read-mostly afterward, per the
// copy-on-write caching discipline used throughout the control plane.
type Catalog struct {
	mu          sync.RWMutex
	environment string
	path        string
	tiers       map[Name]Config
	loaded      bool
}

// New creates a Catalog that will load manifest entries for environment
// from the YAML file at path on first use.
func New(environment, path string) *Catalog {
	return &Catalog{environment: environment, path: path}
}

// candidatePaths returns the container path first, then a development
// fallback, mirroring the manifest discovery rule in spec.md §6.
func candidatePaths(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	return []string{
		"/etc/graphplane/graph.yml",
		"config/graph.yml",
	}
}

func (c *Catalog) ensureLoaded() error {
	c.mu.RLock()
	if c.loaded {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	var data []byte
	var err error
	var readErr error
	for _, p := range candidatePaths(c.path) {
		data, readErr = os.ReadFile(p)
		if readErr == nil {
			break
		}
		err = readErr
	}
	if data == nil {
		return errors.Wrap(errors.CodeConfiguration, err, "could not locate tier manifest")
	}

	var m manifest
	if unmarshalErr := yaml.Unmarshal(data, &m); unmarshalErr != nil {
		return errors.Wrap(errors.CodeConfiguration, unmarshalErr, "could not parse tier manifest")
	}

	entries, ok := m.Environments[c.environment]
	if !ok {
		return errors.New(errors.CodeConfiguration, "tier manifest has no entries for environment %q", c.environment)
	}

	tiers := make(map[Name]Config, len(entries))
	for _, entry := range entries {
		tiers[entry.TierName] = entry
	}

	c.tiers = tiers
	c.loaded = true
	return nil
}

// Get returns the tier configuration for name, merged with documented
// defaults for any field the manifest left unset, or an error if the tier
// is unknown.
func (c *Catalog) Get(name Name) (Config, error) {
	if err := c.ensureLoaded(); err != nil {
		return Config{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg, ok := c.tiers[name]
	if !ok {
		return Config{}, errors.New(errors.CodeClient, "unknown tier %q", name)
	}
	return withDefaults(cfg), nil
}

func withDefaults(cfg Config) Config {
	d := Defaults()
	if cfg.DatabasesPerInstance == 0 {
		cfg.DatabasesPerInstance = d.DatabasesPerInstance
	}
	if cfg.MemoryPerDBMB == 0 {
		cfg.MemoryPerDBMB = d.MemoryPerDBMB
	}
	if cfg.MaxMemoryMB == 0 {
		cfg.MaxMemoryMB = d.MaxMemoryMB
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = d.ChunkSize
	}
	if cfg.QueryTimeoutSeconds == 0 {
		cfg.QueryTimeoutSeconds = d.QueryTimeoutSeconds
	}
	if cfg.CopyOperationLimits.MaxConcurrent == 0 {
		cfg.CopyOperationLimits = d.CopyOperationLimits
	}
	if cfg.BackupLimits.MaxConcurrent == 0 {
		cfg.BackupLimits = d.BackupLimits
	}
	if cfg.APIRateMultiplier == 0 {
		cfg.APIRateMultiplier = d.APIRateMultiplier
	}
	if cfg.MaxSubgraphs == nil {
		cfg.MaxSubgraphs = d.MaxSubgraphs
	}
	return cfg
}

// AvailableTiers returns every non-disabled tier in the catalog, unless
// includeDisabled is true.
func (c *Catalog) AvailableTiers(includeDisabled bool) ([]Config, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Config, 0, len(c.tiers))
	for _, cfg := range c.tiers {
		if cfg.Disabled && !includeDisabled {
			continue
		}
		out = append(out, withDefaults(cfg))
	}
	return out, nil
}

// ClearCache drops the loaded manifest so the next Get or AvailableTiers
// call re-reads it from disk. Exists for tests.
func (c *Catalog) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.tiers = nil
}

// String renders a tier Name for logging and error messages.
func (n Name) String() string {
	return string(n)
}

var _ fmt.Stringer = Standard
