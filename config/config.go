// Package config loads the committee node's static configuration (spec
// §6), grounded on original_source/committee_config.py's CommitteeConfig
// dataclass and expressed as a YAML-decoded struct in the manner of the
// rest of the pack's config_base.go-style configs.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/starkware-libs/starkex-data-availability-committee/batch"
	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
)

// Defaults mirror committee_config.py's DEFAULT_* constants.
const (
	DefaultPollingIntervalSeconds = 1.0
	DefaultFactStorageCacheSize   = 65536
	DefaultHTTPRequestTimeout     = 300
	DefaultPrivateKeyPath         = "/private_key.txt"
)

// StorageConfig selects and parameterizes the KV adapter (spec §6's
// "storage sub-config (adapter-specific)"). Only the Redis shape is
// populated today; Kind "memory" ignores Redis fields and is meant for
// local development, never production (SPEC_FULL.md §5.1).
type StorageConfig struct {
	Kind string `yaml:"kind"` // "redis" or "memory"

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// Config is the committee node's full static configuration, decoded from a
// single YAML file (spec §6).
type Config struct {
	AvailabilityGatewayEndpoint string `yaml:"availability_gateway_endpoint"`
	CertificatesPath            string `yaml:"certificates_path"`
	PrivateKeyPath              string `yaml:"private_key_path"`

	PollingIntervalSeconds float64 `yaml:"polling_interval_seconds"`

	Storage StorageConfig `yaml:"storage"`

	TreeHeight int           `yaml:"tree_height"`
	Profile    batch.Profile `yaml:"profile"`

	MaxDeltaSize int `yaml:"max_delta_size"`

	// HTTPRequestTimeoutSeconds bounds every individual gateway call,
	// grounded on committee_config.py's http_request_timeout.
	HTTPRequestTimeoutSeconds int `yaml:"http_request_timeout_seconds"`

	// FactStorageCacheSize sizes the node-fact LRU (facts.Cache), grounded
	// on committee_config.py's fact_storage_cache_size.
	FactStorageCacheSize int `yaml:"fact_storage_cache_size"`

	// ValidateOrders and ValidateRollup gate the applier's per-tree
	// declared-root verification (applier.Options), grounded on
	// committee_config.py's validate_orders / validate_rollup. ValidateRollup
	// is a pointer so "unset" (old API version, per the Python docstring) is
	// distinguishable from "explicitly false".
	ValidateOrders bool  `yaml:"validate_orders"`
	ValidateRollup *bool `yaml:"validate_rollup"`

	// ObsoleteOrderRootHex is the hex-encoded sentinel order_root value
	// that predates order-tree tracking on some deployments (spec §4.4
	// edge case; SPEC_FULL.md §5.4). Empty means no sentinel is configured.
	ObsoleteOrderRootHex string `yaml:"obsolete_order_root"`

	// MetricsNamespace prefixes every exported Prometheus metric name.
	MetricsNamespace string `yaml:"metrics_namespace"`

	// HealthAddr, if non-empty, binds an HTTP /healthz endpoint backed by
	// committee.Loop.Healthy, grounded on serverutil.Main's optional
	// HTTPEndpoint ("if empty it'll not be bound"). Empty disables it.
	HealthAddr string `yaml:"health_addr"`
}

// Load reads and decodes a YAML config file at path, then fills in
// defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "config: read %q: %v", path, err)
	}
	cfg := &Config{
		PollingIntervalSeconds: DefaultPollingIntervalSeconds,
		FactStorageCacheSize:   DefaultFactStorageCacheSize,
		HTTPRequestTimeoutSeconds: DefaultHTTPRequestTimeout,
		PrivateKeyPath:         DefaultPrivateKeyPath,
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "config: parse %q: %v", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate mirrors committee_config.py's __post_init__ / field validators,
// narrowed to the checks this node can act on without an external schema
// registry.
func (c *Config) validate() error {
	if c.AvailabilityGatewayEndpoint == "" {
		return dacerrors.Errorf(dacerrors.InvalidArgument, "config: availability_gateway_endpoint is required")
	}
	if c.PollingIntervalSeconds <= 0 {
		return dacerrors.Errorf(dacerrors.InvalidArgument, "config: polling_interval_seconds must be positive")
	}
	if c.TreeHeight <= 0 {
		return dacerrors.Errorf(dacerrors.InvalidArgument, "config: tree_height must be positive")
	}
	if c.Profile != batch.StarkEx && c.Profile != batch.Perpetual {
		return dacerrors.Errorf(dacerrors.InvalidArgument, "config: profile must be %q or %q, got %q", batch.StarkEx, batch.Perpetual, c.Profile)
	}
	if c.MaxDeltaSize <= 0 {
		return dacerrors.Errorf(dacerrors.InvalidArgument, "config: max_delta_size must be positive")
	}
	switch c.Storage.Kind {
	case "redis":
		if c.Storage.RedisAddr == "" {
			return dacerrors.Errorf(dacerrors.InvalidArgument, "config: storage.redis_addr is required for storage.kind=redis")
		}
	case "memory":
	default:
		return dacerrors.Errorf(dacerrors.InvalidArgument, "config: storage.kind must be %q or %q, got %q", "redis", "memory", c.Storage.Kind)
	}
	return nil
}

// PollingInterval returns PollingIntervalSeconds as a time.Duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds * float64(time.Second))
}

// HTTPRequestTimeout returns HTTPRequestTimeoutSeconds as a time.Duration.
func (c *Config) HTTPRequestTimeout() time.Duration {
	return time.Duration(c.HTTPRequestTimeoutSeconds) * time.Second
}
