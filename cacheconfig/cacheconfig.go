// Package cacheconfig loads and validates the entity cache's configuration:
// the global enable switch, the Redis backend options, and per-subgraph
// TTL/enable/private_id overrides. Configuration is loaded via
// viper.Unmarshal into a mapstructure-tagged struct, with struct-tag
// validation via go-playground/validator.
package cacheconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RedisConfig mirrors the "redis" configuration block. reset_ttl is
// deliberately not a field here: TTL is always managed by this subsystem,
// never reset on access.
type RedisConfig struct {
	URLs            []string      `mapstructure:"urls" validate:"dive,required"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	PoolSize        int           `mapstructure:"pool_size" validate:"gte=0"`
	RequiredToStart bool          `mapstructure:"required_to_start"`
	TTL             time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// SubgraphConfig mirrors a "subgraph.all" or "subgraph.<name>" block.
// Enabled is a pointer so "unset" (inherit from the global switch) is
// distinguishable from an explicit false override.
type SubgraphConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	Enabled   *bool         `mapstructure:"enabled"`
	PrivateID string        `mapstructure:"private_id"`
}

// MetricsConfig mirrors the "metrics" block.
type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	TTL             time.Duration `mapstructure:"ttl"`
	SeparatePerType bool          `mapstructure:"separate_per_type"`
}

// Config is the full entity cache configuration.
type Config struct {
	Enabled   bool                      `mapstructure:"enabled"`
	Redis     RedisConfig               `mapstructure:"redis"`
	All       SubgraphConfig            `mapstructure:"subgraph_all"`
	Subgraphs map[string]SubgraphConfig `mapstructure:"subgraph"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
}

// Load reads configuration from a file named "entity-cache" (parsed as
// YAML) in the given search paths, overlaid with ENTITY_CACHE_*
// environment variables, validates it, and returns it.
func Load(searchPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("entity-cache")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("entity_cache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("cacheconfig: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cacheconfig: unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled", false)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.required_to_start", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.separate_per_type", false)
}

// Validate enforces that every subgraph resolves to a TTL, explicit or
// global, or initialization fails.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("cacheconfig: %w", err)
	}
	if !cfg.Enabled {
		return nil
	}

	if len(cfg.Redis.URLs) == 0 {
		return fmt.Errorf("cacheconfig: redis.urls must be set when enabled")
	}

	for name, sub := range cfg.Subgraphs {
		if _, ok := ResolveTTL(cfg, sub); !ok {
			return fmt.Errorf("cacheconfig: subgraph %q has no resolvable TTL (set subgraph.%s.ttl or subgraph_all.ttl)", name, name)
		}
	}
	return nil
}

// ResolveTTL returns the effective TTL for a subgraph: its own override if
// set, else the global subgraph_all TTL, else ok=false.
func ResolveTTL(cfg *Config, sub SubgraphConfig) (time.Duration, bool) {
	if sub.TTL > 0 {
		return sub.TTL, true
	}
	if cfg.All.TTL > 0 {
		return cfg.All.TTL, true
	}
	return 0, false
}

// ResolveEnabled returns whether caching is active for a subgraph: its own
// override if set, else the global enabled switch.
func ResolveEnabled(cfg *Config, sub SubgraphConfig) bool {
	if sub.Enabled != nil {
		return *sub.Enabled
	}
	return cfg.Enabled
}
