package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"

	"github.com/tunecache/tunecache/pkg/errors"
)

// Size is a byte count that accepts human-readable values ("100MB", "1.5GiB")
// in yaml and environment variables.
type Size int64

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (s *Size) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", string(text), err)
	}
	*s = Size(n)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		// Plain integers are accepted as byte counts
		var n int64
		if err2 := unmarshal(&n); err2 != nil {
			return err
		}
		*s = Size(n)
		return nil
	}
	return s.UnmarshalText([]byte(raw))
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	return humanize.Bytes(uint64(s)), nil
}

// String returns a human-readable representation.
func (s Size) String() string {
	return humanize.Bytes(uint64(s))
}

// Weights are the per-source base priority weights used by candidate ranking.
type Weights struct {
	Next     float64 `yaml:"next" env:"TUNECACHE_WEIGHT_NEXT"`
	Previous float64 `yaml:"previous" env:"TUNECACHE_WEIGHT_PREVIOUS"`
	Related  float64 `yaml:"related" env:"TUNECACHE_WEIGHT_RELATED"`
	Popular  float64 `yaml:"popular" env:"TUNECACHE_WEIGHT_POPULAR"`
	Recent   float64 `yaml:"recent" env:"TUNECACHE_WEIGHT_RECENT"`
}

// Config represents the complete preloader configuration
type Config struct {
	// Scheduling settings
	MaxConcurrentPreloads int           `yaml:"max_concurrent_preloads" env:"TUNECACHE_MAX_CONCURRENT_PRELOADS"`
	FetchTimeout          time.Duration `yaml:"fetch_timeout" env:"TUNECACHE_FETCH_TIMEOUT"`

	// Cache settings
	MaxCacheSize     Size          `yaml:"max_cache_size" env:"TUNECACHE_MAX_CACHE_SIZE"`
	CleanupThreshold Size          `yaml:"cleanup_threshold" env:"TUNECACHE_CLEANUP_THRESHOLD"`
	MaxCacheAge      time.Duration `yaml:"max_cache_age" env:"TUNECACHE_MAX_CACHE_AGE"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env:"TUNECACHE_SWEEP_INTERVAL"`

	// Candidate settings
	NextSongsCount    int     `yaml:"next_songs_count" env:"TUNECACHE_NEXT_SONGS_COUNT"`
	PrevSongsCount    int     `yaml:"prev_songs_count" env:"TUNECACHE_PREV_SONGS_COUNT"`
	RelatedSongsCount int     `yaml:"related_songs_count" env:"TUNECACHE_RELATED_SONGS_COUNT"`
	PriorityWeights   Weights `yaml:"priority_weights"`

	// Network policy settings
	EnableOnCellular     bool `yaml:"enable_on_cellular" env:"TUNECACHE_ENABLE_ON_CELLULAR"`
	WifiOnlyPreload      bool `yaml:"wifi_only_preload" env:"TUNECACHE_WIFI_ONLY_PRELOAD"`
	CellularQualityLimit Size `yaml:"cellular_quality_limit" env:"TUNECACHE_CELLULAR_QUALITY_LIMIT"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		MaxConcurrentPreloads: 3,
		FetchTimeout:          30 * time.Second,
		MaxCacheSize:          100 * 1024 * 1024, // 100MB
		CleanupThreshold:      80 * 1024 * 1024,  // 80MB
		MaxCacheAge:           30 * time.Minute,
		SweepInterval:         5 * time.Minute,
		NextSongsCount:        3,
		PrevSongsCount:        2,
		RelatedSongsCount:     3,
		PriorityWeights: Weights{
			Next:     1.0,
			Previous: 0.5,
			Related:  0.6,
			Popular:  0.4,
			Recent:   0.3,
		},
		EnableOnCellular:     false,
		WifiOnlyPreload:      false,
		CellularQualityLimit: 0, // no per-song size cap on cellular
	}
}

// Load reads a yaml configuration file on top of the defaults and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.NewError(errors.ErrCodeConfigLoad,
					fmt.Sprintf("failed to parse config file %s", path)).WithCause(err)
			}
		case os.IsNotExist(err):
			// Missing file is fine, the defaults apply.
		default:
			return nil, errors.NewError(errors.ErrCodeConfigLoad,
				fmt.Sprintf("failed to read config file %s", path)).WithCause(err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigLoad,
			"failed to apply environment overrides").WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.MaxConcurrentPreloads < 1 {
		return validationError("max_concurrent_preloads must be at least 1")
	}
	if c.MaxCacheSize <= 0 {
		return validationError("max_cache_size must be positive")
	}
	if c.CleanupThreshold <= 0 || c.CleanupThreshold >= c.MaxCacheSize {
		return validationError("cleanup_threshold must be positive and strictly below max_cache_size")
	}
	if c.MaxCacheAge <= 0 {
		return validationError("max_cache_age must be positive")
	}
	if c.SweepInterval <= 0 {
		return validationError("sweep_interval must be positive")
	}
	if c.FetchTimeout < 0 {
		return validationError("fetch_timeout must not be negative")
	}
	if c.NextSongsCount < 0 || c.PrevSongsCount < 0 || c.RelatedSongsCount < 0 {
		return validationError("song counts must not be negative")
	}
	for name, w := range map[string]float64{
		"next":     c.PriorityWeights.Next,
		"previous": c.PriorityWeights.Previous,
		"related":  c.PriorityWeights.Related,
		"popular":  c.PriorityWeights.Popular,
		"recent":   c.PriorityWeights.Recent,
	} {
		if w < 0 {
			return validationError(fmt.Sprintf("priority_weights.%s must not be negative", name))
		}
	}
	return nil
}

func validationError(msg string) error {
	return errors.NewError(errors.ErrCodeConfigValidation, msg).WithComponent("config")
}

// Manager holds the live configuration and serializes runtime updates.
// Strategy runs take a Snapshot so a single invocation always sees a
// consistent view even while updates land concurrently.
type Manager struct {
	mu  sync.RWMutex
	cfg Config
}

// NewManager creates a configuration manager. A nil cfg uses the defaults.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: *cfg}, nil
}

// Snapshot returns a copy of the current configuration.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update applies a partial mutation to the configuration. The mutation is
// validated before it becomes visible; on validation failure the previous
// configuration stays in effect.
func (m *Manager) Update(mutate func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	m.cfg = next
	return nil
}
