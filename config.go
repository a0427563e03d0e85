package abac

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration for the engine, the audit
// pipeline and the document store backend.
type Config struct {
	PolicyDir string            `json:"policy_dir" yaml:"policy_dir"`
	Combining CombiningStrategy `json:"combining,omitempty" yaml:"combining,omitempty"`
	Audit     AuditConfig       `json:"audit" yaml:"audit"`
	Cache     CacheConfig       `json:"cache" yaml:"cache"`
	Store     StoreConfig       `json:"store" yaml:"store"`
}

type AuditConfig struct {
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

type CacheConfig struct {
	NumCounters int64 `json:"num_counters" yaml:"num_counters"`
	MaxCost     int64 `json:"max_cost" yaml:"max_cost"`
	BufferItems int64 `json:"buffer_items" yaml:"buffer_items"`
	TTLMillis   int64 `json:"ttl_ms" yaml:"ttl_ms"`
}

type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"` // memory | sqlite | redis
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

// LoadFile picks the format from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

func (c *Config) validate() error {
	if c.Combining != "" && c.Combining != DenyOverrides && c.Combining != PriorityOverride {
		return fmt.Errorf("unknown combining strategy %q", c.Combining)
	}
	switch c.Store.Backend {
	case "", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// EngineOptions translates the config into engine options.
func (c *Config) EngineOptions() []EngineOption {
	var opts []EngineOption
	if c.Combining != "" {
		opts = append(opts, WithCombining(c.Combining))
	}
	if c.Cache.NumCounters != 0 {
		opts = append(opts, WithDecisionCache(c.Cache.NumCounters, c.Cache.MaxCost, c.Cache.BufferItems))
	}
	if c.Cache.TTLMillis > 0 {
		opts = append(opts, WithCacheTTL(time.Duration(c.Cache.TTLMillis)*time.Millisecond))
	}
	return opts
}
