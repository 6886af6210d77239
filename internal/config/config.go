package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration passed to the manager at
// construction. All components consume it; nothing mutates it at runtime.
type Config struct {
	InstanceID  string            `yaml:"instance_id"`
	Server      ServerConfig      `yaml:"server"`
	State       StateConfig       `yaml:"state"`
	Backends    []BackendConfig   `yaml:"backends"`
	Replication ReplicationConfig `yaml:"replication"`
	Health      HealthConfig      `yaml:"health"`
	Cost        CostConfig        `yaml:"cost"`
	Alerting    AlertingConfig    `yaml:"alerting"`
}

type ServerConfig struct {
	Port          int     `yaml:"port"`
	LogLevel      string  `yaml:"log_level"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

type StateConfig struct {
	Driver   string         `yaml:"driver"` // "file" or "postgres"
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

type BackendConfig struct {
	ID          string            `yaml:"id"`
	Type        string            `yaml:"type"` // "local" or "s3"
	Role        string            `yaml:"role"` // primary, secondary, tertiary
	Region      string            `yaml:"region"`
	LocationRef string            `yaml:"location_ref"`
	StorageTier string            `yaml:"storage_tier"`
	Options     map[string]string `yaml:"options"`
}

type ReplicationConfig struct {
	MinRedundancy int           `yaml:"min_redundancy"`
	MaxBackends   int           `yaml:"max_backends"`
	TargetCount   int           `yaml:"target_count"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

type HealthConfig struct {
	ProbeInterval     time.Duration `yaml:"probe_interval"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	AutomaticFailover *bool         `yaml:"automatic_failover"`
}

type CostConfig struct {
	BudgetUSD           float64            `yaml:"budget_usd"`
	Interval            time.Duration      `yaml:"interval"`
	TierRatesPerGB      map[string]float64 `yaml:"tier_rates_per_gb"`
	ColdTierThresholdGB float64            `yaml:"cold_tier_threshold_gb"`
}

type AlertingConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Load reads config from a YAML file, applies defaults, then env overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	LoadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued settings.
func (c *Config) ApplyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = 20
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 40
	}
	if c.State.Driver == "" {
		c.State.Driver = "file"
	}
	if c.State.Path == "" {
		c.State.Path = "backupd-state.json"
	}
	if c.Replication.MinRedundancy == 0 {
		c.Replication.MinRedundancy = 2
	}
	if c.Replication.MaxBackends == 0 {
		c.Replication.MaxBackends = len(c.Backends)
	}
	if c.Replication.TargetCount == 0 {
		c.Replication.TargetCount = c.Replication.MinRedundancy
	}
	if c.Replication.UploadTimeout == 0 {
		c.Replication.UploadTimeout = 15 * time.Minute
	}
	if c.Health.ProbeInterval == 0 {
		c.Health.ProbeInterval = 60 * time.Second
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 3
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = 10 * time.Second
	}
	if c.Health.AutomaticFailover == nil {
		enabled := true
		c.Health.AutomaticFailover = &enabled
	}
	if c.Cost.Interval == 0 {
		c.Cost.Interval = 24 * time.Hour
	}
	if c.Cost.TierRatesPerGB == nil {
		c.Cost.TierRatesPerGB = map[string]float64{
			"hot":     0.023,
			"warm":    0.0125,
			"cold":    0.004,
			"archive": 0.00099,
		}
	}
	if c.Cost.ColdTierThresholdGB == 0 {
		c.Cost.ColdTierThresholdGB = 100
	}
	if c.Alerting.Timeout == 0 {
		c.Alerting.Timeout = 10 * time.Second
	}
}

// Validate rejects configurations the manager cannot run with.
func (c *Config) Validate() error {
	if len(c.Backends) < 2 {
		return fmt.Errorf("config: at least 2 backends required, got %d", len(c.Backends))
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("config: backend id is required")
		}
		if seen[b.ID] {
			return fmt.Errorf("config: duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
		switch b.Type {
		case "local", "s3":
		default:
			return fmt.Errorf("config: backend %s: unknown type %q", b.ID, b.Type)
		}
	}
	if c.Replication.MinRedundancy > len(c.Backends) {
		return fmt.Errorf("config: min_redundancy %d exceeds backend count %d",
			c.Replication.MinRedundancy, len(c.Backends))
	}
	return nil
}

// AutomaticFailover reports whether unattended promotion is enabled.
func (c *Config) AutomaticFailover() bool {
	return c.Health.AutomaticFailover == nil || *c.Health.AutomaticFailover
}
