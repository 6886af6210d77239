package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
instance_id: prod-eu
server:
  port: 9090
  log_level: debug
state:
  driver: file
  path: /var/lib/backupd/state.json
backends:
  - id: aws-primary
    type: s3
    role: primary
    region: us-east-1
    location_ref: backups-primary
    storage_tier: hot
  - id: wasabi-secondary
    type: s3
    role: secondary
    region: eu-west-1
    location_ref: backups-secondary
    storage_tier: warm
  - id: b2-tertiary
    type: local
    role: tertiary
    location_ref: backups-tertiary
    storage_tier: cold
    options:
      base_path: /mnt/b2
replication:
  min_redundancy: 2
  upload_timeout: 10m
health:
  probe_interval: 30s
  failure_threshold: 2
  automatic_failover: false
cost:
  budget_usd: 50
alerting:
  webhook_url: https://hooks.example.com/backups
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backupd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "prod-eu", cfg.InstanceID)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	require.Len(t, cfg.Backends, 3)
	assert.Equal(t, "s3", cfg.Backends[0].Type)
	assert.Equal(t, "/mnt/b2", cfg.Backends[2].Options["base_path"])
	assert.Equal(t, 10*time.Minute, cfg.Replication.UploadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Health.ProbeInterval)
	assert.Equal(t, 2, cfg.Health.FailureThreshold)
	assert.False(t, cfg.AutomaticFailover())
	assert.Equal(t, 50.0, cfg.Cost.BudgetUSD)
	assert.Equal(t, "https://hooks.example.com/backups", cfg.Alerting.WebhookURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/no/such/config.yaml")
	require.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{
		Backends: []BackendConfig{
			{ID: "a", Type: "local"},
			{ID: "b", Type: "local"},
			{ID: "c", Type: "local"},
		},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "file", cfg.State.Driver)
	assert.Equal(t, 2, cfg.Replication.MinRedundancy)
	assert.Equal(t, 3, cfg.Replication.MaxBackends)
	assert.Equal(t, 2, cfg.Replication.TargetCount)
	assert.Equal(t, 15*time.Minute, cfg.Replication.UploadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Health.ProbeInterval)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
	assert.True(t, cfg.AutomaticFailover())
	assert.Equal(t, 24*time.Hour, cfg.Cost.Interval)
	assert.InDelta(t, 0.023, cfg.Cost.TierRatesPerGB["hot"], 0.0001)
	assert.InDelta(t, 0.00099, cfg.Cost.TierRatesPerGB["archive"], 0.00001)
	assert.Equal(t, 100.0, cfg.Cost.ColdTierThresholdGB)
}

func TestValidate(t *testing.T) {
	valid := []BackendConfig{
		{ID: "a", Type: "local"},
		{ID: "b", Type: "s3"},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"single backend", func(c *Config) {
			c.Backends = c.Backends[:1]
		}, "at least 2 backends"},
		{"no backends", func(c *Config) {
			c.Backends = nil
		}, "at least 2 backends"},
		{"missing id", func(c *Config) {
			c.Backends[0].ID = ""
		}, "backend id is required"},
		{"duplicate id", func(c *Config) {
			c.Backends[1].ID = "a"
		}, "duplicate backend id"},
		{"unknown type", func(c *Config) {
			c.Backends[0].Type = "ftp"
		}, "unknown type"},
		{"redundancy exceeds backends", func(c *Config) {
			c.Replication.MinRedundancy = 5
		}, "min_redundancy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Replication: ReplicationConfig{MinRedundancy: 2}}
			cfg.Backends = append([]BackendConfig(nil), valid...)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BACKUPD_PORT", "7070")
	t.Setenv("BACKUPD_LOG_LEVEL", "warn")
	t.Setenv("BACKUPD_STATE_PATH", "/tmp/override.json")
	t.Setenv("BACKUPD_ALERT_WEBHOOK", "https://hooks.example.com/override")
	t.Setenv("BACKUPD_BUDGET_USD", "75.5")
	t.Setenv("BACKUPD_POSTGRES_PASSWORD", "secret")

	cfg := &Config{}
	cfg.ApplyDefaults()
	LoadFromEnv(cfg)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, "/tmp/override.json", cfg.State.Path)
	assert.Equal(t, "https://hooks.example.com/override", cfg.Alerting.WebhookURL)
	assert.Equal(t, 75.5, cfg.Cost.BudgetUSD)
	assert.Equal(t, "secret", cfg.State.Postgres.Password)
}

func TestLoadFromEnv_IgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("BACKUPD_PORT", "not-a-port")

	cfg := &Config{}
	cfg.ApplyDefaults()
	LoadFromEnv(cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
}
