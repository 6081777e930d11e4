package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "quantfleet:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 30*time.Second, cfg.Registry.InvokeTimeout)
	assert.Equal(t, 5, cfg.Registry.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Registry.Cooldown)
	assert.Equal(t, 50, cfg.Memory.ShortTermCapacity)
	assert.Equal(t, 0.7, cfg.Memory.PromotionThreshold)
	assert.Equal(t, "reporting", cfg.Workflow.ReporterService)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantfleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  enabled: true
  addr: redis.internal:6379
registry:
  invoke_timeout: 10s
  failure_threshold: 3
memory:
  short_term_capacity: 200
log:
  level: debug
  format: console
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Second, cfg.Registry.InvokeTimeout)
	assert.Equal(t, 3, cfg.Registry.FailureThreshold)
	assert.Equal(t, 200, cfg.Memory.ShortTermCapacity)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched sections keep their defaults
	assert.Equal(t, 0.7, cfg.Memory.PromotionThreshold)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantfleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: from-file:6379\n"), 0o600))

	t.Setenv("QUANTFLEET_REDIS_ADDR", "from-env:6379")
	t.Setenv("QUANTFLEET_REGISTRY_INVOKE_TIMEOUT", "7s")
	t.Setenv("QUANTFLEET_MEMORY_PROMOTION_THRESHOLD", "0.9")
	t.Setenv("QUANTFLEET_METRICS_ENABLED", "true")
	t.Setenv("QUANTFLEET_LOG_OUTPUT_PATHS", "stdout, /var/log/quantfleet.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env:6379", cfg.Redis.Addr)
	assert.Equal(t, 7*time.Second, cfg.Registry.InvokeTimeout)
	assert.Equal(t, 0.9, cfg.Memory.PromotionThreshold)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/quantfleet.log"}, cfg.Log.OutputPaths)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Memory.ShortTermCapacity)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("QUANTFLEET_REGISTRY_FAILURE_THRESHOLD", "0")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_threshold")
}

func TestLoad_CustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if !c.Redis.Enabled {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
}

func TestValidate_RedisAddrRequiredWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	require.Error(t, cfg.Validate())
}
