package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost", cfg.Network.Host)
	assert.Equal(t, 2*time.Second, cfg.Network.DialTimeout)
	assert.Equal(t, time.Second, cfg.Network.ReadTimeout)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, 6000, cfg.Coordinator.Port)
	assert.Equal(t, 5999, cfg.Coordinator.MonitorPort)
	require.NotNil(t, cfg.Coordinator.MsgNum)
	assert.Equal(t, 1000, *cfg.Coordinator.MsgNum)
	assert.Equal(t, time.Second, cfg.Coordinator.GracePeriod)

	assert.Equal(t, 6001, cfg.Worker.Port)
	assert.Equal(t, 6000, cfg.Worker.ProducerPort)
	assert.Equal(t, 10*time.Second, cfg.Worker.MeanTime)
	assert.Equal(t, time.Second, cfg.Worker.Spread)
	require.NotNil(t, cfg.Worker.FailureRate)
	assert.InDelta(t, 0.2, *cfg.Worker.FailureRate, 1e-9)

	assert.Equal(t, 5999, cfg.Observer.Port)
	assert.Equal(t, 6000, cfg.Observer.ProducerPort)
	assert.Equal(t, 15*time.Second, cfg.Observer.Interval)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
network:
  host: 127.0.0.1
coordinator:
  port: 7000
  msg_num: 5
  grace_period: 250ms
worker:
  mean_time: 3s
  failure_rate: 0
observer:
  interval: 2s
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Network.Host)
	assert.Equal(t, 7000, cfg.Coordinator.Port)
	assert.Equal(t, 5, cfg.CoordinatorConfig().Items)
	assert.Equal(t, 250*time.Millisecond, cfg.Coordinator.GracePeriod)
	assert.Equal(t, 3*time.Second, cfg.Worker.MeanTime)
	assert.Equal(t, 2*time.Second, cfg.Observer.Interval)

	// An explicit zero failure rate survives defaulting.
	require.NotNil(t, cfg.Worker.FailureRate)
	assert.Zero(t, *cfg.Worker.FailureRate)
	assert.Zero(t, cfg.WorkerConfig().FailureRate)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "coordinator:\n  port: 7000\n")
	cfg, err := load(path, env(map[string]string{
		"SMS_COORDINATOR_PORT":     "7100",
		"SMS_WORKER_FAILURE_RATE":  "0.5",
		"SMS_OBSERVER_INTERVAL":    "100ms",
		"SMS_LOG_DEV":              "true",
		"SMS_WORKER_SEED":          "42",
		"SMS_COORDINATOR_MSG_NUM":  "3",
		"SMS_WORKER_PRODUCER_PORT": "7100",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.Coordinator.Port)
	assert.Equal(t, 3, cfg.CoordinatorConfig().Items)
	assert.InDelta(t, 0.5, *cfg.Worker.FailureRate, 1e-9)
	assert.Equal(t, 100*time.Millisecond, cfg.Observer.Interval)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, uint64(42), cfg.Worker.Seed)
	assert.Equal(t, 7100, cfg.WorkerConfig().CoordinatorPort)
}

// TestExplicitZeroItemsSurvives checks that msg_num 0 from the file or the
// environment is kept rather than replaced by the default.
func TestExplicitZeroItemsSurvives(t *testing.T) {
	fromFile, err := load(writeFile(t, "coordinator:\n  msg_num: 0\n"), env(nil))
	require.NoError(t, err)
	require.NoError(t, fromFile.Validate())
	assert.Zero(t, fromFile.CoordinatorConfig().Items)

	fromEnv, err := load("", env(map[string]string{"SMS_COORDINATOR_MSG_NUM": "0"}))
	require.NoError(t, err)
	assert.Zero(t, fromEnv.CoordinatorConfig().Items)

	overridden, err := load(writeFile(t, "coordinator:\n  msg_num: 0\n"), env(map[string]string{"SMS_COORDINATOR_MSG_NUM": "4"}))
	require.NoError(t, err)
	assert.Equal(t, 4, overridden.CoordinatorConfig().Items)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), env(nil))
		assert.ErrorContains(t, err, "read config file")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := load(writeFile(t, "coordinator: [1, 2"), env(nil))
		assert.ErrorContains(t, err, "parse config file")
	})

	t.Run("bad env values are all reported", func(t *testing.T) {
		_, err := load("", env(map[string]string{
			"SMS_COORDINATOR_PORT":  "sixty",
			"SMS_OBSERVER_INTERVAL": "soon",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SMS_COORDINATOR_PORT")
		assert.Contains(t, err.Error(), "SMS_OBSERVER_INTERVAL")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port too large", func(c *Config) { c.Coordinator.Port = 70000 }, "coordinator.port"},
		{"negative port", func(c *Config) { c.Worker.Port = -1 }, "worker.port"},
		{"negative items", func(c *Config) { c.Coordinator.SetMsgNum(-1) }, "coordinator.msg_num"},
		{"failure rate above one", func(c *Config) { c.Worker.SetFailureRate(1.5) }, "worker.failure_rate"},
		{"negative mean", func(c *Config) { c.Worker.MeanTime = -time.Second }, "worker.mean_time"},
		{"no register attempts", func(c *Config) { c.Worker.RegisterAttempts = 0 }, "worker.register_attempts"},
		{"zero interval", func(c *Config) { c.Observer.Interval = 0 }, "observer.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load("", env(nil))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestRoleConfigs(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)

	cc := cfg.CoordinatorConfig()
	assert.Equal(t, 6000, cc.Port)
	assert.Equal(t, 5999, cc.ObserverPort)
	assert.Equal(t, 1000, cc.Items)

	oc := cfg.ObserverConfig()
	assert.Equal(t, 5999, oc.Port)
	assert.Equal(t, 6000, oc.CoordinatorPort)

	client := cfg.Client()
	assert.Equal(t, "localhost", client.Host)
	assert.Equal(t, 2*time.Second, client.DialTimeout)
}
