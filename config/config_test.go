package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louvredev/BetelChain/factory"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, factory.DefaultKind, cfg.Pricing.Policy.Kind)
	assert.True(t, cfg.Reconciliation.Enabled)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	// GIVEN: A file that only sets the port and the pricing policy
	// WHEN: It is loaded
	// THEN: Those fields change and everything else keeps its default
	path := filepath.Join(t.TempDir(), "betelchain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
pricing:
  timeout: 2s
  policy:
    kind: graded
    multipliers:
      A: 1.2
      B: 1.0
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Pricing.Timeout)
	assert.Equal(t, factory.KindGraded, cfg.Pricing.Policy.Kind)
	assert.Equal(t, 1.2, cfg.Pricing.Policy.Multipliers["A"])
	assert.Equal(t, "./data/betelchain.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [port"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "parsing config")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "betelchain.yaml")
	cfg := Default()
	cfg.Events.KafkaBrokers = []string{"kafka-1:9092", "kafka-2:9092"}
	cfg.Reconciliation.Schedule = "*/15 * * * *"

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"BETELCHAIN_PORT":            "9000",
		"BETELCHAIN_DB":              ":memory:",
		"BETELCHAIN_CORS_ORIGINS":    "https://gudang.example, ,https://admin.example",
		"BETELCHAIN_KAFKA_BROKERS":   "kafka:9092",
		"BETELCHAIN_PRICING_TIMEOUT": "750ms",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, []string{"https://gudang.example", "https://admin.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.Pricing.Timeout)
	assert.True(t, cfg.Reconciliation.Enabled, "unset variables leave fields alone")
}

func TestApplyEnv_ReconcileSchedule(t *testing.T) {
	tests := []struct {
		value        string
		wantEnabled  bool
		wantSchedule string
	}{
		{"off", false, "@every 1h"},
		{"", false, "@every 1h"},
		{"@every 5m", true, "@every 5m"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{"BETELCHAIN_RECONCILE_SCHEDULE": tt.value})))
			assert.Equal(t, tt.wantEnabled, cfg.Reconciliation.Enabled)
			assert.Equal(t, tt.wantSchedule, cfg.Reconciliation.Schedule)
		})
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	assert.ErrorContains(t, Default().ApplyEnv(envMap(map[string]string{"BETELCHAIN_PORT": "eighty"})), "BETELCHAIN_PORT")
	assert.ErrorContains(t, Default().ApplyEnv(envMap(map[string]string{"BETELCHAIN_PRICING_TIMEOUT": "soon"})), "BETELCHAIN_PRICING_TIMEOUT")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Database.Path = ""
	cfg.Pricing.Timeout = 0
	cfg.Pricing.Policy = factory.PricingJSON{Kind: "auction"}
	cfg.Events.KafkaBrokers = []string{"kafka:9092"}
	cfg.Events.Topic = ""
	cfg.Reconciliation.Schedule = "sometimes"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.port", "database.path", "pricing.timeout", "pricing.policy", "events.topic", "reconciliation.schedule"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = Default()
	cfg.Reconciliation.Enabled = false
	cfg.Reconciliation.Schedule = "sometimes"
	assert.NoError(t, cfg.Validate(), "a disabled schedule is not parsed")
}
