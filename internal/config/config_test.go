package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/constants"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  default_peer: mailer
  peers:
    mailer:
      secret: s3cret
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, constants.DefaultMaxQueueSize, cfg.Ingest.MaxQueueSize)
	assert.Equal(t, constants.DefaultBatchSize, cfg.Ingest.BatchSize)
	assert.Equal(t, 25*time.Millisecond, cfg.Ingest.BatchInterval)
	assert.Equal(t, 5*time.Minute, cfg.Auth.MaxSkew)
	assert.Equal(t, 10*time.Minute, cfg.Auth.NonceTTL)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 6, cfg.Ingest.Stream.Workers)
	assert.Equal(t, 3, cfg.Ingest.Stream.MaxAttempts)
	assert.Equal(t, 1000, cfg.SLO.SampleWindow)
	assert.Equal(t, 15, cfg.SLO.P95Windows)
	assert.Equal(t, 5, cfg.SLO.P99Windows)
	assert.Equal(t, map[string]string{"mailer": "s3cret"}, cfg.Auth.PeerSecrets())
}

func TestLoadConfigPeerSecretFromEnv(t *testing.T) {
	path := writeConfig(t, `
auth:
  peers:
    billing-svc:
      secret: from-file
`)
	t.Setenv("AUTH_PEER_BILLING_SVC_SECRET", "from-env")
	t.Setenv("AUTH_PEER_CRM_SECRET", "crm-secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	secrets := cfg.Auth.PeerSecrets()
	assert.Equal(t, "from-env", secrets["billing-svc"])
	assert.Equal(t, "crm-secret", secrets["crm"])
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"nonce ttl shorter than skew window", "auth:\n  max_skew: 5m\n  nonce_ttl: 6m\n"},
		{"unknown queue", "ingest:\n  queue: sqs\n"},
		{"stream without redis", "ingest:\n  queue: redis_stream\n"},
		{"postgres without database", "persistence:\n  driver: postgres\n"},
		{"redis nonce store without redis", "auth:\n  nonce_store: redis\n"},
		{"bad on_store_error", "idempotency:\n  on_store_error: maybe\n"},
		{"non-bool admission rule", "admission:\n  expression: subject_ref\n"},
		{"default peer without secret", "auth:\n  default_peer: ghost\n"},
		{"kafka without brokers", "broker:\n  type: kafka\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestValidateSLO(t *testing.T) {
	err := validateSLO(SLOConfig{SampleWindow: 0})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "slo.sample_window", vErr.Field)
}

func TestValidatePersistencePostgres(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Database.Postgres.Host = "db"
		cfg.Persistence.Driver = constants.StorePostgres
		cfg.Persistence.Table = constants.DefaultEventsTable
		cfg.Ingest.BatchSize = constants.MaxPostgresBatchSize
		return cfg
	}
	require.NoError(t, validatePersistence(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"table other than the migrated one", func(c *Config) { c.Persistence.Table = "events" }, "persistence.table"},
		{"empty table", func(c *Config) { c.Persistence.Table = "" }, "persistence.table"},
		{"batch over bind parameter limit", func(c *Config) { c.Ingest.BatchSize = 8192 }, "ingest.batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			var vErr *ValidationError
			require.ErrorAs(t, validatePersistence(cfg), &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestPeerEnvName(t *testing.T) {
	assert.Equal(t, "BILLING_SVC", PeerEnvName("billing-svc"))
	assert.Equal(t, "MAILER", PeerEnvName("mailer"))
}

func TestApplyPeerSecretOverridesIgnoresEmpty(t *testing.T) {
	cfg := &Config{}
	applyPeerSecretOverrides(cfg, []string{"AUTH_PEER_X_SECRET=", "AUTH_PEER__SECRET=v", "OTHER=1"})
	assert.Empty(t, cfg.Auth.Peers)
}
