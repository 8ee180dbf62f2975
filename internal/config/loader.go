package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"intake/internal/constants"
)

const peerSecretEnvPrefix = "AUTH_PEER_"
const peerSecretEnvSuffix = "_SECRET"

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", constants.DefaultHTTPTimeout.String())
	viper.SetDefault("server.write_timeout", constants.DefaultHTTPTimeout.String())
	viper.SetDefault("server.shutdown_timeout", constants.ShutdownTimeout.String())
	viper.SetDefault("server.max_body_bytes", constants.DefaultMaxBodyBytes)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("auth.max_skew", constants.DefaultMaxSkew.String())
	viper.SetDefault("auth.nonce_ttl", constants.DefaultNonceTTL.String())
	viper.SetDefault("auth.nonce_store", constants.StoreMemory)
	viper.SetDefault("auth.timeout", constants.DefaultAuthTimeout.String())

	viper.SetDefault("idempotency.store", constants.StoreMemory)
	viper.SetDefault("idempotency.ttl", constants.DefaultIdempotencyTTL.String())
	viper.SetDefault("idempotency.on_store_error", constants.FallbackAllow)
	viper.SetDefault("admission.on_error", constants.FallbackAllow)

	viper.SetDefault("ingest.queue", constants.QueueMemory)
	viper.SetDefault("ingest.max_queue_size", constants.DefaultMaxQueueSize)
	viper.SetDefault("ingest.batch_size", constants.DefaultBatchSize)
	viper.SetDefault("ingest.batch_interval", constants.DefaultBatchInterval.String())
	viper.SetDefault("ingest.persist_timeout", constants.DefaultPersistTimeout.String())
	viper.SetDefault("ingest.progress_every", constants.DefaultProgressEvery)
	viper.SetDefault("ingest.retry.max_attempts", 3)
	viper.SetDefault("ingest.retry.initial_interval", "100ms")
	viper.SetDefault("ingest.retry.max_interval", "2s")
	viper.SetDefault("ingest.retry.multiplier", 2.0)
	viper.SetDefault("ingest.stream.name", constants.DefaultStreamName)
	viper.SetDefault("ingest.stream.group", constants.DefaultStreamGroup)
	viper.SetDefault("ingest.stream.workers", constants.DefaultStreamWorkers)
	viper.SetDefault("ingest.stream.max_attempts", constants.DefaultStreamMaxAttempts)
	viper.SetDefault("ingest.stream.backoff_base", constants.DefaultStreamBackoffBase.String())
	viper.SetDefault("ingest.stream.block_timeout", constants.DefaultStreamBlockTimeout.String())
	viper.SetDefault("ingest.stream.claim_every", constants.DefaultStreamClaimEvery.String())

	viper.SetDefault("persistence.driver", constants.StoreMemory)
	viper.SetDefault("persistence.table", constants.DefaultEventsTable)
	viper.SetDefault("persistence.collection", constants.DefaultEventCollection)

	viper.SetDefault("slo.sample_window", constants.DefaultSampleWindow)
	viper.SetDefault("slo.evaluate_every", constants.DefaultSLOEvaluateEvery.String())
	viper.SetDefault("slo.p95_threshold", constants.DefaultP95Threshold.String())
	viper.SetDefault("slo.p95_windows", constants.DefaultP95Windows)
	viper.SetDefault("slo.p99_threshold", constants.DefaultP99Threshold.String())
	viper.SetDefault("slo.p99_windows", constants.DefaultP99Windows)
	viper.SetDefault("slo.excluded_paths", []string{"/health", "/ready", "/metrics"})

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.rps", 500.0)
	viper.SetDefault("rate_limit.burst", 1000)
	viper.SetDefault("rate_limit.cleanup_interval", "1m")
	viper.SetDefault("rate_limit.max_age", "5m")

	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "10s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("circuit_breaker.min_requests", 10)

	viper.SetDefault("broker.kafka.dlq_topic", constants.DefaultDLQTopic)
	viper.SetDefault("broker.kafka.group_id", "intake-redrive")
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", "500ms")
	viper.SetDefault("broker.kafka.retry.max_interval", "10s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("tracing.service_name", constants.ServiceName)
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("auth.nonce_store", "AUTH_NONCE_STORE")
	viper.BindEnv("auth.default_peer", "AUTH_DEFAULT_PEER")
	viper.BindEnv("idempotency.store", "IDEMPOTENCY_STORE")
	viper.BindEnv("ingest.queue", "INGEST_QUEUE")
	viper.BindEnv("persistence.driver", "PERSISTENCE_DRIVER")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	applyPeerSecretOverrides(cfg, os.Environ())

	return nil
}

// applyPeerSecretOverrides reads AUTH_PEER_<ID>_SECRET variables. A variable matching a
// configured peer (upper-cased, '-' as '_') replaces its secret; any other adds a peer
// whose id is the lower-cased <ID>.
func applyPeerSecretOverrides(cfg *Config, environ []string) {
	if cfg.Auth.Peers == nil {
		cfg.Auth.Peers = make(map[string]PeerConfig)
	}

	known := make(map[string]string, len(cfg.Auth.Peers))
	for id := range cfg.Auth.Peers {
		known[PeerEnvName(id)] = id
	}

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if !strings.HasPrefix(name, peerSecretEnvPrefix) || !strings.HasSuffix(name, peerSecretEnvSuffix) {
			continue
		}
		envID := strings.TrimSuffix(strings.TrimPrefix(name, peerSecretEnvPrefix), peerSecretEnvSuffix)
		if envID == "" {
			continue
		}

		id, exists := known[envID]
		if !exists {
			id = strings.ToLower(envID)
		}
		cfg.Auth.Peers[id] = PeerConfig{Secret: value}
	}
}

// PeerEnvName is the <ID> part of the AUTH_PEER_<ID>_SECRET variable for a peer.
func PeerEnvName(peerID string) string {
	return strings.ToUpper(strings.ReplaceAll(peerID, "-", "_"))
}
