package config

import (
	"fmt"
	"strings"

	"intake/internal/constants"
	"intake/pkg/cel"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateDatabase(c.Database) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateAuth(c.Auth) },
		validateIdempotency,
		validateIngest,
		validatePersistence,
		func(c *Config) error { return validateSLO(c.SLO) },
		func(c *Config) error { return validateAdmission(c.Admission) },
		func(c *Config) error { return validateRateLimit(c.RateLimit) },
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{Field: "server.read_timeout", Message: "read timeout must be positive"}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{Field: "server.write_timeout", Message: "write timeout must be positive"}
	}

	if cfg.ShutdownTimeout <= 0 {
		return &ValidationError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"}
	}

	if cfg.MaxBodyBytes <= 0 {
		return &ValidationError{Field: "server.max_body_bytes", Message: "max body size must be positive"}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, or empty to disable)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.DLQTopic == "" {
		return &ValidationError{Field: "broker.kafka.dlq_topic", Message: "dead-letter topic is required"}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{Field: prefix + ".max_attempts", Message: "max_attempts must be non-negative"}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{Field: prefix + ".initial_interval", Message: "initial_interval must be non-negative"}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{Field: prefix + ".max_interval", Message: "max_interval must be non-negative"}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{Field: prefix + ".multiplier", Message: "multiplier must be positive"}
	}

	return nil
}

func validateAuth(cfg AuthConfig) error {
	if cfg.MaxSkew <= 0 {
		return &ValidationError{Field: "auth.max_skew", Message: "max skew must be positive"}
	}

	// A nonce must outlive every timestamp that could still pass the skew check.
	if cfg.NonceTTL < 2*cfg.MaxSkew {
		return &ValidationError{
			Field:   "auth.nonce_ttl",
			Message: fmt.Sprintf("nonce ttl must be at least twice max_skew (%s), got %s", 2*cfg.MaxSkew, cfg.NonceTTL),
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{Field: "auth.timeout", Message: "timeout must be positive"}
	}

	if err := validateStoreChoice("auth.nonce_store", cfg.NonceStore); err != nil {
		return err
	}

	if cfg.DefaultPeer != "" {
		if _, ok := cfg.PeerSecrets()[strings.ToLower(cfg.DefaultPeer)]; !ok {
			return &ValidationError{
				Field:   "auth.default_peer",
				Message: fmt.Sprintf("default peer %q has no configured credential", cfg.DefaultPeer),
			}
		}
	}

	return nil
}

func validateIdempotency(cfg *Config) error {
	if err := validateStoreChoice("idempotency.store", cfg.Idempotency.Store); err != nil {
		return err
	}

	if cfg.Idempotency.TTL <= 0 {
		return &ValidationError{Field: "idempotency.ttl", Message: "ttl must be positive"}
	}

	switch strings.ToLower(cfg.Idempotency.OnStoreError) {
	case constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "idempotency.on_store_error",
			Message: fmt.Sprintf("invalid on_store_error value: %s (valid: allow, deny)", cfg.Idempotency.OnStoreError),
		}
	}

	return nil
}

func validateStoreChoice(field, store string) error {
	switch store {
	case constants.StoreMemory, constants.StoreRedis:
		return nil
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("unknown store: %s (supported: memory, redis)", store),
	}
}

func validateIngest(cfg *Config) error {
	in := cfg.Ingest

	switch in.Queue {
	case constants.QueueMemory:
	case constants.QueueRedisStream:
		if cfg.Database.Redis.Host == "" {
			return &ValidationError{Field: "ingest.queue", Message: "redis_stream queue requires database.redis"}
		}
		if in.Stream.Workers < 1 {
			return &ValidationError{Field: "ingest.stream.workers", Message: "at least one worker is required"}
		}
		if in.Stream.MaxAttempts < 1 {
			return &ValidationError{Field: "ingest.stream.max_attempts", Message: "max_attempts must be at least 1"}
		}
		if in.Stream.Name == "" || in.Stream.Group == "" {
			return &ValidationError{Field: "ingest.stream", Message: "stream name and group are required"}
		}
	default:
		return &ValidationError{
			Field:   "ingest.queue",
			Message: fmt.Sprintf("unknown queue: %s (supported: memory, redis_stream)", in.Queue),
		}
	}

	if in.MaxQueueSize < 1 {
		return &ValidationError{Field: "ingest.max_queue_size", Message: "max queue size must be positive"}
	}

	if in.BatchSize < 1 {
		return &ValidationError{Field: "ingest.batch_size", Message: "batch size must be positive"}
	}

	if in.BatchInterval <= 0 {
		return &ValidationError{Field: "ingest.batch_interval", Message: "batch interval must be positive"}
	}

	if in.PersistTimeout <= 0 {
		return &ValidationError{Field: "ingest.persist_timeout", Message: "persist timeout must be positive"}
	}

	return validateRetry("ingest.retry", in.Retry)
}

func validatePersistence(cfg *Config) error {
	switch cfg.Persistence.Driver {
	case constants.StoreMemory:
	case constants.StorePostgres:
		if cfg.Database.Postgres.Host == "" {
			return &ValidationError{Field: "persistence.driver", Message: "postgres driver requires database.postgres"}
		}
		if cfg.Persistence.Table != constants.DefaultEventsTable {
			return &ValidationError{
				Field:   "persistence.table",
				Message: fmt.Sprintf("table must be %s, the table the migrations create", constants.DefaultEventsTable),
			}
		}
		if cfg.Ingest.BatchSize > constants.MaxPostgresBatchSize {
			return &ValidationError{
				Field:   "ingest.batch_size",
				Message: fmt.Sprintf("batch size must not exceed %d with the postgres driver", constants.MaxPostgresBatchSize),
			}
		}
	case constants.StoreMongoDB:
		if cfg.Database.MongoDB.URI == "" {
			return &ValidationError{Field: "persistence.driver", Message: "mongodb driver requires database.mongodb"}
		}
		if cfg.Persistence.Collection == "" {
			return &ValidationError{Field: "persistence.collection", Message: "collection is required"}
		}
	default:
		return &ValidationError{
			Field:   "persistence.driver",
			Message: fmt.Sprintf("unknown driver: %s (supported: memory, postgres, mongodb)", cfg.Persistence.Driver),
		}
	}

	needsRedis := cfg.Auth.NonceStore == constants.StoreRedis || cfg.Idempotency.Store == constants.StoreRedis
	if needsRedis && cfg.Database.Redis.Host == "" {
		return &ValidationError{Field: "database.redis.host", Message: "redis-backed stores require database.redis"}
	}

	return nil
}

func validateSLO(cfg SLOConfig) error {
	if cfg.SampleWindow < 1 {
		return &ValidationError{Field: "slo.sample_window", Message: "sample window must be positive"}
	}
	if cfg.EvaluateEvery <= 0 {
		return &ValidationError{Field: "slo.evaluate_every", Message: "evaluation interval must be positive"}
	}
	if cfg.P95Threshold <= 0 || cfg.P99Threshold <= 0 {
		return &ValidationError{Field: "slo", Message: "p95 and p99 thresholds must be positive"}
	}
	if cfg.P95Windows < 1 || cfg.P99Windows < 1 {
		return &ValidationError{Field: "slo", Message: "p95_windows and p99_windows must be at least 1"}
	}
	return nil
}

func validateAdmission(cfg AdmissionConfig) error {
	if strings.TrimSpace(cfg.Expression) == "" {
		return nil
	}

	switch strings.ToLower(cfg.OnError) {
	case "", constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "admission.on_error",
			Message: fmt.Sprintf("invalid on_error value: %s (valid: allow, deny)", cfg.OnError),
		}
	}

	eval, err := cel.NewEvaluator()
	if err != nil {
		return &ValidationError{Field: "admission.expression", Message: err.Error()}
	}

	if err := eval.ValidateFilterExpression(cfg.Expression); err != nil {
		return &ValidationError{Field: "admission.expression", Message: err.Error()}
	}

	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.RPS <= 0 {
		return &ValidationError{Field: "rate_limit.rps", Message: "rps must be positive"}
	}
	if cfg.Burst < 1 {
		return &ValidationError{Field: "rate_limit.burst", Message: "burst must be positive"}
	}
	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "database.postgres.host", Message: "PostgreSQL host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{Field: "database.postgres.user", Message: "PostgreSQL user is required"}
	}

	if cfg.DBName == "" {
		return &ValidationError{Field: "database.postgres.dbname", Message: "PostgreSQL database name is required"}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "database.redis.host", Message: "Redis host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{Field: "database.mongodb.database", Message: "MongoDB database name is required"}
	}

	return nil
}
