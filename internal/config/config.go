package config

import (
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Auth           AuthConfig
	Idempotency    IdempotencyConfig
	Ingest         IngestConfig
	Persistence    PersistenceConfig
	SLO            SLOConfig
	Admission      AdmissionConfig
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// BrokerConfig configures the dead-letter transport. An empty Type disables it.
type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers  []string    `mapstructure:"brokers"`
	GroupID  string      `mapstructure:"group_id"`
	DLQTopic string      `mapstructure:"dlq_topic"`
	Retry    RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	MaxSkew     time.Duration         `mapstructure:"max_skew"`
	NonceTTL    time.Duration         `mapstructure:"nonce_ttl"`
	NonceStore  string                `mapstructure:"nonce_store"`
	Timeout     time.Duration         `mapstructure:"timeout"`
	DefaultPeer string                `mapstructure:"default_peer"`
	Peers       map[string]PeerConfig `mapstructure:"peers"`
}

type PeerConfig struct {
	Secret string `mapstructure:"secret"`
}

// PeerSecrets flattens the configured peers into id -> secret. Peer ids are lower-cased.
func (c AuthConfig) PeerSecrets() map[string]string {
	out := make(map[string]string, len(c.Peers))
	for id, p := range c.Peers {
		out[strings.ToLower(id)] = p.Secret
	}
	return out
}

type IdempotencyConfig struct {
	Store        string        `mapstructure:"store"`
	TTL          time.Duration `mapstructure:"ttl"`
	OnStoreError string        `mapstructure:"on_store_error"`
}

type IngestConfig struct {
	Queue          string        `mapstructure:"queue"`
	MaxQueueSize   int           `mapstructure:"max_queue_size"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchInterval  time.Duration `mapstructure:"batch_interval"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	ProgressEvery  int           `mapstructure:"progress_every"`
	Retry          RetryConfig   `mapstructure:"retry"`
	Stream         StreamConfig  `mapstructure:"stream"`
}

type StreamConfig struct {
	Name         string        `mapstructure:"name"`
	Group        string        `mapstructure:"group"`
	Workers      int           `mapstructure:"workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
	ClaimEvery   time.Duration `mapstructure:"claim_every"`
}

type PersistenceConfig struct {
	Driver     string `mapstructure:"driver"`
	Table      string `mapstructure:"table"`
	Collection string `mapstructure:"collection"`
}

type SLOConfig struct {
	SampleWindow  int           `mapstructure:"sample_window"`
	EvaluateEvery time.Duration `mapstructure:"evaluate_every"`
	P95Threshold  time.Duration `mapstructure:"p95_threshold"`
	P95Windows    int           `mapstructure:"p95_windows"`
	P99Threshold  time.Duration `mapstructure:"p99_threshold"`
	P99Windows    int           `mapstructure:"p99_windows"`
	ExcludedPaths []string      `mapstructure:"excluded_paths"`
}

// AdmissionConfig holds an optional CEL rule every event must satisfy. OnError decides
// what happens when the rule fails to evaluate.
type AdmissionConfig struct {
	Expression string `mapstructure:"expression"`
	OnError    string `mapstructure:"on_error"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
