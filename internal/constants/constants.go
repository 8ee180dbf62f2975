package constants

import "time"

const (
	ServiceName = "intake"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

const (
	KeyPrefixNonce       = "nonce:"
	KeyPrefixIdempotency = "idempotency:"
)

const (
	DefaultMaxQueueSize  = 100000
	DefaultBatchSize     = 50
	DefaultBatchInterval = 25 * time.Millisecond
	DefaultProgressEvery = 10
)

const (
	DefaultStreamName         = "intake:events"
	DefaultStreamGroup        = "intake-workers"
	DefaultStreamWorkers      = 6
	DefaultStreamMaxAttempts  = 3
	DefaultStreamBackoffBase  = time.Second
	DefaultStreamBlockTimeout = 2 * time.Second
	DefaultStreamClaimEvery   = 5 * time.Second
)

const (
	DefaultMaxSkew        = 5 * time.Minute
	DefaultNonceTTL       = 10 * time.Minute
	DefaultAuthTimeout    = 5 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultPersistTimeout = 10 * time.Second
	LocalSweepInterval    = time.Minute
)

const (
	DefaultSampleWindow      = 1000
	DefaultP95Threshold      = 120 * time.Millisecond
	DefaultP95Windows        = 15
	DefaultP99Threshold      = 200 * time.Millisecond
	DefaultP99Windows        = 5
	DefaultSLOEvaluateEvery  = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	PeerStaleAfterIntervals  = 3
)

const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultRetryAfter   = 1
)

const (
	ModeShared = "shared"
	ModeLocal  = "local"
)

const (
	QueueMemory      = "memory"
	QueueRedisStream = "redis_stream"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMongoDB  = "mongodb"
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	DefaultMongoDBName     = "intake"
	DefaultEventsTable     = "inbound_events"

	// PostgresEventColumns is the bind parameters per row of the batch insert.
	PostgresEventColumns = 8
	// MaxPostgresBatchSize keeps one batch insert under the 65535 bind parameter limit.
	MaxPostgresBatchSize = 65535 / PostgresEventColumns
	DefaultEventCollection = "inbound_events"
	DefaultDLQTopic        = "intake.events.dlq"
)
