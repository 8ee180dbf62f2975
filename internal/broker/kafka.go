package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
	"intake/pkg/errors"
	"intake/pkg/logging"
	"intake/pkg/metrics"
	"intake/pkg/models"
	"intake/pkg/retry"
	"intake/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

// Publish writes one dead letter keyed by its first fingerprint so redeliveries of the
// same batch land on the same partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, letter models.DeadLetter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	headers := []kafka.Header{}
	headers = tracing.InjectTraceContext(ctx, headers)

	start := time.Now()
	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(letterKey(letter)),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveKafkaWriteDuration(constants.ServiceName, topic, time.Since(start))

	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(constants.ServiceName, topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

func letterKey(letter models.DeadLetter) string {
	if len(letter.Events) == 0 {
		return letter.Source
	}
	return letter.Events[0].EventID + ":" + letter.Events[0].EventType
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: constants.ServiceName,
	}
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume hands each dead letter to handler and commits it once handled. A letter that
// still fails after retries stops consumption with its offset uncommitted, so the next
// run starts from it.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		GroupID:     c.cfg.GroupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	errCh := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		errCh <- c.consumeLoop(ctx, topic, handler)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context, topic string, handler HandlerFunc) error {
	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"topic", topic,
					"reason", "context canceled",
				)
				return ctx.Err()
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
				"topic", topic,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		metrics.IncKafkaMessagesRead(c.serviceName, topic)

		var letter models.DeadLetter
		if err := json.Unmarshal(m.Value, &letter); err != nil {
			c.logger.ErrorwCtx(consumeCtx, "Failed to unmarshal dead letter, skipping",
				"error", err,
				"topic", topic,
				"offset", m.Offset,
			)
			_ = c.reader.CommitMessages(ctx, m)
			continue
		}

		if err := c.handle(ctx, m, letter, handler, topic); err != nil {
			return err
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, letter models.DeadLetter, handler HandlerFunc, topic string) error {
	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
	defer span.End()
	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)
	if traceID := tracing.TraceID(msgCtx); traceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, traceID)
	}
	if len(letter.Events) > 0 {
		msgCtx = logging.WithEventID(msgCtx, letter.Events[0].EventID)
	}

	if err := c.processWithRetry(msgCtx, letter, handler, topic); err != nil {
		span.RecordError(err)
		c.logger.ErrorwCtx(msgCtx, "Failed to process dead letter after retries, stopping",
			"error", err,
			"topic", topic,
			"offset", m.Offset,
			"events", len(letter.Events),
		)
		return fmt.Errorf("dead letter at offset %d: %w", m.Offset, err)
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
			"error", err,
			"topic", topic,
		)
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, letter models.DeadLetter, handler HandlerFunc, topic string) error {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during dead letter processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, letter)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetry("redrive")
		c.logger.WarnwCtx(ctx, "Retrying dead letter processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}
