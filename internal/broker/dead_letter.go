package broker

import (
	"context"
	"fmt"

	"intake/internal/constants"
	"intake/internal/logger"
	"intake/pkg/models"
)

// DeadLetterPublisher sends exhausted batches to the configured dead-letter topic.
type DeadLetterPublisher struct {
	producer Producer
	topic    string
	logger   logger.Logger
}

func NewDeadLetterPublisher(producer Producer, topic string, log logger.Logger) *DeadLetterPublisher {
	if topic == "" {
		topic = constants.DefaultDLQTopic
	}
	return &DeadLetterPublisher{producer: producer, topic: topic, logger: log}
}

func (d *DeadLetterPublisher) Send(ctx context.Context, letter models.DeadLetter) error {
	if err := d.producer.Publish(ctx, d.topic, letter); err != nil {
		return fmt.Errorf("failed to publish to DLQ %s: %w", d.topic, err)
	}
	d.logger.InfowCtx(ctx, "Batch sent to DLQ",
		"dlq_topic", d.topic,
		"source", letter.Source,
		"reason", letter.Reason,
		"events", len(letter.Events),
	)
	return nil
}

func (d *DeadLetterPublisher) Topic() string {
	return d.topic
}

func (d *DeadLetterPublisher) Close() error {
	return d.producer.Close()
}
