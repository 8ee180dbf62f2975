package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
	"intake/pkg/models"
)

type recordingProducer struct {
	topics  []string
	letters []models.DeadLetter
	err     error
	closed  bool
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, letter models.DeadLetter) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.letters = append(p.letters, letter)
	return nil
}

func (p *recordingProducer) Close() error {
	p.closed = true
	return nil
}

func TestDeadLetterPublisher_Send(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewDeadLetterPublisher(prod, "", logger.NopLogger())
	assert.Equal(t, constants.DefaultDLQTopic, pub.Topic())

	letter := models.DeadLetter{
		Events: []models.InboundEvent{{EventID: "A", EventType: "bounce"}},
		Reason: "max_retries_exceeded",
		Source: "memory",
	}
	require.NoError(t, pub.Send(context.Background(), letter))
	assert.Equal(t, []string{constants.DefaultDLQTopic}, prod.topics)
	assert.Equal(t, letter, prod.letters[0])

	require.NoError(t, pub.Close())
	assert.True(t, prod.closed)
}

func TestDeadLetterPublisher_SendError(t *testing.T) {
	pub := NewDeadLetterPublisher(&recordingProducer{err: errors.New("no leader")}, "dlq", logger.NopLogger())
	err := pub.Send(context.Background(), models.DeadLetter{})
	assert.ErrorContains(t, err, "dlq")
}

func TestLetterKey(t *testing.T) {
	assert.Equal(t, "memory", letterKey(models.DeadLetter{Source: "memory"}))
	assert.Equal(t, "A:bounce", letterKey(models.DeadLetter{Events: []models.InboundEvent{{EventID: "A", EventType: "bounce"}}}))
}

func TestFactory(t *testing.T) {
	_, err := NewProducer(config.BrokerConfig{Type: "nats"}, logger.NopLogger())
	assert.Error(t, err)
	_, err = NewConsumer(config.BrokerConfig{Type: ""}, logger.NopLogger())
	assert.Error(t, err)

	p, err := NewProducer(config.BrokerConfig{Type: TypeKafka, Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}}, logger.NopLogger())
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
