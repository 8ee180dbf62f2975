package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/config"
	"intake/internal/logger"
	"intake/pkg/models"
)

type closingProducer struct{ closed *[]string }

func (p closingProducer) Publish(ctx context.Context, topic string, letter models.DeadLetter) error {
	return nil
}

func (p closingProducer) Close() error {
	*p.closed = append(*p.closed, "producer")
	return nil
}

func TestBase_ShutdownOrder(t *testing.T) {
	var order []string
	b := NewBase(&config.Config{}, logger.NopLogger())
	b.Producer = closingProducer{closed: &order}

	err := b.Shutdown(context.Background(), func(ctx context.Context) []error {
		order = append(order, "app")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "producer"}, order)
}

func TestBase_ShutdownCollectsErrors(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())
	err := b.Shutdown(context.Background(), func(ctx context.Context) []error {
		return []error{errors.New("queue drain incomplete")}
	})
	assert.ErrorContains(t, err, "queue drain incomplete")
}

func TestBase_BrokerEnabled(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())
	assert.False(t, b.BrokerEnabled())
	assert.Error(t, b.InitProducer())

	b.Config.Broker.Type = "kafka"
	b.Config.Broker.Kafka.Brokers = []string{"localhost:9092"}
	assert.True(t, b.BrokerEnabled())
	require.NoError(t, b.InitProducer())
	require.NoError(t, b.InitConsumer("intake-redrive"))
	assert.Empty(t, b.ShutdownBroker())
}

func TestDatabaseConnector_OptionalBackends(t *testing.T) {
	dc := NewDatabaseConnector(&config.Config{}, logger.NopLogger())
	conns, err := dc.InitAll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, conns.Redis)
	assert.Nil(t, conns.Postgres)
	assert.Nil(t, conns.Mongo)
	assert.Nil(t, conns.MongoDatabase(config.MongoDBConfig{}))
	assert.Empty(t, dc.ShutdownDatabases(context.Background(), conns))
}
