package broker

import (
	"context"

	"intake/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, letter models.DeadLetter) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, letter models.DeadLetter) error
