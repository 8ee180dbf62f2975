package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInjectExtractRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "dead-letter")
	defer span.End()

	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "reason", Value: []byte("exhausted")}})
	assert.Len(t, headers, 2)

	extracted := ExtractTraceContext(context.Background(), headers)
	assert.Equal(t, TraceID(ctx), TraceID(extracted))
	assert.NotEmpty(t, TraceID(extracted))
}
