package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestErrorFormattingMiddleware(t *testing.T) {
	// Arrange
	record := slog.NewRecord(time.Now(), slog.LevelError, "boom", 0)
	record.AddAttrs(slog.Any("err", errors.New("backend down")), slog.String("resource", "Cliente"))

	var got slog.Record
	next := func(_ context.Context, r slog.Record) error {
		got = r
		return nil
	}

	// Act
	err := errorFormattingMiddleware(context.Background(), record, next)

	// Assert
	require.NoError(t, err)
	attrs := map[string]slog.Value{}
	got.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value
		return true
	})
	assert.Equal(t, slog.KindGroup, attrs["err"].Kind())
	assert.Equal(t, "Cliente", attrs["resource"].String())
}

func TestNatsContextRoundTrip(t *testing.T) {
	// Arrange
	otel.SetTextMapPropagator(newPropagator())
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	msg := &nats.Msg{Subject: "campusdarpio.invalidate.Cliente"}

	// Act
	InjectContextToNatsMsg(ctx, msg)
	extracted := GetContextFromNatsMsg(context.Background(), msg)

	// Assert
	assert.NotEmpty(t, propagation.HeaderCarrier(msg.Header).Get("traceparent"))
	assert.Equal(t, traceID, trace.SpanContextFromContext(extracted).TraceID())
}
