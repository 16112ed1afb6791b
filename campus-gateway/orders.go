package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taldoflemis/campusdarpio/darpio"
	"github.com/taldoflemis/campusdarpio/pacchetto/telemetry"
)

const liveOrderBuffer = 16

// OrderFeed fans newly placed orders out to the live order streams.
type OrderFeed interface {
	PubOrder(ctx context.Context, pedido darpio.Pedido) error
	SubLiveOrders(ctx context.Context, flusher http.Flusher) (<-chan darpio.Pedido, error)
	UnsubLiveOrders(ctx context.Context, flusher http.Flusher) error
}

// GoChannelOrderFeed keeps the fan out inside the process.
type GoChannelOrderFeed struct {
	subs map[http.Flusher]chan darpio.Pedido
	mu   sync.Mutex
}

var _ OrderFeed = (*GoChannelOrderFeed)(nil)

func NewGoChannelOrderFeed() *GoChannelOrderFeed {
	return &GoChannelOrderFeed{subs: make(map[http.Flusher]chan darpio.Pedido)}
}

func (g *GoChannelOrderFeed) PubOrder(ctx context.Context, pedido darpio.Pedido) error {
	ctx, span := tracer.Start(ctx, "GoChannelOrderFeed.PubOrder", trace.WithAttributes(
		attribute.Int64("campusdarpio.pedido.id", pedido.ID),
	))
	defer span.End()

	slog.InfoContext(ctx, "publishing order", slog.Int64("pedido_id", pedido.ID))

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ch := range g.subs {
		select {
		case ch <- pedido:
		default:
			slog.WarnContext(ctx, "live order stream is full, dropping order", slog.Int64("pedido_id", pedido.ID))
		}
	}
	return nil
}

func (g *GoChannelOrderFeed) SubLiveOrders(ctx context.Context, flusher http.Flusher) (<-chan darpio.Pedido, error) {
	ctx, span := tracer.Start(ctx, "GoChannelOrderFeed.SubLiveOrders")
	defer span.End()

	slog.InfoContext(ctx, "subscribing to live orders (SSE)")

	ch := make(chan darpio.Pedido, liveOrderBuffer)
	g.mu.Lock()
	g.subs[flusher] = ch
	g.mu.Unlock()
	return ch, nil
}

func (g *GoChannelOrderFeed) UnsubLiveOrders(ctx context.Context, flusher http.Flusher) error {
	ctx, span := tracer.Start(ctx, "GoChannelOrderFeed.UnsubLiveOrders")
	defer span.End()

	slog.InfoContext(ctx, "unsubscribing from live orders (SSE)")

	g.mu.Lock()
	delete(g.subs, flusher)
	g.mu.Unlock()
	return nil
}

// NATSOrderFeed shares the live orders between every gateway instance.
type NATSOrderFeed struct {
	nc      *nats.Conn
	subject string

	mu   sync.Mutex
	subs map[http.Flusher]*nats.Subscription
}

var _ OrderFeed = (*NATSOrderFeed)(nil)

func NewNATSOrderFeed(nc *nats.Conn, subject string) *NATSOrderFeed {
	return &NATSOrderFeed{
		nc:      nc,
		subject: subject,
		subs:    make(map[http.Flusher]*nats.Subscription),
	}
}

func (n *NATSOrderFeed) PubOrder(ctx context.Context, pedido darpio.Pedido) error {
	ctx, span := tracer.Start(ctx, "NATSOrderFeed.PubOrder", trace.WithAttributes(
		attribute.Int64("campusdarpio.pedido.id", pedido.ID),
	))
	defer span.End()

	msg := nats.NewMsg(n.subject)
	telemetry.InjectContextToNatsMsg(ctx, msg)
	data, err := json.Marshal(pedido)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal order")
		return err
	}
	msg.Data = data
	return n.nc.PublishMsg(msg)
}

func (n *NATSOrderFeed) SubLiveOrders(ctx context.Context, flusher http.Flusher) (<-chan darpio.Pedido, error) {
	ctx, span := tracer.Start(ctx, "NATSOrderFeed.SubLiveOrders")
	defer span.End()

	ch := make(chan darpio.Pedido, liveOrderBuffer)
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		msgCtx := telemetry.GetContextFromNatsMsg(context.Background(), msg)

		var pedido darpio.Pedido
		if err := json.Unmarshal(msg.Data, &pedido); err != nil {
			slog.ErrorContext(msgCtx, "failed to unmarshal order from NATS message", slog.Any("err", err))
			return
		}
		select {
		case ch <- pedido:
		default:
			slog.WarnContext(msgCtx, "live order stream is full, dropping order", slog.Int64("pedido_id", pedido.ID))
		}
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to NATS subject", slog.String("subject", n.subject), slog.Any("err", err))
		span.SetStatus(codes.Error, "failed to subscribe to NATS subject")
		span.RecordError(err)
		return nil, err
	}

	n.mu.Lock()
	n.subs[flusher] = sub
	n.mu.Unlock()
	return ch, nil
}

func (n *NATSOrderFeed) UnsubLiveOrders(ctx context.Context, flusher http.Flusher) error {
	ctx, span := tracer.Start(ctx, "NATSOrderFeed.UnsubLiveOrders")
	defer span.End()

	slog.InfoContext(ctx, "unsubscribing from live orders")

	n.mu.Lock()
	sub, ok := n.subs[flusher]
	delete(n.subs, flusher)
	n.mu.Unlock()
	if !ok {
		slog.WarnContext(ctx, "no subscription found for live order stream")
		return nil
	}
	return sub.Unsubscribe()
}
