package darpio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/taldoflemis/campusdarpio/pacchetto/querycache"
	"github.com/taldoflemis/campusdarpio/pacchetto/telemetry"
)

// Publisher announces writes so other instances can drop cached copies.
type Publisher interface {
	PublishInvalidation(ctx context.Context, resource string, id int64) error
}

type Invalidation struct {
	Resource string `json:"resource"`
	ID       int64  `json:"id,omitempty"`
	Origin   string `json:"origin"`
}

func invalidationSubject(prefix, resource string) string {
	return prefix + ".invalidate." + resource
}

type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	origin string
}

var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix, origin: uuid.NewString()}
}

// Origin identifies this publisher in the messages it sends.
func (p *NATSPublisher) Origin() string {
	return p.origin
}

func (p *NATSPublisher) PublishInvalidation(ctx context.Context, resource string, id int64) error {
	ctx, span := tracer.Start(ctx, "NATSPublisher.PublishInvalidation")
	defer span.End()

	data, err := json.Marshal(Invalidation{Resource: resource, ID: id, Origin: p.origin})
	if err != nil {
		return err
	}
	msg := nats.NewMsg(invalidationSubject(p.prefix, resource))
	msg.Data = data
	telemetry.InjectContextToNatsMsg(ctx, msg)
	if err := p.nc.PublishMsg(msg); err != nil {
		endSpan(span, err)
		return fmt.Errorf("publish invalidation of %s: %w", resource, err)
	}
	return nil
}

// SubscribeInvalidations applies invalidations published by other instances
// to cache. Messages carrying origin are ignored.
func SubscribeInvalidations(nc *nats.Conn, prefix, origin string, cache *querycache.Cache) (*nats.Subscription, error) {
	return nc.Subscribe(invalidationSubject(prefix, "*"), func(msg *nats.Msg) {
		ctx := telemetry.GetContextFromNatsMsg(context.Background(), msg)

		var inv Invalidation
		if err := json.Unmarshal(msg.Data, &inv); err != nil {
			slog.ErrorContext(ctx, "failed to unmarshal invalidation", slog.String("subject", msg.Subject), slog.Any("err", err))
			return
		}
		if inv.Origin == origin {
			return
		}
		if inv.Resource == "" {
			inv.Resource = strings.TrimPrefix(msg.Subject, prefix+".invalidate.")
		}
		slog.DebugContext(ctx, "applying remote invalidation", slog.String("resource", inv.Resource), slog.Int64("id", inv.ID))
		cache.Invalidate(InvalidationKeys(inv.Resource)...)
	})
}
