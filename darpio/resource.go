package darpio

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taldoflemis/campusdarpio/pacchetto/querycache"
	"github.com/taldoflemis/campusdarpio/pacchetto/retry"
	"github.com/taldoflemis/campusdarpio/pacchetto/transport"
)

var tracer = otel.Tracer("campusdarpio/darpio")

var ErrNoCache = errors.New("darpio: watching requires a cache")

// Resource names double as cache keys and invalidation subjects.
const (
	ResourceClientes     = "clientes"
	ResourceFuncionarios = "funcionarios"
	ResourceEntregadores = "entregadores"
	ResourceBlocos       = "blocos"
	ResourceCampi        = "campi"
	ResourceRefeicoes    = "refeicoes"
	ResourceBebidas      = "bebidas"
	ResourceCardapios    = "cardapios"
	ResourcePedidos      = "pedidos"
	ResourceEntregas     = "entregas"
)

// Paths maps each resource name to its backend endpoint.
var Paths = map[string]string{
	ResourceClientes:     "/Cliente",
	ResourceFuncionarios: "/Funcionario",
	ResourceEntregadores: "/Entregador",
	ResourceBlocos:       "/Bloco",
	ResourceCampi:        "/Campus",
	ResourceRefeicoes:    "/Refeicao",
	ResourceBebidas:      "/Bebida",
	ResourceCardapios:    "/Cardapio",
	ResourcePedidos:      "/Pedido",
	ResourceEntregas:     "/Entrega",
}

const namesPrefix = "nomes:"

// InvalidationKeys are the cache keys a write to resource makes stale.
func InvalidationKeys(resource string) []querycache.Key {
	return []querycache.Key{
		querycache.Collection(resource),
		querycache.Collection(namesPrefix + resource),
	}
}

type deps struct {
	client *transport.Client
	policy retry.Policy
	cache  *querycache.Cache
	pub    Publisher
	now    func() time.Time
}

type update[T any] struct {
	id      int64
	payload T
}

// Resource is the resilient service of one backend resource. Reads are
// cached when a cache is configured, writes invalidate the collection.
// Values returned from the cache are shared and must not be modified.
type Resource[T any] struct {
	name     string
	path     string
	d        *deps
	defaults func(*T, time.Time)

	create *querycache.Mutation[T, T]
	update *querycache.Mutation[update[T], T]
	remove *querycache.Mutation[int64, struct{}]
}

func newResource[T any](name string, d *deps, defaults func(*T, time.Time)) *Resource[T] {
	r := &Resource[T]{name: name, path: Paths[name], d: d, defaults: defaults}
	opts := func() querycache.MutateOptions[T] {
		return querycache.MutateOptions[T]{Invalidates: InvalidationKeys(name)}
	}
	r.create = querycache.NewMutation(d.cache, r.doCreate, opts())
	r.update = querycache.NewMutation(d.cache, r.doUpdate, opts())
	r.remove = querycache.NewMutation(d.cache, r.doDelete, querycache.MutateOptions[struct{}]{
		Invalidates: InvalidationKeys(name),
	})
	return r
}

func (r *Resource[T]) Name() string {
	return r.name
}

func (r *Resource[T]) Path() string {
	return r.path
}

func (r *Resource[T]) itemPath(id int64) string {
	return r.path + "/" + strconv.FormatInt(id, 10)
}

func (r *Resource[T]) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("darpio.resource", r.name))
	return tracer.Start(ctx, r.name+"."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (r *Resource[T]) fetchList(ctx context.Context) ([]T, error) {
	return retry.Do(ctx, "list "+r.name, r.d.policy, func(ctx context.Context) ([]T, error) {
		var out []T
		err := r.d.client.Get(ctx, r.path, nil, &out)
		return out, err
	})
}

func (r *Resource[T]) List(ctx context.Context) (_ []T, err error) {
	ctx, span := r.startSpan(ctx, "List")
	defer func() { endSpan(span, err) }()

	if r.d.cache == nil {
		return r.fetchList(ctx)
	}
	return querycache.Query(ctx, r.d.cache, querycache.Collection(r.name), r.fetchList)
}

func (r *Resource[T]) Get(ctx context.Context, id int64) (_ T, err error) {
	ctx, span := r.startSpan(ctx, "Get", attribute.Int64("darpio.id", id))
	defer func() { endSpan(span, err) }()

	var zero T
	if err := checkID(id); err != nil {
		return zero, err
	}
	fetch := func(ctx context.Context) (T, error) {
		return retry.Do(ctx, "get "+r.name, r.d.policy, func(ctx context.Context) (T, error) {
			var out T
			err := r.d.client.Get(ctx, r.itemPath(id), nil, &out)
			return out, err
		})
	}
	if r.d.cache == nil {
		return fetch(ctx)
	}
	return querycache.Query(ctx, r.d.cache, querycache.Item(r.name, id), fetch)
}

// Watch streams the collection, refetched each time it is invalidated.
func (r *Resource[T]) Watch(ctx context.Context) (<-chan []T, error) {
	if r.d.cache == nil {
		return nil, ErrNoCache
	}
	return querycache.Watch(ctx, r.d.cache, querycache.Collection(r.name), r.fetchList)
}

// Fetching reports whether the collection is being fetched right now.
func (r *Resource[T]) Fetching() bool {
	return r.d.cache != nil && r.d.cache.IsFetching(querycache.Collection(r.name))
}

// Pending reports whether a write is in progress.
func (r *Resource[T]) Pending() bool {
	return r.create.IsPending() || r.update.IsPending() || r.remove.IsPending()
}

func (r *Resource[T]) Create(ctx context.Context, payload T) (_ T, err error) {
	ctx, span := r.startSpan(ctx, "Create")
	defer func() { endSpan(span, err) }()

	if r.defaults != nil {
		r.defaults(&payload, r.d.now())
	}
	if err := validatePayload(r.name, payload); err != nil {
		return payload, err
	}
	out, err := r.create.Mutate(ctx, payload)
	if err != nil {
		return out, err
	}
	r.announce(ctx, 0)
	return out, nil
}

func (r *Resource[T]) doCreate(ctx context.Context, payload T) (T, error) {
	return retry.Do(ctx, "create "+r.name, r.d.policy, func(ctx context.Context) (T, error) {
		out := payload
		err := r.d.client.Post(ctx, r.path, payload, &out)
		return out, err
	})
}

// Update replaces the record id with payload. When the backend answers
// without a body the payload is returned.
func (r *Resource[T]) Update(ctx context.Context, id int64, payload T) (_ T, err error) {
	ctx, span := r.startSpan(ctx, "Update", attribute.Int64("darpio.id", id))
	defer func() { endSpan(span, err) }()

	if err := checkID(id); err != nil {
		return payload, err
	}
	if err := validatePayload(r.name, payload); err != nil {
		return payload, err
	}
	out, err := r.update.Mutate(ctx, update[T]{id: id, payload: payload})
	if err != nil {
		return out, err
	}
	r.announce(ctx, id)
	return out, nil
}

func (r *Resource[T]) doUpdate(ctx context.Context, u update[T]) (T, error) {
	return retry.Do(ctx, "update "+r.name, r.d.policy, func(ctx context.Context) (T, error) {
		out := u.payload
		err := r.d.client.Put(ctx, r.itemPath(u.id), u.payload, &out)
		return out, err
	})
}

func (r *Resource[T]) Delete(ctx context.Context, id int64) (err error) {
	ctx, span := r.startSpan(ctx, "Delete", attribute.Int64("darpio.id", id))
	defer func() { endSpan(span, err) }()

	if err := checkID(id); err != nil {
		return err
	}
	if _, err := r.remove.Mutate(ctx, id); err != nil {
		return err
	}
	r.announce(ctx, id)
	return nil
}

func (r *Resource[T]) doDelete(ctx context.Context, id int64) (struct{}, error) {
	return retry.Do(ctx, "delete "+r.name, r.d.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.d.client.Delete(ctx, r.itemPath(id), nil)
	})
}

// announce tells other instances to drop their copy. Failing to publish
// never fails the write that already happened.
func (r *Resource[T]) announce(ctx context.Context, id int64) {
	if r.d.pub == nil {
		return
	}
	if err := r.d.pub.PublishInvalidation(ctx, r.name, id); err != nil {
		slog.WarnContext(ctx, "failed to publish invalidation",
			slog.String("resource", r.name), slog.Int64("id", id), slog.Any("err", err))
	}
}
