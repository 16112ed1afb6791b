package darpio

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/taldoflemis/campusdarpio/pacchetto/querycache"
)

// Unknown is shown for references that no longer resolve.
const Unknown = "Desconhecido"

type namesFunc func(context.Context) (map[int64]string, error)

// Lookup resolves foreign keys into display names. Each map is built from
// one list fetch, cached next to the list and dropped with it.
type Lookup struct {
	cache *querycache.Cache
	kinds map[string]namesFunc
}

func newLookup(s *Services) *Lookup {
	l := &Lookup{cache: s.Clientes.d.cache, kinds: map[string]namesFunc{}}
	register(l, s.Clientes, func(c Cliente) (int64, string) { return c.ID, c.Nome })
	register(l, s.Funcionarios, func(f Funcionario) (int64, string) { return f.ID, f.Nome })
	register(l, s.Entregadores, func(e Entregador) (int64, string) { return e.ID, e.Nome })
	register(l, s.Blocos, func(b Bloco) (int64, string) { return b.ID, b.Nome })
	register(l, s.Campi, func(c Campus) (int64, string) { return c.ID, c.Nome })
	register(l, s.Refeicoes, func(r Refeicao) (int64, string) { return r.ID, r.Nome })
	register(l, s.Bebidas, func(b Bebida) (int64, string) { return b.ID, b.Nome })
	register(l, s.Cardapios, func(c Cardapio) (int64, string) {
		if c.Descricao != "" {
			return c.ID, c.Data + " " + c.Descricao
		}
		return c.ID, c.Data
	})
	register(l, s.Pedidos, func(p Pedido) (int64, string) {
		return p.ID, "Pedido #" + strconv.FormatInt(p.ID, 10)
	})
	return l
}

func register[T any](l *Lookup, r *Resource[T], pick func(T) (int64, string)) {
	build := func(ctx context.Context) (map[int64]string, error) {
		items, err := r.List(ctx)
		if err != nil {
			return nil, err
		}
		names := make(map[int64]string, len(items))
		for _, it := range items {
			id, name := pick(it)
			names[id] = name
		}
		return names, nil
	}
	l.kinds[r.Name()] = func(ctx context.Context) (map[int64]string, error) {
		if l.cache == nil {
			return build(ctx)
		}
		return querycache.Query(ctx, l.cache, querycache.Collection(namesPrefix+r.Name()), build)
	}
}

// Names returns the id to name map of a resource. The map is shared.
func (l *Lookup) Names(ctx context.Context, resource string) (map[int64]string, error) {
	f, ok := l.kinds[resource]
	if !ok {
		return nil, fmt.Errorf("darpio: no names for resource %q", resource)
	}
	return f(ctx)
}

// Name resolves one id, falling back to Unknown.
func (l *Lookup) Name(ctx context.Context, resource string, id int64) (string, error) {
	names, err := l.Names(ctx, resource)
	if err != nil {
		return "", err
	}
	if name, ok := names[id]; ok {
		return name, nil
	}
	return Unknown, nil
}

// Warm loads the maps of several resources in parallel.
func (l *Lookup) Warm(ctx context.Context, resources ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, res := range resources {
		g.Go(func() error {
			_, err := l.Names(ctx, res)
			return err
		})
	}
	return g.Wait()
}
