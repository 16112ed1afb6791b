package darpio

import (
	"errors"
	"time"

	"github.com/taldoflemis/campusdarpio/pacchetto/querycache"
	"github.com/taldoflemis/campusdarpio/pacchetto/retry"
	"github.com/taldoflemis/campusdarpio/pacchetto/transport"
)

type Options struct {
	// Policy defaults to retry.Bounded.
	Policy retry.Policy
	// Cache is optional. Without it every read goes to the backend.
	Cache     *querycache.Cache
	Publisher Publisher
	Now       func() time.Time
}

// Services bundles one resource service per backend resource with the
// report queries and name lookups built on top of them.
type Services struct {
	Clientes     *Resource[Cliente]
	Funcionarios *Resource[Funcionario]
	Entregadores *Resource[Entregador]
	Blocos       *Resource[Bloco]
	Campi        *Resource[Campus]
	Refeicoes    *Resource[Refeicao]
	Bebidas      *Resource[Bebida]
	Cardapios    *Resource[Cardapio]
	Pedidos      *Resource[Pedido]
	Entregas     *Resource[Entrega]

	Reports *Reports
	Lookup  *Lookup
}

func New(client *transport.Client, opts Options) (*Services, error) {
	if client == nil {
		return nil, errors.New("darpio: nil transport client")
	}
	if opts.Policy.Retryable == nil {
		opts.Policy = retry.Bounded()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	d := &deps{
		client: client,
		policy: opts.Policy,
		cache:  opts.Cache,
		pub:    opts.Publisher,
		now:    opts.Now,
	}

	s := &Services{
		Clientes:     newResource(ResourceClientes, d, clienteDefaults),
		Funcionarios: newResource[Funcionario](ResourceFuncionarios, d, nil),
		Entregadores: newResource(ResourceEntregadores, d, entregadorDefaults),
		Blocos:       newResource[Bloco](ResourceBlocos, d, nil),
		Campi:        newResource[Campus](ResourceCampi, d, nil),
		Refeicoes:    newResource[Refeicao](ResourceRefeicoes, d, nil),
		Bebidas:      newResource[Bebida](ResourceBebidas, d, nil),
		Cardapios:    newResource[Cardapio](ResourceCardapios, d, nil),
		Pedidos:      newResource(ResourcePedidos, d, pedidoDefaults),
		Entregas:     newResource(ResourceEntregas, d, entregaDefaults),
	}
	s.Reports = &Reports{d: d}
	s.Lookup = newLookup(s)
	return s, nil
}

func clienteDefaults(c *Cliente, _ time.Time) {
	if c.Status == "" {
		c.Status = StatusClienteDisponivel
	}
}

func entregadorDefaults(e *Entregador, _ time.Time) {
	if e.Status == "" {
		e.Status = StatusEntregadorAtivo
	}
}

func pedidoDefaults(p *Pedido, now time.Time) {
	if p.Status == "" {
		p.Status = StatusPedidoRecebido
	}
	if p.DataHora.IsZero() {
		p.DataHora = NewTimestamp(now)
	}
}

func entregaDefaults(e *Entrega, now time.Time) {
	if e.InicioEntrega.IsZero() {
		e.InicioEntrega = NewTimestamp(now)
	}
}
