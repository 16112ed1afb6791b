package darpio

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/taldoflemis/campusdarpio/pacchetto/retry"
)

// Report endpoints. Every filter travels as a named query parameter and an
// unset filter is left out of the query.
const (
	PathBebidasMaisPedidas     = "/Bebida/BebidasMaisPedidas"
	PathRefeicoesMaisPedidas   = "/Refeicao/RefeicoesMaisPedidas"
	PathTotaisPedidos          = "/Pedido/TotaisCampusBlocoClienteData"
	PathTotaisEntregador       = "/Entrega/TotaisEntregadorData"
	PathTempoMedioEntrega      = "/Entrega/TempoMedioEntregaPorEntregador"
	PathTiposRefeicoesCardapio = "/Cardapio/TiposRefeicoesCardapioData"
)

type ItemFilter struct {
	CampusID int64  `json:"campus_id" validate:"gte=0"`
	BlocoID  int64  `json:"bloco_id" validate:"gte=0"`
	Data     string `json:"data" validate:"omitempty,datetime=2006-01-02"`
}

func (f ItemFilter) Query() url.Values {
	q := url.Values{}
	setID(q, "campus_id", f.CampusID)
	setID(q, "bloco_id", f.BlocoID)
	setString(q, "data", f.Data)
	return q
}

type OrderTotalsFilter struct {
	CampusID  int64  `json:"campus_id" validate:"gte=0"`
	BlocoID   int64  `json:"bloco_id" validate:"gte=0"`
	ClienteID int64  `json:"cliente_id" validate:"gte=0"`
	Data      string `json:"data" validate:"omitempty,datetime=2006-01-02"`
}

func (f OrderTotalsFilter) Query() url.Values {
	q := url.Values{}
	setID(q, "campus_id", f.CampusID)
	setID(q, "bloco_id", f.BlocoID)
	setID(q, "cliente_id", f.ClienteID)
	setString(q, "data", f.Data)
	return q
}

// DelivererTotalsFilter needs both ends of the date range.
type DelivererTotalsFilter struct {
	EntregadorID int64  `json:"entregador_Id" validate:"gte=0"`
	DataInicio   string `json:"dataInicio" validate:"required,datetime=2006-01-02"`
	DataFim      string `json:"dataFim" validate:"required,datetime=2006-01-02"`
}

func (f DelivererTotalsFilter) Query() url.Values {
	q := url.Values{}
	setID(q, "entregador_Id", f.EntregadorID)
	setString(q, "dataInicio", f.DataInicio)
	setString(q, "dataFim", f.DataFim)
	return q
}

type DelivererFilter struct {
	EntregadorID int64 `json:"entregador_id" validate:"gte=0"`
}

func (f DelivererFilter) Query() url.Values {
	q := url.Values{}
	setID(q, "entregador_id", f.EntregadorID)
	return q
}

type MenuFilter struct {
	CardapioID int64  `json:"cardapio_id" validate:"gte=0"`
	Data       string `json:"data" validate:"omitempty,datetime=2006-01-02"`
}

func (f MenuFilter) Query() url.Values {
	q := url.Values{}
	setID(q, "cardapio_id", f.CardapioID)
	setString(q, "data", f.Data)
	return q
}

func setID(q url.Values, name string, id int64) {
	if id > 0 {
		q.Set(name, strconv.FormatInt(id, 10))
	}
}

func setString(q url.Values, name, v string) {
	if v != "" {
		q.Set(name, v)
	}
}

type ItemCount struct {
	Nome       string `json:"nome"`
	Quantidade int    `json:"quantidade"`
}

type OrderTotal struct {
	Total int `json:"total"`
}

type DelivererTotal struct {
	NomeEntregador string `json:"nomeEntregador"`
	TotalEntregas  int    `json:"totalEntregas"`
}

type DelivererAverage struct {
	NomeEntregador    string `json:"nomeEntregador"`
	TempoMedioEntrega string `json:"tempoMedioEntrega"`
}

type MealTypeCount struct {
	TipoRefeicao string `json:"tipoRefeicao"`
	Quantidade   int    `json:"quantidade"`
}

// Rows decodes a report body that is either an array or a single object.
type Rows[T any] []T

func (r *Rows[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*r = nil
		return nil
	case data[0] == '{':
		var one T
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*r = Rows[T]{one}
		return nil
	}
	var many []T
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

// Reports runs the read only aggregate queries. Results are not cached.
type Reports struct {
	d *deps
}

func runReport[T any](ctx context.Context, r *Reports, path string, filter interface{ Query() url.Values }) (_ []T, err error) {
	ctx, span := tracer.Start(ctx, "Reports"+path)
	defer func() { endSpan(span, err) }()

	if err := validatePayload("filtro", filter); err != nil {
		return nil, err
	}
	q := filter.Query()
	span.SetAttributes(attribute.String("darpio.report.query", q.Encode()))

	rows, err := retry.Do(ctx, "report "+path, r.d.policy, func(ctx context.Context) (Rows[T], error) {
		var out Rows[T]
		err := r.d.client.Get(ctx, path, q, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return []T(rows), nil
}

func (r *Reports) BebidasMaisPedidas(ctx context.Context, f ItemFilter) ([]ItemCount, error) {
	return runReport[ItemCount](ctx, r, PathBebidasMaisPedidas, f)
}

func (r *Reports) RefeicoesMaisPedidas(ctx context.Context, f ItemFilter) ([]ItemCount, error) {
	return runReport[ItemCount](ctx, r, PathRefeicoesMaisPedidas, f)
}

func (r *Reports) TotaisPedidos(ctx context.Context, f OrderTotalsFilter) ([]OrderTotal, error) {
	return runReport[OrderTotal](ctx, r, PathTotaisPedidos, f)
}

func (r *Reports) TotaisEntregador(ctx context.Context, f DelivererTotalsFilter) ([]DelivererTotal, error) {
	return runReport[DelivererTotal](ctx, r, PathTotaisEntregador, f)
}

func (r *Reports) TempoMedioEntrega(ctx context.Context, f DelivererFilter) ([]DelivererAverage, error) {
	return runReport[DelivererAverage](ctx, r, PathTempoMedioEntrega, f)
}

func (r *Reports) TiposRefeicoesCardapio(ctx context.Context, f MenuFilter) ([]MealTypeCount, error) {
	return runReport[MealTypeCount](ctx, r, PathTiposRefeicoesCardapio, f)
}
