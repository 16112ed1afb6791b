package darpio_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taldoflemis/campusdarpio/darpio"
)

type reportFixture struct {
	stack
	suco, cafe       int64
	feijoada, salada int64
	caio, bia        int64
}

func seedReports(t *testing.T) reportFixture {
	t.Helper()
	f := reportFixture{stack: newStack(t, fastPolicy())}

	bebidas := f.srv.Seed(darpio.ResourceBebidas,
		darpio.Bebida{Nome: "Suco", Tipo: "Natural", Preco: 650},
		darpio.Bebida{Nome: "Café", Tipo: "Quente", Preco: 300},
	)
	f.suco, f.cafe = bebidas[0], bebidas[1]
	refeicoes := f.srv.Seed(darpio.ResourceRefeicoes,
		darpio.Refeicao{Nome: "Feijoada", Descricao: "x", Tipo: "Almoço", Preco: 2500},
		darpio.Refeicao{Nome: "Salada", Descricao: "y", Tipo: "Lanche", Preco: 1500},
	)
	f.feijoada, f.salada = refeicoes[0], refeicoes[1]

	day1 := darpio.NewTimestamp(time.Date(2024, 5, 10, 11, 0, 0, 0, time.UTC))
	day2 := darpio.NewTimestamp(time.Date(2024, 5, 11, 11, 0, 0, 0, time.UTC))
	pedidos := f.srv.Seed(darpio.ResourcePedidos,
		darpio.Pedido{ClienteID: 1, CardapioID: 1, RefeicaoID: f.feijoada, BebidaID: f.suco, CampusID: 1, BlocoID: 1, DataHora: day1},
		darpio.Pedido{ClienteID: 2, CardapioID: 1, RefeicaoID: f.feijoada, BebidaID: f.suco, CampusID: 1, BlocoID: 2, DataHora: day1},
		darpio.Pedido{ClienteID: 2, CardapioID: 2, RefeicaoID: f.salada, BebidaID: f.cafe, CampusID: 2, BlocoID: 3, DataHora: day2},
	)

	entregadores := f.srv.Seed(darpio.ResourceEntregadores,
		darpio.Entregador{Nome: "Caio"},
		darpio.Entregador{Nome: "Bia"},
	)
	f.caio, f.bia = entregadores[0], entregadores[1]
	end := func(ts darpio.Timestamp, d time.Duration) *darpio.Timestamp {
		e := darpio.NewTimestamp(ts.Add(d))
		return &e
	}
	f.srv.Seed(darpio.ResourceEntregas,
		darpio.Entrega{PedidoID: pedidos[0], EntregadorID: f.caio, InicioEntrega: day1, FimEntrega: end(day1, 20*time.Minute)},
		darpio.Entrega{PedidoID: pedidos[1], EntregadorID: f.caio, InicioEntrega: day1, FimEntrega: end(day1, 40*time.Minute)},
		darpio.Entrega{PedidoID: pedidos[2], EntregadorID: f.bia, InicioEntrega: day2, FimEntrega: end(day2, 15*time.Minute)},
	)
	return f
}

func TestFilterQueryOmitsUnsetFields(t *testing.T) {
	tests := []struct {
		name   string
		filter interface{ Query() url.Values }
		want   string
	}{
		{"empty item filter", darpio.ItemFilter{}, ""},
		{"campus only", darpio.ItemFilter{CampusID: 1}, "campus_id=1"},
		{"item filter full", darpio.ItemFilter{CampusID: 1, BlocoID: 2, Data: "2024-05-10"}, "bloco_id=2&campus_id=1&data=2024-05-10"},
		{"order totals client", darpio.OrderTotalsFilter{ClienteID: 7}, "cliente_id=7"},
		{"deliverer range", darpio.DelivererTotalsFilter{DataInicio: "2024-05-01", DataFim: "2024-05-31"}, "dataFim=2024-05-31&dataInicio=2024-05-01"},
		{"deliverer average empty", darpio.DelivererFilter{}, ""},
		{"menu", darpio.MenuFilter{CardapioID: 3}, "cardapio_id=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Query().Encode())
		})
	}
}

func TestMostOrderedDrinks(t *testing.T) {
	// Arrange
	f := seedReports(t)
	ctx := context.Background()

	// Act
	all, err := f.svc.Reports.BebidasMaisPedidas(ctx, darpio.ItemFilter{})
	require.NoError(t, err)
	campus2, err := f.svc.Reports.BebidasMaisPedidas(ctx, darpio.ItemFilter{CampusID: 2})
	require.NoError(t, err)

	// Assert
	assert.Equal(t, []darpio.ItemCount{{Nome: "Suco", Quantidade: 2}, {Nome: "Café", Quantidade: 1}}, all)
	assert.Equal(t, []darpio.ItemCount{{Nome: "Café", Quantidade: 1}}, campus2)
}

func TestMostOrderedMealsByDay(t *testing.T) {
	f := seedReports(t)

	rows, err := f.svc.Reports.RefeicoesMaisPedidas(context.Background(), darpio.ItemFilter{Data: "2024-05-10"})

	require.NoError(t, err)
	assert.Equal(t, []darpio.ItemCount{{Nome: "Feijoada", Quantidade: 2}}, rows)
}

func TestOrderTotals(t *testing.T) {
	tests := []struct {
		name   string
		filter darpio.OrderTotalsFilter
		want   int
	}{
		{"unfiltered", darpio.OrderTotalsFilter{}, 3},
		{"campus", darpio.OrderTotalsFilter{CampusID: 1}, 2},
		{"campus and block", darpio.OrderTotalsFilter{CampusID: 1, BlocoID: 2}, 1},
		{"client", darpio.OrderTotalsFilter{ClienteID: 2}, 2},
		{"date", darpio.OrderTotalsFilter{Data: "2024-05-11"}, 1},
		{"no match", darpio.OrderTotalsFilter{CampusID: 9}, 0},
	}

	f := seedReports(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			rows, err := f.svc.Reports.TotaisPedidos(context.Background(), tt.filter)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, []darpio.OrderTotal{{Total: tt.want}}, rows)
		})
	}
}

func TestDelivererTotals(t *testing.T) {
	// Arrange
	f := seedReports(t)
	ctx := context.Background()

	// Act
	all, err := f.svc.Reports.TotaisEntregador(ctx, darpio.DelivererTotalsFilter{DataInicio: "2024-05-01", DataFim: "2024-05-31"})
	require.NoError(t, err)
	firstDay, err := f.svc.Reports.TotaisEntregador(ctx, darpio.DelivererTotalsFilter{DataInicio: "2024-05-10", DataFim: "2024-05-10"})
	require.NoError(t, err)
	bia, err := f.svc.Reports.TotaisEntregador(ctx, darpio.DelivererTotalsFilter{EntregadorID: f.bia, DataInicio: "2024-05-01", DataFim: "2024-05-31"})
	require.NoError(t, err)

	// Assert
	assert.Equal(t, []darpio.DelivererTotal{{NomeEntregador: "Caio", TotalEntregas: 2}, {NomeEntregador: "Bia", TotalEntregas: 1}}, all)
	assert.Equal(t, []darpio.DelivererTotal{{NomeEntregador: "Caio", TotalEntregas: 2}}, firstDay)
	assert.Equal(t, []darpio.DelivererTotal{{NomeEntregador: "Bia", TotalEntregas: 1}}, bia)
}

func TestDelivererTotalsRequiresBothDates(t *testing.T) {
	// Arrange
	f := seedReports(t)

	// Act
	_, err := f.svc.Reports.TotaisEntregador(context.Background(), darpio.DelivererTotalsFilter{DataInicio: "2024-05-01"})

	// Assert
	var verr *darpio.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []darpio.FieldError{{Field: "dataFim", Rule: "required"}}, verr.Fields)
	assert.Zero(t, f.srv.Requests(http.MethodGet, darpio.PathTotaisEntregador))
}

func TestAverageDeliveryTime(t *testing.T) {
	// Arrange
	f := seedReports(t)
	ctx := context.Background()

	// Act
	all, err := f.svc.Reports.TempoMedioEntrega(ctx, darpio.DelivererFilter{})
	require.NoError(t, err)
	caio, err := f.svc.Reports.TempoMedioEntrega(ctx, darpio.DelivererFilter{EntregadorID: f.caio})
	require.NoError(t, err)

	// Assert
	assert.Equal(t, []darpio.DelivererAverage{
		{NomeEntregador: "Bia", TempoMedioEntrega: "00:15:00"},
		{NomeEntregador: "Caio", TempoMedioEntrega: "00:30:00"},
	}, all)
	assert.Equal(t, []darpio.DelivererAverage{{NomeEntregador: "Caio", TempoMedioEntrega: "00:30:00"}}, caio)
}

func TestMealTypesPerMenu(t *testing.T) {
	f := seedReports(t)

	rows, err := f.svc.Reports.TiposRefeicoesCardapio(context.Background(), darpio.MenuFilter{CardapioID: 1})

	require.NoError(t, err)
	assert.Equal(t, []darpio.MealTypeCount{{TipoRefeicao: "Almoço", Quantidade: 2}}, rows)
}

func TestReportRejectsMalformedDate(t *testing.T) {
	f := seedReports(t)

	_, err := f.svc.Reports.BebidasMaisPedidas(context.Background(), darpio.ItemFilter{Data: "10/05/2024"})

	var verr *darpio.ValidationError
	assert.ErrorAs(t, err, &verr)
}
