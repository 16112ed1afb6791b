package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	healthgo "github.com/hellofresh/health-go/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/taldoflemis/campusdarpio/darpio"
)

var tracer = otel.Tracer("campus-gateway")

type MainHandler struct {
	svc    *darpio.Services
	orders OrderFeed
	health *healthgo.Health
}

func NewMainHandler(e *echo.Echo, settings *Settings, svc *darpio.Services, orders OrderFeed, health *healthgo.Health) *MainHandler {
	logger := slog.Default()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		TargetHeader: echo.HeaderXRequestID,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: settings.HTTP.CORS.Origins,
		AllowMethods: settings.HTTP.CORS.Methods,
		AllowHeaders: settings.HTTP.CORS.Headers,
	}))
	e.Use(otelecho.Middleware(settings.App.Name,
		otelecho.WithMetricAttributeFn(func(r *http.Request) []attribute.KeyValue {
			return []attribute.KeyValue{
				attribute.String("client.ip", r.RemoteAddr),
				attribute.String("user.agent", r.UserAgent()),
			}
		}),
		otelecho.WithEchoMetricAttributeFn(func(c echo.Context) []attribute.KeyValue {
			return []attribute.KeyValue{
				attribute.String("handler.path", c.Path()),
				attribute.String("handler.method", c.Request().Method),
			}
		}),
	))

	h := &MainHandler{
		svc:    svc,
		orders: orders,
		health: health,
	}

	e.GET("/healthz", h.HealthCheck)
	v1 := e.Group(settings.HTTP.Prefix)

	// static routes first so they win over /pedidos/:id
	v1.GET("/pedidos/sse", h.GetLiveOrdersSSE)
	v1.GET("/pedidos/detalhados", h.ListDetailedOrders)
	v1.GET("/nomes/:resource", h.GetNames)

	registerResource(v1, "/clientes", svc.Clientes, nil)
	registerResource(v1, "/funcionarios", svc.Funcionarios, nil)
	registerResource(v1, "/entregadores", svc.Entregadores, nil)
	registerResource(v1, "/blocos", svc.Blocos, nil)
	registerResource(v1, "/campi", svc.Campi, nil)
	registerResource(v1, "/refeicoes", svc.Refeicoes, nil)
	registerResource(v1, "/bebidas", svc.Bebidas, nil)
	registerResource(v1, "/cardapios", svc.Cardapios, nil)
	registerResource(v1, "/pedidos", svc.Pedidos, h.publishOrder)
	registerResource(v1, "/entregas", svc.Entregas, nil)

	reports := v1.Group("/relatorios")
	reports.GET("/bebidas-mais-pedidas", h.MostOrderedDrinks)
	reports.GET("/refeicoes-mais-pedidas", h.MostOrderedMeals)
	reports.GET("/totais-pedidos", h.OrderTotals)
	reports.GET("/totais-entregador", h.DelivererTotals)
	reports.GET("/tempo-medio-entrega", h.AverageDeliveryTime)
	reports.GET("/tipos-refeicoes", h.MealTypes)

	return h
}

func (h *MainHandler) publishOrder(ctx context.Context, pedido darpio.Pedido) {
	if err := h.orders.PubOrder(ctx, pedido); err != nil {
		slog.ErrorContext(ctx, "failed to publish new order", slog.Int64("pedido_id", pedido.ID), slog.Any("err", err))
	}
}

func bindQuery(c echo.Context, dst any) error {
	return (&echo.DefaultBinder{}).BindQueryParams(c, dst)
}

func badQuery(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query parameters"})
}

// MostOrderedDrinks godoc
//
// @Summary Drinks ranked by number of orders
// @Tags relatorios
// @Produce json
// @Param campus_id query int false "Campus"
// @Param bloco_id query int false "Block"
// @Param data query string false "Day (YYYY-MM-DD)"
// @Success 200 {array} darpio.ItemCount
// @Failure 422 {object} ErrorResponse
// @Router /v1/relatorios/bebidas-mais-pedidas [get]
func (h *MainHandler) MostOrderedDrinks(c echo.Context) error {
	var req ItemReportRequest
	if err := bindQuery(c, &req); err != nil {
		return badQuery(c)
	}
	rows, err := h.svc.Reports.BebidasMaisPedidas(c.Request().Context(), darpio.ItemFilter(req))
	return reportJSON(c, rows, err)
}

// MostOrderedMeals godoc
//
// @Summary Meals ranked by number of orders
// @Tags relatorios
// @Produce json
// @Param campus_id query int false "Campus"
// @Param bloco_id query int false "Block"
// @Param data query string false "Day (YYYY-MM-DD)"
// @Success 200 {array} darpio.ItemCount
// @Failure 422 {object} ErrorResponse
// @Router /v1/relatorios/refeicoes-mais-pedidas [get]
func (h *MainHandler) MostOrderedMeals(c echo.Context) error {
	var req ItemReportRequest
	if err := bindQuery(c, &req); err != nil {
		return badQuery(c)
	}
	rows, err := h.svc.Reports.RefeicoesMaisPedidas(c.Request().Context(), darpio.ItemFilter(req))
	return reportJSON(c, rows, err)
}

// OrderTotals godoc
//
// @Summary Number of orders by campus, block, client and day
// @Tags relatorios
// @Produce json
// @Param campus_id query int false "Campus"
// @Param bloco_id query int false "Block"
// @Param cliente_id query int false "Client"
// @Param data query string false "Day (YYYY-MM-DD)"
// @Success 200 {array} darpio.OrderTotal
// @Router /v1/relatorios/totais-pedidos [get]
func (h *MainHandler) OrderTotals(c echo.Context) error {
	var req OrderTotalsRequest
	if err := bindQuery(c, &req); err != nil {
		return badQuery(c)
	}
	rows, err := h.svc.Reports.TotaisPedidos(c.Request().Context(), darpio.OrderTotalsFilter(req))
	return reportJSON(c, rows, err)
}

// DelivererTotals godoc
//
// @Summary Deliveries per deliverer in a date range
// @Tags relatorios
// @Produce json
// @Param entregador_id query int false "Deliverer"
// @Param data_inicio query string true "First day (YYYY-MM-DD)"
// @Param data_fim query string true "Last day (YYYY-MM-DD)"
// @Success 200 {array} darpio.DelivererTotal
// @Failure 422 {object} ErrorResponse
// @Router /v1/relatorios/totais-entregador [get]
func (h *MainHandler) DelivererTotals(c echo.Context) error {
	var req DelivererTotalsRequest
	if err := bindQuery(c, &req); err != nil {
		return badQuery(c)
	}
	rows, err := h.svc.Reports.TotaisEntregador(c.Request().Context(), darpio.DelivererTotalsFilter(req))
	return reportJSON(c, rows, err)
}

// AverageDeliveryTime godoc
//
// @Summary Average delivery time per deliverer
// @Tags relatorios
// @Produce json
// @Param entregador_id query int false "Deliverer"
// @Success 200 {array} darpio.DelivererAverage
// @Router /v1/relatorios/tempo-medio-entrega [get]
func (h *MainHandler) AverageDeliveryTime(c echo.Context) error {
	var req DelivererRequest
	if err := bindQuery(c, &req); err != nil {
		return badQuery(c)
	}
	rows, err := h.svc.Reports.TempoMedioEntrega(c.Request().Context(), darpio.DelivererFilter(req))
	return reportJSON(c, rows, err)
}

// MealTypes godoc
//
// @Summary Orders per meal type for a menu or day
// @Tags relatorios
// @Produce json
// @Param cardapio_id query int false "Menu"
// @Param data query string false "Day (YYYY-MM-DD)"
// @Success 200 {array} darpio.MealTypeCount
// @Router /v1/relatorios/tipos-refeicoes [get]
func (h *MainHandler) MealTypes(c echo.Context) error {
	var req MenuRequest
	if err := bindQuery(c, &req); err != nil {
		return badQuery(c)
	}
	rows, err := h.svc.Reports.TiposRefeicoesCardapio(c.Request().Context(), darpio.MenuFilter(req))
	return reportJSON(c, rows, err)
}

func reportJSON[T any](c echo.Context, rows []T, err error) error {
	if err != nil {
		return writeError(c, err)
	}
	if rows == nil {
		rows = []T{}
	}
	return c.JSON(http.StatusOK, rows)
}

// GetNames godoc
//
// @Summary Id to name map of a resource, for select inputs
// @Tags nomes
// @Produce json
// @Param resource path string true "Resource name, e.g. clientes"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /v1/nomes/{resource} [get]
func (h *MainHandler) GetNames(c echo.Context) error {
	resource := c.Param("resource")
	if _, ok := darpio.Paths[resource]; !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown resource " + resource})
	}
	names, err := h.svc.Lookup.Names(c.Request().Context(), resource)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, names)
}

// ListDetailedOrders godoc
//
// @Summary Orders with every reference resolved to a name
// @Tags pedidos
// @Produce json
// @Success 200 {array} PedidoDetalhado
// @Router /v1/pedidos/detalhados [get]
func (h *MainHandler) ListDetailedOrders(c echo.Context) error {
	ctx := c.Request().Context()

	pedidos, err := h.svc.Pedidos.List(ctx)
	if err != nil {
		return writeError(c, err)
	}
	refs := []string{
		darpio.ResourceClientes, darpio.ResourceCardapios, darpio.ResourceRefeicoes,
		darpio.ResourceBebidas, darpio.ResourceCampi, darpio.ResourceBlocos,
	}
	if err := h.svc.Lookup.Warm(ctx, refs...); err != nil {
		return writeError(c, err)
	}

	names := make(map[string]map[int64]string, len(refs))
	for _, r := range refs {
		m, err := h.svc.Lookup.Names(ctx, r)
		if err != nil {
			return writeError(c, err)
		}
		names[r] = m
	}
	name := func(resource string, id int64) string {
		if n, ok := names[resource][id]; ok {
			return n
		}
		return darpio.Unknown
	}

	out := make([]PedidoDetalhado, 0, len(pedidos))
	for _, p := range pedidos {
		out = append(out, PedidoDetalhado{
			ID:       p.ID,
			Cliente:  name(darpio.ResourceClientes, p.ClienteID),
			Cardapio: name(darpio.ResourceCardapios, p.CardapioID),
			Refeicao: name(darpio.ResourceRefeicoes, p.RefeicaoID),
			Bebida:   name(darpio.ResourceBebidas, p.BebidaID),
			Campus:   name(darpio.ResourceCampi, p.CampusID),
			Bloco:    name(darpio.ResourceBlocos, p.BlocoID),
			DataHora: p.DataHora,
			Status:   p.Status,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// GetLiveOrdersSSE godoc
//
// @Summary Get newly placed orders via Server-Sent Events (SSE)
// @Tags pedidos
// @Produce  text/event-stream
// @Success 200 {object} darpio.Pedido
// @Router /v1/pedidos/sse [get]
func (h *MainHandler) GetLiveOrdersSSE(c echo.Context) error {
	ctx := c.Request().Context()
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		slog.ErrorContext(ctx, "streaming unsupported by response writer")
		return echo.NewHTTPError(http.StatusInternalServerError, "Streaming unsupported")
	}

	ch, err := h.orders.SubLiveOrders(ctx, flusher)
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to live orders", slog.Any("err", err))
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "client closed connection")
			return h.orders.UnsubLiveOrders(context.WithoutCancel(ctx), flusher)
		case pedido := <-ch:
			data, err := json.Marshal(pedido)
			if err != nil {
				slog.ErrorContext(ctx, "marshal order for SSE", slog.Any("err", err))
				continue
			}
			_, err = c.Response().Write([]byte("data: " + string(data) + "\n\n"))
			if err != nil {
				slog.ErrorContext(ctx, "write SSE", slog.Any("err", err))
				_ = h.orders.UnsubLiveOrders(context.WithoutCancel(ctx), flusher)
				return err
			}
			flusher.Flush()
		}
	}
}

// HealthCheck godoc
//
// @Summary Check the health of the service
// @Tags health
// @Produce json
// @Success 200 {object} healthgo.Check
// @Failure 503 {object} healthgo.Check
// @Router /healthz [get]
func (h *MainHandler) HealthCheck(c echo.Context) error {
	check := h.health.Measure(c.Request().Context())

	statusCode := http.StatusOK
	if check.Status != healthgo.StatusOK {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, check)
}
