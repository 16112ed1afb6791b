package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/taldoflemis/campusdarpio/darpio"
	"github.com/taldoflemis/campusdarpio/pacchetto/telemetry"
)

var (
	tracer = otel.Tracer("relatorio")
	meter  = otel.Meter("relatorio")
)

var ErrNoNats = errors.New("following live orders needs nats.enabled")

type cli struct {
	svc      *darpio.Services
	nc       *nats.Conn
	subject  string
	duration metric.Float64Histogram

	asJSON bool
}

func newCLI(svc *darpio.Services, nc *nats.Conn, subject string) (*cli, error) {
	duration, err := meter.Float64Histogram(
		"relatorio.report.duration",
		metric.WithDescription("Time taken to fetch a report from the backend"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &cli{svc: svc, nc: nc, subject: subject, duration: duration}, nil
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:          "relatorio",
		Short:        "Print the Campusdarpio reports as tables",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print rows as JSON instead of a table")

	root.AddCommand(
		c.itemsCmd("bebidas", "Drinks ranked by number of orders", c.svc.Reports.BebidasMaisPedidas),
		c.itemsCmd("refeicoes", "Meals ranked by number of orders", c.svc.Reports.RefeicoesMaisPedidas),
		c.orderTotalsCmd(),
		c.delivererTotalsCmd(),
		c.averageCmd(),
		c.mealTypesCmd(),
		c.ordersCmd(),
	)
	return root
}

// report times fetch and prints its rows.
func report[T any](c *cli, cmd *cobra.Command, name string, fetch func(context.Context) ([]T, error), render func(io.Writer, []T) error) error {
	ctx, span := tracer.Start(cmd.Context(), "relatorio."+name)
	defer span.End()

	start := time.Now()
	rows, err := fetch(ctx)
	c.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("report", name),
		attribute.Bool("error", err != nil),
	))
	if err != nil {
		span.RecordError(err)
		return err
	}
	slog.DebugContext(ctx, "report fetched", slog.String("report", name), slog.Int("rows", len(rows)))

	if c.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []T{}
		}
		return enc.Encode(rows)
	}
	return render(cmd.OutOrStdout(), rows)
}

func (c *cli) itemsCmd(use, short string, fetch func(context.Context, darpio.ItemFilter) ([]darpio.ItemCount, error)) *cobra.Command {
	var f darpio.ItemFilter
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(c, cmd, use, func(ctx context.Context) ([]darpio.ItemCount, error) {
				return fetch(ctx, f)
			}, renderItemCounts)
		},
	}
	cmd.Flags().Int64Var(&f.CampusID, "campus", 0, "campus id")
	cmd.Flags().Int64Var(&f.BlocoID, "bloco", 0, "block id")
	cmd.Flags().StringVar(&f.Data, "data", "", "day (YYYY-MM-DD)")
	return cmd
}

func (c *cli) orderTotalsCmd() *cobra.Command {
	var f darpio.OrderTotalsFilter
	cmd := &cobra.Command{
		Use:   "totais-pedidos",
		Short: "Number of orders by campus, block, client and day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(c, cmd, "totais-pedidos", func(ctx context.Context) ([]darpio.OrderTotal, error) {
				return c.svc.Reports.TotaisPedidos(ctx, f)
			}, renderOrderTotals)
		},
	}
	cmd.Flags().Int64Var(&f.CampusID, "campus", 0, "campus id")
	cmd.Flags().Int64Var(&f.BlocoID, "bloco", 0, "block id")
	cmd.Flags().Int64Var(&f.ClienteID, "cliente", 0, "client id")
	cmd.Flags().StringVar(&f.Data, "data", "", "day (YYYY-MM-DD)")
	return cmd
}

func (c *cli) delivererTotalsCmd() *cobra.Command {
	var f darpio.DelivererTotalsFilter
	cmd := &cobra.Command{
		Use:   "totais-entregador",
		Short: "Deliveries per deliverer in a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(c, cmd, "totais-entregador", func(ctx context.Context) ([]darpio.DelivererTotal, error) {
				return c.svc.Reports.TotaisEntregador(ctx, f)
			}, renderDelivererTotals)
		},
	}
	cmd.Flags().Int64Var(&f.EntregadorID, "entregador", 0, "deliverer id")
	cmd.Flags().StringVar(&f.DataInicio, "inicio", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.DataFim, "fim", "", "last day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("inicio")
	_ = cmd.MarkFlagRequired("fim")
	return cmd
}

func (c *cli) averageCmd() *cobra.Command {
	var f darpio.DelivererFilter
	cmd := &cobra.Command{
		Use:   "tempo-medio",
		Short: "Average delivery time per deliverer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(c, cmd, "tempo-medio", func(ctx context.Context) ([]darpio.DelivererAverage, error) {
				return c.svc.Reports.TempoMedioEntrega(ctx, f)
			}, renderDelivererAverages)
		},
	}
	cmd.Flags().Int64Var(&f.EntregadorID, "entregador", 0, "deliverer id")
	return cmd
}

func (c *cli) mealTypesCmd() *cobra.Command {
	var f darpio.MenuFilter
	cmd := &cobra.Command{
		Use:   "tipos-refeicoes",
		Short: "Orders per meal type for a menu or day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(c, cmd, "tipos-refeicoes", func(ctx context.Context) ([]darpio.MealTypeCount, error) {
				return c.svc.Reports.TiposRefeicoesCardapio(ctx, f)
			}, renderMealTypes)
		},
	}
	cmd.Flags().Int64Var(&f.CardapioID, "cardapio", 0, "menu id")
	cmd.Flags().StringVar(&f.Data, "data", "", "day (YYYY-MM-DD)")
	return cmd
}

func (c *cli) ordersCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "pedidos",
		Short: "List orders with their references resolved to names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if follow {
				return c.followOrders(cmd)
			}
			return report(c, cmd, "pedidos", c.ordersWithNames, renderOrders)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing orders as they are placed")
	return cmd
}

func (c *cli) ordersWithNames(ctx context.Context) ([]orderLine, error) {
	pedidos, err := c.svc.Pedidos.List(ctx)
	if err != nil {
		return nil, err
	}
	refs := []string{darpio.ResourceClientes, darpio.ResourceRefeicoes, darpio.ResourceBebidas, darpio.ResourceCampi, darpio.ResourceBlocos}
	if err := c.svc.Lookup.Warm(ctx, refs...); err != nil {
		return nil, err
	}

	lines := make([]orderLine, 0, len(pedidos))
	for _, p := range pedidos {
		line, err := c.orderLine(ctx, p)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (c *cli) orderLine(ctx context.Context, p darpio.Pedido) (orderLine, error) {
	line := orderLine{ID: p.ID, DataHora: p.DataHora, Status: p.Status}
	fields := []struct {
		resource string
		id       int64
		dst      *string
	}{
		{darpio.ResourceClientes, p.ClienteID, &line.Cliente},
		{darpio.ResourceRefeicoes, p.RefeicaoID, &line.Refeicao},
		{darpio.ResourceBebidas, p.BebidaID, &line.Bebida},
		{darpio.ResourceCampi, p.CampusID, &line.Campus},
		{darpio.ResourceBlocos, p.BlocoID, &line.Bloco},
	}
	for _, f := range fields {
		name, err := c.svc.Lookup.Name(ctx, f.resource, f.id)
		if err != nil {
			return orderLine{}, err
		}
		*f.dst = name
	}
	return line, nil
}

// followOrders prints the orders the gateways announce until the command is
// interrupted.
func (c *cli) followOrders(cmd *cobra.Command) error {
	if c.nc == nil {
		return ErrNoNats
	}
	ctx := cmd.Context()

	ch := make(chan *nats.Msg, 64)
	sub, err := c.nc.ChanSubscribe(c.subject+".pedidos", ch)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.WarnContext(ctx, "failed to unsubscribe from live orders", slog.Any("err", err))
		}
	}()

	out := cmd.OutOrStdout()
	stream := newOrderStream(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			msgCtx := telemetry.GetContextFromNatsMsg(ctx, msg)
			var p darpio.Pedido
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				slog.WarnContext(msgCtx, "skipping malformed order event", slog.Any("err", err))
				continue
			}
			line, err := c.orderLine(msgCtx, p)
			if err != nil {
				return err
			}
			if c.asJSON {
				if err := json.NewEncoder(out).Encode(line); err != nil {
					return err
				}
				continue
			}
			if err := stream.write(line); err != nil {
				return err
			}
		}
	}
}
