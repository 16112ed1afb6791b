package darpiotest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/taldoflemis/campusdarpio/darpio"
)

func queryID(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryDate(c echo.Context, name string) (string, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse(time.DateOnly, raw); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return raw, nil
}

type orderFilter struct {
	campusID, blocoID, clienteID, cardapioID int64
	data                                     string
}

func (f orderFilter) match(p darpio.Pedido) bool {
	switch {
	case f.campusID != 0 && p.CampusID != f.campusID:
		return false
	case f.blocoID != 0 && p.BlocoID != f.blocoID:
		return false
	case f.clienteID != 0 && p.ClienteID != f.clienteID:
		return false
	case f.cardapioID != 0 && p.CardapioID != f.cardapioID:
		return false
	case f.data != "" && p.DataHora.Date() != f.data:
		return false
	}
	return true
}

func parseOrderFilter(c echo.Context, ids ...string) (orderFilter, error) {
	var f orderFilter
	targets := map[string]*int64{
		"campus_id":   &f.campusID,
		"bloco_id":    &f.blocoID,
		"cliente_id":  &f.clienteID,
		"cardapio_id": &f.cardapioID,
	}
	for _, name := range ids {
		id, err := queryID(c, name)
		if err != nil {
			return f, err
		}
		*targets[name] = id
	}
	data, err := queryDate(c, "data")
	if err != nil {
		return f, err
	}
	f.data = data
	return f, nil
}

func (s *Server) pedidos(f orderFilter) ([]darpio.Pedido, error) {
	all, err := decodeAll[darpio.Pedido](s.tables["Pedido"])
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if f.match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Server) mostOrdered(ref, tableName string) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := parseOrderFilter(c, "campus_id", "bloco_id")
		if err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		pedidos, err := s.pedidos(f)
		if err != nil {
			return err
		}
		counts := map[int64]int{}
		for _, p := range pedidos {
			id := p.BebidaID
			if ref == "refeicaoId" {
				id = p.RefeicaoID
			}
			counts[id]++
		}
		rows := make([]darpio.ItemCount, 0, len(counts))
		for id, n := range counts {
			rows = append(rows, darpio.ItemCount{Nome: s.nameOf(tableName, id), Quantidade: n})
		}
		sortCounts(rows, func(r darpio.ItemCount) int { return r.Quantidade }, func(r darpio.ItemCount) string { return r.Nome })
		return c.JSON(http.StatusOK, rows)
	}
}

// orderTotals answers with a single object, as the real endpoint does.
func (s *Server) orderTotals(c echo.Context) error {
	f, err := parseOrderFilter(c, "campus_id", "bloco_id", "cliente_id")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pedidos, err := s.pedidos(f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, darpio.OrderTotal{Total: len(pedidos)})
}

func (s *Server) mealTypes(c echo.Context) error {
	f, err := parseOrderFilter(c, "cardapio_id")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pedidos, err := s.pedidos(f)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, p := range pedidos {
		rec, ok := s.tables["Refeicao"].rows[p.RefeicaoID]
		tipo, _ := rec["tipo"].(string)
		if !ok || tipo == "" {
			tipo = darpio.Unknown
		}
		counts[tipo]++
	}
	rows := make([]darpio.MealTypeCount, 0, len(counts))
	for tipo, n := range counts {
		rows = append(rows, darpio.MealTypeCount{TipoRefeicao: tipo, Quantidade: n})
	}
	sortCounts(rows, func(r darpio.MealTypeCount) int { return r.Quantidade }, func(r darpio.MealTypeCount) string { return r.TipoRefeicao })
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) entregas(entregadorID int64, keep func(darpio.Entrega) bool) ([]darpio.Entrega, error) {
	all, err := decodeAll[darpio.Entrega](s.tables["Entrega"])
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if entregadorID != 0 && e.EntregadorID != entregadorID {
			continue
		}
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Server) delivererTotals(c echo.Context) error {
	id, err := queryID(c, "entregador_Id")
	if err != nil {
		return err
	}
	inicio, err := queryDate(c, "dataInicio")
	if err != nil {
		return err
	}
	fim, err := queryDate(c, "dataFim")
	if err != nil {
		return err
	}
	if inicio == "" || fim == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "dataInicio and dataFim are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entregas, err := s.entregas(id, func(e darpio.Entrega) bool {
		d := e.InicioEntrega.Date()
		return d >= inicio && d <= fim
	})
	if err != nil {
		return err
	}
	counts := map[int64]int{}
	for _, e := range entregas {
		counts[e.EntregadorID]++
	}
	rows := make([]darpio.DelivererTotal, 0, len(counts))
	for eid, n := range counts {
		rows = append(rows, darpio.DelivererTotal{NomeEntregador: s.nameOf("Entregador", eid), TotalEntregas: n})
	}
	sortCounts(rows, func(r darpio.DelivererTotal) int { return r.TotalEntregas }, func(r darpio.DelivererTotal) string { return r.NomeEntregador })
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) delivererAverage(c echo.Context) error {
	id, err := queryID(c, "entregador_id")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entregas, err := s.entregas(id, func(e darpio.Entrega) bool {
		return e.FimEntrega != nil && !e.FimEntrega.IsZero()
	})
	if err != nil {
		return err
	}
	sums := map[int64]time.Duration{}
	counts := map[int64]int{}
	for _, e := range entregas {
		sums[e.EntregadorID] += e.FimEntrega.Sub(e.InicioEntrega.Time)
		counts[e.EntregadorID]++
	}
	rows := make([]darpio.DelivererAverage, 0, len(sums))
	for eid, sum := range sums {
		rows = append(rows, darpio.DelivererAverage{
			NomeEntregador:    s.nameOf("Entregador", eid),
			TempoMedioEntrega: formatDuration(sum / time.Duration(counts[eid])),
		})
	}
	sortCounts(rows, func(darpio.DelivererAverage) int { return 0 }, func(r darpio.DelivererAverage) string { return r.NomeEntregador })
	return c.JSON(http.StatusOK, rows)
}

// formatDuration renders d as hh:mm:ss.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}
