package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/taldoflemis/campusdarpio/darpio"
)

type orderLine struct {
	ID       int64            `json:"id"`
	Cliente  string           `json:"cliente"`
	Refeicao string           `json:"refeicao"`
	Bebida   string           `json:"bebida"`
	Campus   string           `json:"campus"`
	Bloco    string           `json:"bloco"`
	DataHora darpio.Timestamp `json:"dataHora"`
	Status   string           `json:"status"`
}

// table writes a header and one line per row, columns aligned.
func table[T any](w io.Writer, header string, rows []T, line func(T) string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		fmt.Fprintln(tw, line(r))
	}
	return tw.Flush()
}

func renderItemCounts(w io.Writer, rows []darpio.ItemCount) error {
	return table(w, "NOME\tQUANTIDADE", rows, func(r darpio.ItemCount) string {
		return fmt.Sprintf("%s\t%d", r.Nome, r.Quantidade)
	})
}

func renderOrderTotals(w io.Writer, rows []darpio.OrderTotal) error {
	return table(w, "TOTAL", rows, func(r darpio.OrderTotal) string {
		return fmt.Sprintf("%d", r.Total)
	})
}

func renderDelivererTotals(w io.Writer, rows []darpio.DelivererTotal) error {
	return table(w, "ENTREGADOR\tENTREGAS", rows, func(r darpio.DelivererTotal) string {
		return fmt.Sprintf("%s\t%d", r.NomeEntregador, r.TotalEntregas)
	})
}

func renderDelivererAverages(w io.Writer, rows []darpio.DelivererAverage) error {
	return table(w, "ENTREGADOR\tTEMPO MÉDIO", rows, func(r darpio.DelivererAverage) string {
		return r.NomeEntregador + "\t" + r.TempoMedioEntrega
	})
}

func renderMealTypes(w io.Writer, rows []darpio.MealTypeCount) error {
	return table(w, "TIPO\tQUANTIDADE", rows, func(r darpio.MealTypeCount) string {
		return fmt.Sprintf("%s\t%d", r.TipoRefeicao, r.Quantidade)
	})
}

const orderHeader = "ID\tDATA\tCLIENTE\tREFEIÇÃO\tBEBIDA\tCAMPUS\tBLOCO\tSTATUS"

func orderRow(r orderLine) string {
	when := "-"
	if !r.DataHora.IsZero() {
		when = r.DataHora.Format("02/01/2006 15:04")
	}
	return fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s", r.ID, when, r.Cliente, r.Refeicao, r.Bebida, r.Campus, r.Bloco, r.Status)
}

func renderOrders(w io.Writer, rows []orderLine) error {
	return table(w, orderHeader, rows, orderRow)
}

// orderStream prints orders one at a time under a single header, flushing
// after each so a followed order shows up as soon as it arrives.
type orderStream struct {
	tw      *tabwriter.Writer
	started bool
}

func newOrderStream(w io.Writer) *orderStream {
	return &orderStream{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

func (s *orderStream) write(r orderLine) error {
	if !s.started {
		fmt.Fprintln(s.tw, orderHeader)
		s.started = true
	}
	fmt.Fprintln(s.tw, orderRow(r))
	return s.tw.Flush()
}
