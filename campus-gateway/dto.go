package main

import (
	"github.com/taldoflemis/campusdarpio/darpio"
)

type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields []darpio.FieldError `json:"fields,omitempty"`
}

type ItemReportRequest struct {
	CampusID int64  `query:"campus_id"`
	BlocoID  int64  `query:"bloco_id"`
	Data     string `query:"data"`
}

type OrderTotalsRequest struct {
	CampusID  int64  `query:"campus_id"`
	BlocoID   int64  `query:"bloco_id"`
	ClienteID int64  `query:"cliente_id"`
	Data      string `query:"data"`
}

type DelivererTotalsRequest struct {
	EntregadorID int64  `query:"entregador_id"`
	DataInicio   string `query:"data_inicio"`
	DataFim      string `query:"data_fim"`
}

type DelivererRequest struct {
	EntregadorID int64 `query:"entregador_id"`
}

type MenuRequest struct {
	CardapioID int64  `query:"cardapio_id"`
	Data       string `query:"data"`
}

// PedidoDetalhado is an order with its references resolved to names, as the
// order listing shows it.
type PedidoDetalhado struct {
	ID       int64            `json:"id"`
	Cliente  string           `json:"cliente"`
	Cardapio string           `json:"cardapio"`
	Refeicao string           `json:"refeicao"`
	Bebida   string           `json:"bebida"`
	Campus   string           `json:"campus"`
	Bloco    string           `json:"bloco"`
	DataHora darpio.Timestamp `json:"dataHora"`
	Status   string           `json:"status"`
}
