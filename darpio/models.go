// Package darpio is the data access layer of Campusdarpio: entity records,
// one resilient resource service per backend resource, report queries and
// id to name lookups.
package darpio

// Cliente is a customer placing orders.
type Cliente struct {
	ID       int64  `json:"id,omitempty"`
	Nome     string `json:"nome" validate:"notblank"`
	CPF      string `json:"cpf" validate:"notblank"`
	Telefone string `json:"telefone" validate:"notblank"`
	Endereco string `json:"endereco" validate:"notblank"`
	Status   string `json:"status"`
}

type Funcionario struct {
	ID       int64  `json:"id,omitempty"`
	Nome     string `json:"nome" validate:"notblank"`
	CPF      string `json:"cpf" validate:"notblank"`
	Cargo    string `json:"cargo" validate:"notblank"`
	Telefone string `json:"telefone" validate:"notblank"`
	Endereco string `json:"endereco" validate:"notblank"`
}

type Entregador struct {
	ID       int64  `json:"id,omitempty"`
	Nome     string `json:"nome" validate:"notblank"`
	CPF      string `json:"cpf" validate:"notblank"`
	CNH      string `json:"cnh" validate:"notblank"`
	Veiculo  string `json:"veiculo" validate:"notblank"`
	Telefone string `json:"telefone" validate:"notblank"`
	Endereco string `json:"endereco" validate:"notblank"`
	Status   string `json:"status"`
}

type Campus struct {
	ID               int64  `json:"id,omitempty"`
	Nome             string `json:"nome" validate:"notblank"`
	Endereco         string `json:"endereco" validate:"notblank"`
	QuantidadeBlocos int    `json:"quantidadeBlocos" validate:"gt=0"`
}

// Bloco is a building of a campus where orders are delivered.
type Bloco struct {
	ID         int64  `json:"id,omitempty"`
	Nome       string `json:"nome" validate:"notblank"`
	Tipo       string `json:"tipo" validate:"notblank"`
	Capacidade int    `json:"capacidade" validate:"required,gt=0"`
	Descricao  string `json:"descricao" validate:"notblank"`
	CampusID   int64  `json:"campusId" validate:"required,gt=0"`
}

type Refeicao struct {
	ID         int64  `json:"id,omitempty"`
	Nome       string `json:"nome" validate:"notblank"`
	Descricao  string `json:"descricao" validate:"notblank"`
	Tipo       string `json:"tipo" validate:"notblank"`
	Preco      Price  `json:"preco" validate:"gt=0"`
	Quantidade int    `json:"quantidade" validate:"gte=0"`
}

type Bebida struct {
	ID         int64  `json:"id,omitempty"`
	Nome       string `json:"nome" validate:"notblank"`
	Tipo       string `json:"tipo" validate:"notblank"`
	Preco      Price  `json:"preco" validate:"gt=0"`
	Quantidade int    `json:"quantidade" validate:"gte=0"`
}

// ItemRef is how the backend embeds meals and drinks in a menu it returns.
type ItemRef struct {
	ID   int64  `json:"id"`
	Nome string `json:"nome"`
}

// Cardapio is the menu of a day. Writes carry RefeicaoIDs and BebidaIDs,
// reads come back with Refeicoes and Bebidas resolved. A menu offers at
// least one meal or drink.
type Cardapio struct {
	ID          int64     `json:"id,omitempty"`
	Data        string    `json:"data" validate:"required,datetime=2006-01-02"`
	Descricao   string    `json:"descricao"`
	RefeicaoIDs []int64   `json:"refeicaoIds,omitempty" validate:"omitempty,dive,gt=0"`
	BebidaIDs   []int64   `json:"bebidaIds,omitempty" validate:"omitempty,dive,gt=0"`
	Refeicoes   []ItemRef `json:"refeicoes,omitempty"`
	Bebidas     []ItemRef `json:"bebidas,omitempty"`
}

const (
	StatusClienteDisponivel = "disponível"
	StatusEntregadorAtivo   = "ativo"
	StatusPedidoRecebido    = "Recebido"
)

type Pedido struct {
	ID         int64     `json:"id,omitempty"`
	ClienteID  int64     `json:"clienteId" validate:"required,gt=0"`
	CardapioID int64     `json:"cardapioId" validate:"required,gt=0"`
	RefeicaoID int64     `json:"refeicaoId" validate:"required,gt=0"`
	BebidaID   int64     `json:"bebidaId" validate:"required,gt=0"`
	CampusID   int64     `json:"campusId" validate:"required,gt=0"`
	BlocoID    int64     `json:"blocoId" validate:"required,gt=0"`
	DataHora   Timestamp `json:"dataHora"`
	Status     string    `json:"status"`
}

type Entrega struct {
	ID            int64      `json:"id,omitempty"`
	PedidoID      int64      `json:"pedidoId" validate:"required,gt=0"`
	EntregadorID  int64      `json:"entregadorId" validate:"required,gt=0"`
	InicioEntrega Timestamp  `json:"inicio_entrega"`
	FimEntrega    *Timestamp `json:"fim_entrega" validate:"required"`
}
