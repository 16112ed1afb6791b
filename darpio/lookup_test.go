package darpio_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taldoflemis/campusdarpio/darpio"
)

func TestLookupResolvesNamesFromOneFetch(t *testing.T) {
	// Arrange
	s := newStack(t, fastPolicy())
	ids := s.srv.Seed(darpio.ResourceClientes, ana(), darpio.Cliente{Nome: "Bia"})
	ctx := context.Background()

	// Act
	first, err := s.svc.Lookup.Name(ctx, darpio.ResourceClientes, ids[0])
	require.NoError(t, err)
	second, err := s.svc.Lookup.Name(ctx, darpio.ResourceClientes, ids[1])
	require.NoError(t, err)
	missing, err := s.svc.Lookup.Name(ctx, darpio.ResourceClientes, 999)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "Ana", first)
	assert.Equal(t, "Bia", second)
	assert.Equal(t, darpio.Unknown, missing)
	assert.Equal(t, 1, s.srv.Requests(http.MethodGet, "/Cliente"))
}

func TestLookupFollowsMutations(t *testing.T) {
	// Arrange
	s := newStack(t, fastPolicy())
	ctx := context.Background()
	_, err := s.svc.Lookup.Names(ctx, darpio.ResourceCampi)
	require.NoError(t, err)

	// Act
	created, err := s.svc.Campi.Create(ctx, darpio.Campus{Nome: "Sul", Endereco: "Av. 3", QuantidadeBlocos: 1})
	require.NoError(t, err)
	name, err := s.svc.Lookup.Name(ctx, darpio.ResourceCampi, created.ID)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "Sul", name)
}

func TestLookupWarm(t *testing.T) {
	// Arrange
	s := newStack(t, fastPolicy())
	s.srv.Seed(darpio.ResourceBebidas, darpio.Bebida{Nome: "Suco"})
	s.srv.Seed(darpio.ResourceBlocos, darpio.Bloco{Nome: "B1"})
	ctx := context.Background()

	// Act
	err := s.svc.Lookup.Warm(ctx, darpio.ResourceBebidas, darpio.ResourceBlocos)
	require.NoError(t, err)
	err = s.svc.Lookup.Warm(ctx, darpio.ResourceBebidas, "desconhecidos")

	// Assert
	assert.Error(t, err)
	assert.Equal(t, 1, s.srv.Requests(http.MethodGet, "/Bebida"))
	assert.Equal(t, 1, s.srv.Requests(http.MethodGet, "/Bloco"))
}
