package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/taldoflemis/campusdarpio/darpio"
)

type resourceHandler[T any] struct {
	res      *darpio.Resource[T]
	onCreate func(context.Context, T)
}

// registerResource mounts the five CRUD routes of res under path.
func registerResource[T any](g *echo.Group, path string, res *darpio.Resource[T], onCreate func(context.Context, T)) {
	h := &resourceHandler[T]{res: res, onCreate: onCreate}
	g.GET(path, h.list)
	g.GET(path+"/:id", h.get)
	g.POST(path, h.create)
	g.PUT(path+"/:id", h.update)
	g.DELETE(path+"/:id", h.remove)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, darpio.ErrInvalidID
	}
	return id, nil
}

func (h *resourceHandler[T]) list(c echo.Context) error {
	items, err := h.res.List(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []T{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *resourceHandler[T]) get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	item, err := h.res.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *resourceHandler[T]) create(c echo.Context) error {
	ctx := c.Request().Context()

	var payload T
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request"})
	}
	created, err := h.res.Create(ctx, payload)
	if err != nil {
		return writeError(c, err)
	}
	if h.onCreate != nil {
		h.onCreate(ctx, created)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *resourceHandler[T]) update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	var payload T
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request"})
	}
	updated, err := h.res.Update(c.Request().Context(), id, payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *resourceHandler[T]) remove(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.res.Delete(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
