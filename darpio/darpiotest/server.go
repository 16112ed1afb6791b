// Package darpiotest runs an in-memory Campusdarpio backend for tests. It
// serves every resource and report endpoint and can inject failures.
package darpiotest

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/taldoflemis/campusdarpio/darpio"
	"github.com/taldoflemis/campusdarpio/pacchetto"
)

type record = map[string]any

type table struct {
	rows map[int64]record
}

type fault struct {
	method string
	path   string
	status int
	left   int
}

// Server is a fake backend. The zero value is not usable, call NewServer.
type Server struct {
	*httptest.Server

	e *echo.Echo

	mu     sync.Mutex
	nextID int64
	tables map[string]*table
	faults []*fault
	counts map[string]int
	total  uint64
	delay  time.Duration

	flaky     float64
	flakySeed uint64
}

func NewServer() *Server {
	s := &Server{
		e:      echo.New(),
		tables: make(map[string]*table),
		counts: make(map[string]int),
	}
	for _, p := range darpio.Paths {
		s.tables[strings.TrimPrefix(p, "/")] = &table{rows: make(map[int64]record)}
	}

	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.Recover())
	s.e.Use(s.injectFaults)

	s.e.GET(darpio.PathBebidasMaisPedidas, s.mostOrdered("bebidaId", "Bebida"))
	s.e.GET(darpio.PathRefeicoesMaisPedidas, s.mostOrdered("refeicaoId", "Refeicao"))
	s.e.GET(darpio.PathTotaisPedidos, s.orderTotals)
	s.e.GET(darpio.PathTotaisEntregador, s.delivererTotals)
	s.e.GET(darpio.PathTempoMedioEntrega, s.delivererAverage)
	s.e.GET(darpio.PathTiposRefeicoesCardapio, s.mealTypes)

	s.e.GET("/:entity", s.list)
	s.e.GET("/:entity/:id", s.get)
	s.e.POST("/:entity", s.create)
	s.e.PUT("/:entity/:id", s.update)
	s.e.DELETE("/:entity/:id", s.remove)

	s.Server = httptest.NewServer(s.e)
	return s
}

// FailNext answers the next n requests with status.
func (s *Server) FailNext(n, status int) {
	s.FailPath("", "", n, status)
}

// FailPath answers the next n requests matching method and path with
// status. An empty method or path matches anything.
func (s *Server) FailPath(method, path string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{method: method, path: path, status: status, left: n})
}

// Flaky fails a share of the requests with 503, drawn deterministically
// from seed.
func (s *Server) Flaky(probability float64, seed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flaky = probability
	s.flakySeed = seed
}

// Delay holds every response for d.
func (s *Server) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Requests counts the requests received for method and path, failed
// ones included.
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method+" "+path]
}

func (s *Server) injectFaults(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		s.mu.Lock()
		s.counts[req.Method+" "+req.URL.Path]++
		s.total++
		delay := s.delay
		status := 0
		for _, f := range s.faults {
			if f.left <= 0 {
				continue
			}
			if (f.method == "" || f.method == req.Method) && (f.path == "" || f.path == req.URL.Path) {
				f.left--
				status = f.status
				break
			}
		}
		if status == 0 && pacchetto.Chance(s.flakySeed+s.total, s.flaky) {
			status = http.StatusServiceUnavailable
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return req.Context().Err()
			}
		}
		if status != 0 {
			return c.JSON(status, map[string]string{"title": http.StatusText(status)})
		}
		return next(c)
	}
}

// Seed stores records straight into the table of resource and returns
// their ids.
func (s *Server) Seed(resource string, records ...any) []int64 {
	path, ok := darpio.Paths[resource]
	if !ok {
		panic(fmt.Sprintf("darpiotest: unknown resource %q", resource))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[strings.TrimPrefix(path, "/")]
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			panic(err)
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			panic(err)
		}
		s.nextID++
		rec["id"] = s.nextID
		t.rows[s.nextID] = rec
		ids = append(ids, s.nextID)
	}
	return ids
}

func (s *Server) tableOf(c echo.Context) (*table, string, error) {
	name := c.Param("entity")
	t, ok := s.tables[name]
	if !ok {
		return nil, name, echo.NewHTTPError(http.StatusNotFound, "unknown resource "+name)
	}
	return t, name, nil
}

func idParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func sortedIDs(t *table) []int64 {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) list(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, name, err := s.tableOf(c)
	if err != nil {
		return err
	}
	out := make([]record, 0, len(t.rows))
	for _, id := range sortedIDs(t) {
		out = append(out, s.view(name, t.rows[id]))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) get(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, name, err := s.tableOf(c)
	if err != nil {
		return err
	}
	rec, ok := t.rows[id]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, s.view(name, rec))
}

func bindRecord(c echo.Context) (record, error) {
	var rec record
	if err := json.NewDecoder(c.Request().Body).Decode(&rec); err != nil || rec == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "body must be a json object")
	}
	return rec, nil
}

func (s *Server) create(c echo.Context) error {
	rec, err := bindRecord(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, name, err := s.tableOf(c)
	if err != nil {
		return err
	}
	s.nextID++
	rec["id"] = s.nextID
	t.rows[s.nextID] = rec
	return c.JSON(http.StatusCreated, s.view(name, rec))
}

func (s *Server) update(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	rec, err := bindRecord(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _, err := s.tableOf(c)
	if err != nil {
		return err
	}
	if _, ok := t.rows[id]; !ok {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	rec["id"] = id
	t.rows[id] = rec
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) remove(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _, err := s.tableOf(c)
	if err != nil {
		return err
	}
	if _, ok := t.rows[id]; !ok {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	delete(t.rows, id)
	return c.NoContent(http.StatusNoContent)
}

// view resolves the menu items the way the backend embeds them on reads.
func (s *Server) view(name string, rec record) record {
	if name != "Cardapio" {
		return rec
	}
	out := make(record, len(rec)+2)
	for k, v := range rec {
		out[k] = v
	}
	out["refeicoes"] = s.refs("Refeicao", rec["refeicaoIds"])
	out["bebidas"] = s.refs("Bebida", rec["bebidaIds"])
	return out
}

func (s *Server) refs(tableName string, raw any) []darpio.ItemRef {
	ids, _ := raw.([]any)
	refs := make([]darpio.ItemRef, 0, len(ids))
	for _, v := range ids {
		id := toID(v)
		refs = append(refs, darpio.ItemRef{ID: id, Nome: s.nameOf(tableName, id)})
	}
	return refs
}

func toID(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		id, _ := n.Int64()
		return id
	}
	return 0
}

func (s *Server) nameOf(tableName string, id int64) string {
	rec, ok := s.tables[tableName].rows[id]
	if !ok {
		return darpio.Unknown
	}
	name, _ := rec["nome"].(string)
	return name
}

// decodeAll converts the rows of a table into typed records, ordered by id.
func decodeAll[T any](t *table) ([]T, error) {
	out := make([]T, 0, len(t.rows))
	for _, id := range sortedIDs(t) {
		data, err := json.Marshal(t.rows[id])
		if err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func sortCounts[T any](rows []T, count func(T) int, name func(T) string) {
	slices.SortFunc(rows, func(a, b T) int {
		if c := cmp.Compare(count(b), count(a)); c != 0 {
			return c
		}
		return cmp.Compare(name(a), name(b))
	})
}
