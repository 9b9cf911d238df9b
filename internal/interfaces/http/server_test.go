package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeRuns struct {
	runs      []model.IngestRun
	lastLimit int
	listCalls int
}

func (f *fakeRuns) Get(_ context.Context, id string) (*model.IngestRun, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			r := f.runs[i]
			return &r, nil
		}
	}
	return nil, port.ErrRunNotFound
}

func (f *fakeRuns) List(_ context.Context, portfolioID string, limit int) ([]model.IngestRun, error) {
	f.listCalls++
	f.lastLimit = limit
	var out []model.IngestRun
	for _, r := range f.runs {
		if r.PortfolioID == portfolioID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakePositions map[string][]model.Position

func (f fakePositions) ListPositions(_ context.Context, id string) ([]model.Position, error) {
	if id == "broken" {
		return nil, errors.New("db gone")
	}
	return f[id], nil
}

type fakePortfolios map[string]model.Portfolio

func (f fakePortfolios) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	p, ok := f[id]
	if !ok {
		return nil, port.ErrPortfolioNotFound
	}
	return &p, nil
}

type mapCache map[string]any

func (m mapCache) Get(k string) (any, bool) { v, ok := m[k]; return v, ok }
func (m mapCache) Set(k string, v any)      { m[k] = v }

type fixture struct {
	runs  *fakeRuns
	cache mapCache
	srv   *Server
}

func newFixture(checks map[string]HealthCheck) *fixture {
	finished := time.Date(2024, 5, 1, 9, 0, 1, 0, time.UTC)
	runs := &fakeRuns{runs: []model.IngestRun{
		{ID: "r2", PortfolioID: "p1", ObjectKey: "uploads/p1/b.csv", Status: model.RunPending, StartedAt: finished},
		{ID: "r1", PortfolioID: "p1", ObjectKey: "uploads/p1/a.csv", Status: model.RunOK, RowsOK: 3, StartedAt: finished.Add(-time.Second), FinishedAt: &finished},
		{ID: "r9", PortfolioID: "p2", ObjectKey: "uploads/p2/z.csv", Status: model.RunError, ErrorMessage: "boom", StartedAt: finished},
	}}
	c := mapCache{}
	srv := NewServer(Deps{
		Runs: runs,
		Positions: fakePositions{"p1": {
			{PortfolioID: "p1", Symbol: "AAPL", Quantity: decimal.NewFromInt(6), AvgCost: decimal.NewFromInt(150)},
		}},
		Portfolios: fakePortfolios{"p1": {ID: "p1", LastIngestAt: finished, LastIngestStatus: "ok: 3 trades, 0 skipped"}},
		Cache:      c,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("pfingest_up 1\n"))
		}),
		Checks: checks,
	})
	return &fixture{runs: runs, cache: c, srv: srv}
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.R.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestListRunsMostRecentFirst(t *testing.T) {
	f := newFixture(nil)
	code, body := f.get(t, "/api/portfolios/p1/ingest-runs")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, defaultRunLimit, f.runs.lastLimit)

	runs := body["runs"].([]any)
	require.Len(t, runs, 2)
	first := runs[0].(map[string]any)
	require.Equal(t, "r2", first["id"])
	require.Equal(t, "pending", first["status"])
	require.Nil(t, first["finishedAt"])
	require.NotContains(t, first, "errorMessage")
	require.Equal(t, "uploads/p1/a.csv", runs[1].(map[string]any)["objectKey"])
}

func TestListRunsLimit(t *testing.T) {
	f := newFixture(nil)
	code, _ := f.get(t, "/api/portfolios/p1/ingest-runs?limit=5000")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, maxRunLimit, f.runs.lastLimit)

	code, body := f.get(t, "/api/portfolios/p1/ingest-runs?limit=-1")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "bad_request", body["code"])
}

func TestListRunsIsCached(t *testing.T) {
	f := newFixture(nil)
	f.get(t, "/api/portfolios/p1/ingest-runs?limit=3")
	f.get(t, "/api/portfolios/p1/ingest-runs?limit=3")
	require.Equal(t, 1, f.runs.listCalls)
	require.Contains(t, f.cache, "runs:p1:3")

	_, body := f.get(t, "/api/portfolios/nobody/ingest-runs")
	require.Empty(t, body["runs"].([]any))
}

func TestGetRun(t *testing.T) {
	f := newFixture(nil)
	code, body := f.get(t, "/api/portfolios/p2/ingest-runs/r9")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "boom", body["errorMessage"])

	code, _ = f.get(t, "/api/portfolios/p1/ingest-runs/r9")
	require.Equal(t, http.StatusNotFound, code, "run of another portfolio")
	code, _ = f.get(t, "/api/portfolios/p1/ingest-runs/nope")
	require.Equal(t, http.StatusNotFound, code)
}

func TestPositionsAndPortfolio(t *testing.T) {
	f := newFixture(nil)
	code, body := f.get(t, "/api/portfolios/p1/positions")
	require.Equal(t, http.StatusOK, code)
	pos := body["positions"].([]any)[0].(map[string]any)
	require.Equal(t, "AAPL", pos["symbol"])
	require.Equal(t, "6", pos["quantity"])

	code, body = f.get(t, "/api/portfolios/p1")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok: 3 trades, 0 skipped", body["lastIngestStatus"])

	code, _ = f.get(t, "/api/portfolios/p404")
	require.Equal(t, http.StatusNotFound, code)

	code, body = f.get(t, "/api/portfolios/broken/positions")
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal_server_error", body["code"])
}

func TestHealth(t *testing.T) {
	f := newFixture(map[string]HealthCheck{
		"database": func(context.Context) (any, error) { return nil, nil },
		"queue": func(context.Context) (any, error) {
			return map[string]int64{"visible": 2}, nil
		},
	})
	code, body := f.get(t, "/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ok"])

	f = newFixture(map[string]HealthCheck{
		"redis": func(context.Context) (any, error) { return nil, errors.New("connection refused") },
	})
	code, body = f.get(t, "/health")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, false, body["ok"])
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(nil)
	rec := httptest.NewRecorder()
	f.srv.R.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "pfingest_up 1")
}
