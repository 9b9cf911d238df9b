package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

// HealthCheck reports a dependency's state; detail may be nil.
type HealthCheck func(ctx context.Context) (any, error)

// ResponseCache is a TTL cache for read responses.
type ResponseCache interface {
	Get(key string) (any, bool)
	Set(key string, val any)
}

type RunReader interface {
	Get(ctx context.Context, runID string) (*model.IngestRun, error)
	List(ctx context.Context, portfolioID string, limit int) ([]model.IngestRun, error)
}

type PositionReader interface {
	ListPositions(ctx context.Context, portfolioID string) ([]model.Position, error)
}

type PortfolioReader interface {
	GetPortfolio(ctx context.Context, portfolioID string) (*model.Portfolio, error)
}

type Deps struct {
	Runs       RunReader
	Positions  PositionReader
	Portfolios PortfolioReader
	Cache      ResponseCache
	Metrics    http.Handler
	Checks     map[string]HealthCheck
}

// Server exposes read-only ingestion status for polling clients.
type Server struct {
	R    *gin.Engine
	deps Deps
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type runsResponse struct {
	Runs []model.IngestRun `json:"runs"`
}

type positionsResponse struct {
	Positions []model.Position `json:"positions"`
}

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

func NewServer(deps Deps) *Server {
	g := gin.New()

	// request logging
	g.Use(func(cn *gin.Context) {
		start := time.Now()
		cn.Next()
		log.Debug().
			Str("method", cn.Request.Method).
			Str("path", cn.Request.URL.Path).
			Int("status", cn.Writer.Status()).
			Str("ip", cn.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("http_request")
	})
	g.Use(gin.Recovery())

	s := &Server{R: g, deps: deps}

	g.GET("/health", s.health)
	if deps.Metrics != nil {
		g.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	api := g.Group("/api/portfolios/:id")
	api.GET("", s.getPortfolio)
	api.GET("/positions", s.getPositions)
	api.GET("/ingest-runs", s.getRuns)
	api.GET("/ingest-runs/:runId", s.getRun)

	return s
}

// --- helpers ---

func (s *Server) notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, apiError{Code: "not_found", Message: msg})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, apiError{Code: "bad_request", Message: msg})
}

func (s *Server) internalError(c *gin.Context, where string, err error) {
	log.Error().Err(err).Str("where", where).Msg("internal_error")
	c.JSON(http.StatusInternalServerError, apiError{Code: "internal_server_error", Message: "internal server error"})
}

func parseLimit(v string, def, min, max int) (int, bool) {
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

func portfolioID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

// cached serves key from the cache or stores what load returns.
func (s *Server) cached(key string, load func() (any, error)) (any, error) {
	if s.deps.Cache != nil {
		if v, ok := s.deps.Cache.Get(key); ok {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(key, v)
	}
	return v, nil
}

// --- handlers ---

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.deps.Checks {
		detail, err := check(ctx)
		switch {
		case err != nil:
			status = http.StatusServiceUnavailable
			checks[name] = gin.H{"ok": false, "error": err.Error()}
		case detail != nil:
			checks[name] = gin.H{"ok": true, "detail": detail}
		default:
			checks[name] = gin.H{"ok": true}
		}
	}
	c.JSON(status, gin.H{"ok": status == http.StatusOK, "checks": checks})
}

func (s *Server) getPortfolio(c *gin.Context) {
	id := portfolioID(c)
	v, err := s.cached("portfolio:"+id, func() (any, error) {
		return s.deps.Portfolios.GetPortfolio(c.Request.Context(), id)
	})
	if errors.Is(err, port.ErrPortfolioNotFound) {
		s.notFound(c, "portfolio has no ingests")
		return
	}
	if err != nil {
		s.internalError(c, "GetPortfolio", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) getPositions(c *gin.Context) {
	id := portfolioID(c)
	v, err := s.cached("positions:"+id, func() (any, error) {
		rows, err := s.deps.Positions.ListPositions(c.Request.Context(), id)
		if rows == nil {
			rows = []model.Position{}
		}
		return positionsResponse{Positions: rows}, err
	})
	if err != nil {
		s.internalError(c, "ListPositions", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) getRuns(c *gin.Context) {
	id := portfolioID(c)
	limit, ok := parseLimit(c.Query("limit"), defaultRunLimit, 1, maxRunLimit)
	if !ok {
		s.badRequest(c, "limit must be a positive integer")
		return
	}
	key := "runs:" + id + ":" + strconv.Itoa(limit)
	v, err := s.cached(key, func() (any, error) {
		rows, err := s.deps.Runs.List(c.Request.Context(), id, limit)
		if rows == nil {
			rows = []model.IngestRun{}
		}
		return runsResponse{Runs: rows}, err
	})
	if err != nil {
		s.internalError(c, "ListRuns", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// getRun is not cached; clients poll it until the run is terminal.
func (s *Server) getRun(c *gin.Context) {
	run, err := s.deps.Runs.Get(c.Request.Context(), c.Param("runId"))
	if errors.Is(err, port.ErrRunNotFound) || (err == nil && run.PortfolioID != portfolioID(c)) {
		s.notFound(c, "ingest run not found")
		return
	}
	if err != nil {
		s.internalError(c, "GetRun", err)
		return
	}
	c.JSON(http.StatusOK, run)
}
