// Package admin exposes the registry and the Prometheus collectors over HTTP.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"e-router/registry"
)

// Server wraps the gin engine serving the admin API.
type Server struct {
	addr   string
	engine *gin.Engine
	reg    registry.Registry
	log    zerolog.Logger
}

type functionView struct {
	Name      string              `json:"name"`
	Endpoints []registry.Endpoint `json:"endpoints"`
}

// New builds the admin API over reg. addr is only used by Run.
func New(addr string, reg registry.Registry, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{addr: addr, engine: engine, reg: reg, log: log}
	s.routes()
	return s
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	fn := s.engine.Group("/functions")
	fn.GET("", s.listFunctions)
	fn.GET("/:name", s.getFunction)
	fn.POST("/:name", s.createFunction)
	fn.POST("/:name/endpoints", s.registerEndpoint)
	fn.DELETE("/:name/endpoints/:id", s.deregisterEndpoint)
}

func (s *Server) listFunctions(c *gin.Context) {
	names := s.reg.Functions()
	views := make([]functionView, 0, len(names))
	for _, name := range names {
		eps, ok := s.reg.Endpoints(name)
		if !ok {
			continue
		}
		views = append(views, functionView{Name: name, Endpoints: eps})
	}
	c.JSON(http.StatusOK, gin.H{"functions": views})
}

func (s *Server) getFunction(c *gin.Context) {
	name := c.Param("name")
	eps, ok := s.reg.Endpoints(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": registry.ErrUnknownFunction.Error()})
		return
	}
	c.JSON(http.StatusOK, functionView{Name: name, Endpoints: eps})
}

func (s *Server) createFunction(c *gin.Context) {
	name := c.Param("name")
	s.reg.CreateFunction(name)
	s.log.Info().Str("function", name).Msg("function created")
	eps, _ := s.reg.Endpoints(name)
	c.JSON(http.StatusCreated, functionView{Name: name, Endpoints: eps})
}

func (s *Server) registerEndpoint(c *gin.Context) {
	name := c.Param("name")
	var ep registry.Endpoint
	if err := c.ShouldBindJSON(&ep); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(ep.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	if err := s.reg.RegisterEndpoint(name, ep); err != nil {
		s.log.Warn().Err(err).Str("function", name).Str("endpoint", ep.ID).Msg("endpoint not registered")
		if errors.Is(err, registry.ErrUnknownFunction) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Str("function", name).Str("endpoint", ep.ID).Msg("endpoint registered")
	c.JSON(http.StatusCreated, ep)
}

func (s *Server) deregisterEndpoint(c *gin.Context) {
	name, id := c.Param("name"), c.Param("id")
	if _, ok := s.reg.Endpoints(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": registry.ErrUnknownFunction.Error()})
		return
	}
	removed := s.reg.DeregisterEndpoint(name, id)
	s.log.Info().Str("function", name).Str("endpoint", id).Int("removed", removed).Msg("endpoint deregistered")
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// Run serves the admin API until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("admin server listening")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
