// Package server exposes charts over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/marketsync/internal/chart"
	"github.com/rickgao/marketsync/internal/controller"
)

const (
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"

	// DefaultRequestTimeout bounds command handlers, including refetches.
	DefaultRequestTimeout = 60 * time.Second
)

// Charts is the chart registry as seen by the API.
type Charts interface {
	Add(ctx context.Context, cfg controller.Config) (chart.Chart, error)
	Remove(ctx context.Context, id string) error
	Get(id string) (chart.Chart, bool)
	List() []chart.Chart
	Len() int
}

var _ Charts = (*chart.Registry)(nil)

// Server serves the chart API.
type Server struct {
	charts Charts
	logger *slog.Logger
	http   *http.Server
}

// New creates a Server listening on port.
func New(port int, charts Charts, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{charts: charts, logger: logger}
	s.http = &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the gin engine.
func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(s.logger))
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/charts", s.listCharts)
	router.POST("/charts", s.createChart)

	charts := router.Group("/charts/:id")
	charts.GET("", s.getChart)
	charts.DELETE("", s.deleteChart)
	charts.GET("/diagnostics", s.getDiagnostics)
	charts.PUT("/instrument", s.setInstrument)
	charts.PUT("/timeframe", s.setTimeframe)
	charts.POST("/refetch", s.refetch)
	charts.POST("/connect", s.connect)
	charts.POST("/disconnect", s.disconnect)

	return router
}

// Start serves until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server listening", "addr", s.http.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
