package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/marketsync/internal/chart"
	"github.com/rickgao/marketsync/internal/controller"
	"github.com/rickgao/marketsync/internal/history"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/version"
)

type instrumentRequest struct {
	Instrument string `json:"instrument" binding:"required"`
}

type timeframeRequest struct {
	Timeframe string `json:"timeframe" binding:"required"`
}

type createRequest struct {
	ID         string `json:"id"`
	Instrument string `json:"instrument"`
	Timeframe  string `json:"timeframe"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Get(),
		"charts":  s.charts.Len(),
	})
}

func (s *Server) listCharts(c *gin.Context) {
	charts := s.charts.List()
	out := make([]controller.Snapshot, 0, len(charts))
	for _, ch := range charts {
		snap := ch.Snapshot()
		snap.Candles = nil
		out = append(out, snap)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createChart(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	cfg := controller.Config{ID: req.ID, Instrument: req.Instrument}
	if req.Timeframe != "" {
		tf, err := model.ParseTimeframe(req.Timeframe)
		if err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
		cfg.Timeframe = tf
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultRequestTimeout)
	defer cancel()

	ch, err := s.charts.Add(ctx, cfg)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	snap := ch.Snapshot()
	snap.Candles = nil
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) deleteChart(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultRequestTimeout)
	defer cancel()

	if err := s.charts.Remove(ctx, c.Param("id")); err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getChart(c *gin.Context) {
	ch, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ch.Snapshot())
}

func (s *Server) getDiagnostics(c *gin.Context) {
	ch, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ch.Diagnostics())
}

func (s *Server) setInstrument(c *gin.Context) {
	ch, ok := s.lookup(c)
	if !ok {
		return
	}
	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	s.command(c, ch, func(ctx context.Context) error { return ch.SetInstrument(ctx, req.Instrument) })
}

func (s *Server) setTimeframe(c *gin.Context) {
	ch, ok := s.lookup(c)
	if !ok {
		return
	}
	var req timeframeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	tf, err := model.ParseTimeframe(req.Timeframe)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	s.command(c, ch, func(ctx context.Context) error { return ch.SetTimeframe(ctx, tf) })
}

func (s *Server) refetch(c *gin.Context) {
	ch, ok := s.lookup(c)
	if !ok {
		return
	}
	s.command(c, ch, ch.Refetch)
}

func (s *Server) connect(c *gin.Context) {
	ch, ok := s.lookup(c)
	if !ok {
		return
	}
	s.command(c, ch, ch.Connect)
}

func (s *Server) disconnect(c *gin.Context) {
	ch, ok := s.lookup(c)
	if !ok {
		return
	}
	s.command(c, ch, ch.Disconnect)
}

// command runs fn and replies with the resulting snapshot.
func (s *Server) command(c *gin.Context, ch chart.Chart, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultRequestTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	snap := ch.Snapshot()
	snap.Candles = nil
	c.JSON(http.StatusOK, snap)
}

func (s *Server) lookup(c *gin.Context) (chart.Chart, bool) {
	id := c.Param("id")
	ch, ok := s.charts.Get(id)
	if !ok {
		s.fail(c, http.StatusNotFound, chart.ErrNotFound)
		return nil, false
	}
	return ch, true
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.FullPath(),
			"chart", c.Param("id"),
			"status", status,
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, errorResponse{
		Error:     err.Error(),
		RequestID: c.GetString(RequestIDContextKey),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnknownTimeframe), errors.Is(err, controller.ErrNoInstrument):
		return http.StatusBadRequest
	case errors.Is(err, chart.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrSuperseded), errors.Is(err, chart.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, history.ErrDataInvalid):
		return http.StatusBadGateway
	case errors.Is(err, history.ErrTransient),
		errors.Is(err, controller.ErrStopped),
		errors.Is(err, controller.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
