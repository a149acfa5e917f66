package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/pkg/version"
)

const (
	errNoData = "No data yet — pipeline has not run"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type swapsResponse struct {
	Swaps     []domain.SwapEvent `json:"swaps"`
	Timestamp int64              `json:"timestamp"`
}

type healthResponse struct {
	Status    string             `json:"status"`
	Build     *version.BuildInfo `json:"build"`
	Runs      int                `json:"runs"`
	LastRun   any                `json:"lastRun"`
	LastError string             `json:"lastError,omitempty"`
}

// readState loads the cached snapshot bytes, answering 503 or 500 itself when
// there is nothing to serve.
func (s *Server) readState(c *gin.Context) ([]byte, bool) {
	raw, err := s.opts.Store.GetState(c.Request.Context())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoData})
		return nil, false
	case err != nil:
		log.Error().Err(err).Msg("read snapshot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot unavailable"})
		return nil, false
	}
	return raw, true
}

// GET /api/network
func (s *Server) network(c *gin.Context) {
	raw, ok := s.readState(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// GET /api/network/swaps?since=<unix ms>
func (s *Server) swaps(c *gin.Context) {
	var since int64
	if v := c.Query("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative unix millisecond timestamp"})
			return
		}
		since = n
	}

	raw, ok := s.readState(c)
	if !ok {
		return
	}
	var state domain.NetworkState
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Error().Err(err).Msg("decode snapshot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot unreadable"})
		return
	}

	c.JSON(http.StatusOK, swapsResponse{
		Swaps:     SwapsSince(state.Swaps, since),
		Timestamp: state.Timestamp,
	})
}

// SwapsSince keeps the swaps newer than sinceMs. Zero keeps everything.
func SwapsSince(swaps []domain.SwapEvent, sinceMs int64) []domain.SwapEvent {
	out := make([]domain.SwapEvent, 0, len(swaps))
	for _, sw := range swaps {
		if sinceMs <= 0 || sw.Timestamp*1000 > sinceMs {
			out = append(out, sw)
		}
	}
	return out
}

// GET /api/network/trigger
func (s *Server) trigger(c *gin.Context) {
	if !s.opts.Scheduler.Trigger() {
		log.Debug().Msg("pipeline run already queued")
	}
	c.JSON(http.StatusOK, gin.H{"status": "Pipeline triggered"})
}

// GET /api/network/history?limit=N
func (s *Server) history(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot archive not configured"})
		return
	}
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := s.opts.History.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("list archived snapshots")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": rows})
}

// GET /health
func (s *Server) health(c *gin.Context) {
	resp := healthResponse{
		Status: "ok",
		Build:  version.GetBuildInfo(),
	}
	if s.opts.Scheduler != nil {
		last, err := s.opts.Scheduler.Last()
		resp.Runs = s.opts.Scheduler.Runs()
		if last != nil {
			resp.LastRun = last
		}
		if err != nil {
			resp.Status = "degraded"
			resp.LastError = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}
