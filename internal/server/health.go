package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ohmystock/ohmystock/internal/httpx"
)

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleHealthDB pings the database.
func (s *Server) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	if err := s.db.HealthCheck(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Database health check failed")
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleHealthSystem reports process-level resource usage.
func (s *Server) handleHealthSystem(w http.ResponseWriter, r *http.Request) {
	cpuPercent := 0.0
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	memPercent := 0.0
	if stat, err := mem.VirtualMemory(); err == nil {
		memPercent = stat.UsedPercent
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"cpu_percent":     cpuPercent,
		"memory_percent":  memPercent,
		"goroutine_count": runtime.NumGoroutine(),
	})
}
