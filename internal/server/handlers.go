package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/arbiphoenix/phoenix/internal/engine"
	"github.com/arbiphoenix/phoenix/internal/modules/harvest"
	"github.com/arbiphoenix/phoenix/internal/modules/recovery"
)

// Handlers exposes engine control and monitoring endpoints
type Handlers struct {
	log         zerolog.Logger
	engine      *engine.Engine
	recovery    *recovery.Manager
	harvester   *harvest.Harvester
	startupTime time.Time
}

// NewHandlers creates the control-plane handlers
func NewHandlers(eng *engine.Engine, rec *recovery.Manager, harv *harvest.Harvester, log zerolog.Logger) *Handlers {
	return &Handlers{
		log:         log.With().Str("component", "handlers").Logger(),
		engine:      eng,
		recovery:    rec,
		harvester:   harv,
		startupTime: time.Now(),
	}
}

// writeJSON writes a JSON response with status code
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes a JSON error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleHealth is the liveness probe
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleEngineStatus returns the engine snapshot
func (h *Handlers) HandleEngineStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

// HandleStart starts the engine
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(); err != nil {
		h.writeError(w, http.StatusConflict, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// HandleStop stops the engine
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Stop(); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandlePause pauses trading decisions
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(); err != nil {
		h.writeError(w, http.StatusConflict, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// HandleResume resumes trading decisions
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resume(); err != nil {
		h.writeError(w, http.StatusConflict, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// HandleEmergencyStop halts the engine and flattens the book
func (h *Handlers) HandleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.EmergencyStop(); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "emergency_stopped"})
}

// HandleOpportunities returns the latest scan batch
func (h *Handlers) HandleOpportunities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Opportunities())
}

// HandlePositions returns the current position book
func (h *Handlers) HandlePositions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Positions())
}

// HandleRecoveryStatus returns the recovery manager snapshot
func (h *Handlers) HandleRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.recovery.Status())
}

// HandleHarvesterStatus returns the harvester snapshot
func (h *Handlers) HandleHarvesterStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.harvester.Status())
}

// HandleHarvesterReset clears harvester statistics
func (h *Handlers) HandleHarvesterReset(w http.ResponseWriter, r *http.Request) {
	h.harvester.ResetStatistics()
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleSystemHealth reports process and host health
func (h *Handlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"uptime_seconds": time.Since(h.startupTime).Seconds(),
		"timestamp":      time.Now().UTC(),
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		health["cpu_percent"] = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_percent"] = vm.UsedPercent
		health["memory_used_mb"] = vm.Used / 1024 / 1024
	}

	h.writeJSON(w, http.StatusOK, health)
}
