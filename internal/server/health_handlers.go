package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"gameforge/internal/health"
	"gameforge/internal/provider"
	"gameforge/internal/router"
)

// HealthHandler serves the provider health and routing-control endpoints.
type HealthHandler struct {
	monitor *health.Monitor
	router  *router.Router
	log     *slog.Logger
}

func NewHealthHandler(monitor *health.Monitor, rt *router.Router, log *slog.Logger) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{monitor: monitor, router: rt, log: log}
}

func (h *HealthHandler) Report(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Report())
}

func (h *HealthHandler) Service(w http.ResponseWriter, r *http.Request) {
	rec, err := h.monitor.HealthData(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HealthHandler) ForceFailover(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	if err := h.router.ForceFailover(target); err != nil {
		if errors.Is(err, router.ErrInvalidProvider) {
			writeError(w, http.StatusBadRequest, "invalid_provider", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	h.log.Info("manual failover activated", "target", target)
	writeJSON(w, http.StatusOK, map[string]string{"status": "failover_activated", "target": target})
}

func (h *HealthHandler) ClearFailover(w http.ResponseWriter, r *http.Request) {
	switch cap := r.URL.Query().Get("capability"); cap {
	case "text":
		h.router.ClearFailover(provider.CapabilityText)
	case "image":
		h.router.ClearFailover(provider.CapabilityImage)
	case "":
		h.router.ClearFailover(provider.CapabilityText)
		h.router.ClearFailover(provider.CapabilityImage)
	default:
		writeError(w, http.StatusBadRequest, "invalid_input", "capability must be text or image")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failover_cleared"})
}

func (h *HealthHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("includeResolved"))
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": h.monitor.Alerts(includeResolved),
	})
}

func (h *HealthHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.monitor.ResolveAlert(id); err != nil {
		if errors.Is(err, health.ErrUnknownAlert) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "id": id})
}

func (h *HealthHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Stats())
}

func (h *HealthHandler) ResetStats(w http.ResponseWriter, _ *http.Request) {
	h.router.ResetStats()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stats_reset"})
}
