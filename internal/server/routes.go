package server

import "net/http"

// NewMux wires the REST routes. Method-qualified patterns (Go 1.22 mux)
// replace the teacher-era per-handler method checks.
func NewMux(sessions *SessionHandler, healthH *HealthHandler, stream *StreamHandler) http.Handler {
	mux := http.NewServeMux()

	// Interactive generation
	mux.HandleFunc("POST /interactive/start", sessions.Start)
	mux.HandleFunc("GET /interactive/{gameId}/state", sessions.State)
	mux.HandleFunc("POST /interactive/{gameId}/step/{stepId}/select", sessions.Select)
	mux.HandleFunc("POST /interactive/{gameId}/complete", sessions.Complete)
	mux.HandleFunc("POST /interactive/{gameId}/retry", sessions.Retry)
	mux.HandleFunc("POST /interactive/{gameId}/abandon", sessions.Abandon)
	mux.HandleFunc("POST /interactive/{gameId}/pause", sessions.Pause)
	mux.HandleFunc("POST /interactive/{gameId}/resume", sessions.Resume)

	// Provider health & routing
	mux.HandleFunc("GET /health/report", healthH.Report)
	mux.HandleFunc("GET /health/service/{name}", healthH.Service)
	mux.HandleFunc("POST /health/failover/{target}", healthH.ForceFailover)
	mux.HandleFunc("DELETE /health/failover", healthH.ClearFailover)
	mux.HandleFunc("GET /health/alerts", healthH.Alerts)
	mux.HandleFunc("PATCH /health/alerts/{id}/resolve", healthH.ResolveAlert)
	mux.HandleFunc("GET /health/stats", healthH.Stats)
	mux.HandleFunc("POST /health/stats/reset", healthH.ResetStats)
	mux.HandleFunc("GET /health/stream", stream.Handle)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return CORS(mux)
}
