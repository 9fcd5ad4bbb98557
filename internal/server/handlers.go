package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"gameforge/internal/router"
	"gameforge/internal/session"
	"gameforge/internal/store"
)

// SessionHandler serves the interactive generation endpoints.
type SessionHandler struct {
	manager *session.Manager
	log     *slog.Logger
}

func NewSessionHandler(manager *session.Manager, log *slog.Logger) *SessionHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SessionHandler{manager: manager, log: log}
}

type startRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	UserID      string `json:"userId"`
	Quality     string `json:"quality"`
}

type selectRequest struct {
	VariantID string `json:"variantId"`
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "request body must be JSON")
		return
	}
	view, err := h.manager.Start(r.Context(), session.StartInput{
		Title:       req.Title,
		Description: req.Description,
		Genre:       req.Genre,
		UserID:      req.UserID,
		Quality:     req.Quality,
	})
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.State(r.Context(), r.PathValue("gameId"))
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VariantID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "variantId is required")
		return
	}
	result, err := h.manager.SelectVariant(r.Context(),
		r.PathValue("gameId"), r.PathValue("stepId"), req.VariantID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	art, err := h.manager.CompleteGeneration(r.Context(), r.PathValue("gameId"))
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.RetryStep(r.Context(), r.PathValue("gameId"))
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Abandon(r.Context(), r.PathValue("gameId")); err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}

func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Pause(r.Context(), r.PathValue("gameId")); err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Resume(r.Context(), r.PathValue("gameId")); err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrPaused):
		writeError(w, http.StatusConflict, "paused", err.Error())
	case errors.Is(err, session.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, router.ErrAllProvidersExhausted):
		writeError(w, http.StatusServiceUnavailable, "providers_exhausted", err.Error())
	case errors.Is(err, store.ErrPersistence):
		h.log.Error("persistence failure", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence", "storage failure, retry the operation")
	default:
		h.log.Error("unhandled session error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
