package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/harun/uxorbit/pkg/dispatch"
	"github.com/harun/uxorbit/pkg/orchestrator"
	"github.com/harun/uxorbit/pkg/report"
	"github.com/harun/uxorbit/pkg/session"
	"github.com/rs/zerolog/log"
)

type startResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type statusResponse struct {
	Status session.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"load":   s.service.Stats(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	req, err := orchestrator.ParseRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, _, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Info().Str("session_id", id).Str("url", req.URL).Strs("agents", req.Agents).Msg("Testing session started")
	writeJSON(w, http.StatusAccepted, startResponse{SessionID: id, Status: "started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	rep, _, err := s.service.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rep == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rep})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, _, err := s.service.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rep == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}

	doc, err := s.renderer.Render(r.Context(), rep, format)
	if err != nil {
		if errors.Is(err, report.ErrNoPrinter) {
			writeError(w, http.StatusNotImplemented, err.Error())
			return
		}
		log.Error().Err(err).Str("format", string(format)).Msg("Failed to render export")
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrCapacity), errors.Is(err, dispatch.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
