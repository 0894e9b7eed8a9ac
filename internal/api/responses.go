package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

type errorResponse struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

// sendJSON encodes v before writing anything, so an encoding failure still
// produces a complete 500 response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.serverErrorResponse(w, fmt.Errorf("encode response: %w", err))
		return
	}
	writeJSON(w, status, b, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, body []byte, logger *slog.Logger) {
	setJSONResponseType(w)
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) sendResponse(w http.ResponseWriter, v any) {
	s.sendJSON(w, http.StatusOK, v)
}

func (s *Server) serverErrorResponse(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	b, _ := json.Marshal(errorResponse{
		Code: http.StatusInternalServerError,
		Text: "internal server error",
	})
	writeJSON(w, http.StatusInternalServerError, b, s.logger)
}

// validationErrorResponse sends a 400 with per-field messages.
func (s *Server) validationErrorResponse(w http.ResponseWriter, fieldErrors map[string][]string) {
	s.sendJSON(w, http.StatusBadRequest, struct {
		FieldErrors map[string][]string `json:"fieldErrors"`
	}{FieldErrors: fieldErrors})
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusNotFound, errorResponse{Code: http.StatusNotFound, Text: "resource not found"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: http.StatusMethodNotAllowed, Text: "method not allowed"})
}

func setJSONResponseType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}
