package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/amats/amats/internal/docstore"
	"github.com/amats/amats/internal/statestore"
)

// handleHealth reports the store state. A failed store makes the service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.store.State()
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "amats",
		"store":   state.String(),
	}

	status := http.StatusOK
	switch state {
	case statestore.StateFailed:
		response["status"] = "degraded"
		if err := s.store.Err(); err != nil {
			response["error"] = err.Error()
		}
		status = http.StatusServiceUnavailable
	case statestore.StateClosed:
		response["status"] = "stopping"
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, response)
}

// handleConfig returns the configuration with secrets redacted
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.AsMap())
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes {"error": msg} with the given status
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps a state store error to an HTTP status
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var initErr *statestore.InitError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &initErr), errors.Is(err, statestore.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, statestore.ErrInvalidStrategyID), errors.Is(err, statestore.ErrInvalidTradeRecord):
		status = http.StatusBadRequest
	case errors.Is(err, docstore.ErrAlreadyExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("State store request failed")
	}
	s.writeError(w, status, err.Error())
}
