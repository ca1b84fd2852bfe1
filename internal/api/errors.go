package api

import (
	"encoding/json"
	"net/http"

	"github.com/dunamismax/pixelforge/internal/apperr"
	"go.uber.org/zap"
)

type errorPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func errorBody(kind apperr.Kind, detail string) map[string]errorPayload {
	return map[string]errorPayload{"error": {Kind: string(kind), Detail: detail}}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDecode, apperr.KindProcessing:
		return http.StatusUnprocessableEntity
	case apperr.KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) int {
	kind, detail := apperr.Public(err)
	status := statusFor(kind)
	writeJSON(w, status, errorBody(kind, detail))
	return status
}

// fail writes err and logs it when the failure is on our side.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, err)
	if status < http.StatusInternalServerError && status != http.StatusUnprocessableEntity {
		return
	}
	s.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("kind", string(apperr.KindOf(err))),
		zap.Error(err),
	)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
