package api

import (
	"encoding/json"
	"net/http"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Code: code, Message: message}})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindPolicy:
		return http.StatusUnprocessableEntity
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindRollbackFailed:
		return http.StatusInternalServerError
	case model.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError renders a classified error. The message keeps the call
// site context; unclassified errors are hidden behind a generic message.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := model.AsError(err)
	if !ok {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Unclassified error")
		writeError(w, http.StatusInternalServerError, "internal", "internal", "internal error")
		return
	}

	status := statusFor(e.Kind)
	msg := err.Error()
	if e.Kind == model.KindPersistence {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Storage failure")
		msg = e.Message
	}
	writeError(w, status, string(e.Kind), e.Code, msg)
}
