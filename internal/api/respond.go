// Package api is the HTTP surface: JSON request handling, routing, and
// the SSE stream endpoint. All workflow behavior lives behind the
// orchestrator; handlers translate between HTTP and typed operations.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/zjjiang/opd/internal/engine"
	"github.com/zjjiang/opd/internal/orchestrator"
	"github.com/zjjiang/opd/internal/store"
)

// validate checks request DTO struct tags.
var validate = validator.New()

// errorBody is the uniform failure payload.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps typed domain errors onto HTTP codes per the error
// taxonomy: validation 400, not-found 404, invalid transition 409,
// everything else 500 with a generic detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var transitionErr *engine.InvalidTransitionError
	var validationErr *orchestrator.ValidationError
	var preflightErr *orchestrator.PreflightError
	var fieldErrs validator.ValidationErrors

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: err.Error()})
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_transition", Detail: err.Error()})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Detail: err.Error()})
	case errors.As(err, &preflightErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "preflight", Detail: err.Error()})
	case errors.As(err, &fieldErrs):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Detail: err.Error()})
	default:
		log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Detail: "internal server error"})
	}
}

// decodeBody parses and validates a JSON request body.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &orchestrator.ValidationError{Msg: "invalid JSON body: " + err.Error()}
	}
	return validate.Struct(v)
}
