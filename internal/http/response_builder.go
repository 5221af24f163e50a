package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
)

// envelope wraps every successful response body.
type envelope struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Message: message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// errorStatus maps an error class to a status and the message safe to show.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error(), applog.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, err.Error(), applog.ErrorTypeNotFound
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, err.Error(), applog.ErrorTypeForbidden
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, err.Error(), applog.ErrorTypeValidation
	case errors.Is(err, core.ErrBusinessRule):
		return http.StatusConflict, err.Error(), applog.ErrorTypeConflict
	case errors.Is(err, core.ErrConfiguration):
		return http.StatusInternalServerError, "server is misconfigured", applog.ErrorTypeConfiguration
	default:
		return http.StatusInternalServerError, "internal server error", applog.ErrorTypeInternal
	}
}

// respondError writes the mapped error. Server errors are logged with the
// full cause; client errors at debug.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, kind := errorStatus(err)
	ctx := r.Context()
	logger := applog.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Request failed",
			applog.FieldError, err,
			applog.FieldErrorType, kind,
			applog.FieldPath, r.URL.Path)
	} else {
		logger.DebugContext(ctx, "Request rejected",
			applog.FieldError, err,
			applog.FieldErrorType, kind)
	}
	writeError(w, status, msg)
}
