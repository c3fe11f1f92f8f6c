package http

import (
	"errors"
	"net/http"

	"ember/internal/app"
)

// mapDomainError translates a Repository error into an HTTP status code and
// a user-facing message, adapted from the reference delivery layer's
// mapDomainError/writeMappedError pair. Returns (0, "") for an error that
// isn't one of the Repository's sentinel kinds, leaving the caller to fall
// back to a default status.
func mapDomainError(err error) (status int, message string) {
	if err == nil {
		return 0, ""
	}
	switch {
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, app.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, app.ErrUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return 0, ""
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func defaultStatusMessage(err error, defaultStatus int, defaultMsg string) (int, string) {
	if status, msg := mapDomainError(err); status != 0 {
		return status, msg
	}
	return defaultStatus, defaultMsg
}
