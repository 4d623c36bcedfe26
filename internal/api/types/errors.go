package types

import (
	"net/http"

	appErr "github.com/stackforge/engine/pkg/errors"
)

func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	code := string(appErr.CodeUnknown)
	if e, ok := err.(*appErr.AppError); ok {
		code = string(e.Code)
		return &APIError{Code: code, Message: e.Message}
	}
	return &APIError{Code: code, Message: err.Error()}
}

// StatusFromError maps an application error code to an HTTP status.
func StatusFromError(err error) int {
	e, ok := err.(*appErr.AppError)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case appErr.CodeInvalid:
		return http.StatusBadRequest
	case appErr.CodeNotFound:
		return http.StatusNotFound
	case appErr.CodeConflict, appErr.CodeAlreadyExists:
		return http.StatusConflict
	case appErr.CodeUnauthorized:
		return http.StatusUnauthorized
	case appErr.CodeForbidden:
		return http.StatusForbidden
	case appErr.CodeUnavailable:
		return http.StatusServiceUnavailable
	case appErr.CodeDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
