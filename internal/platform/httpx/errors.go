// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("conflict")
	ErrUnprocessable = errors.New("unprocessable")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
)

// ErrorRule maps a domain error to a problem status.
type ErrorRule struct {
	Target error
	Status int
	Title  string
}

var defaultRules = []ErrorRule{
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{ErrDuplicate, http.StatusConflict, "Duplicate"},
	{ErrConflict, http.StatusConflict, "Conflict"},
	{ErrUnprocessable, http.StatusUnprocessableEntity, "Unprocessable"},
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
}

// RespondError maps domain errors to HTTP responses using RFC7807. Package
// specific rules are checked before the defaults.
func RespondError(w http.ResponseWriter, err error, rules ...ErrorRule) {
	for _, set := range [][]ErrorRule{rules, defaultRules} {
		for _, rule := range set {
			if errors.Is(err, rule.Target) {
				Problem(w, rule.Status, rule.Title, err.Error())
				return
			}
		}
	}
	slog.Error("unhandled request error", slog.Any("error", err))
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
