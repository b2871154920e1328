// Package apperr holds the error taxonomy shared by the admission path and
// the HTTP layer. Callers wrap these sentinels with %w and compare with
// errors.Is; Write renders any error as a JSON body with a stable code.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrUnauthorized       = errors.New("authentication credentials were not provided or are invalid")
	ErrLimitExceeded      = errors.New("API key usage limit exceeded")
	ErrKeyInactive        = errors.New("this API key is not enabled for use")
	ErrForbidden          = errors.New("you do not have permission to perform this action")
	ErrValidation         = errors.New("invalid request")
	ErrNotFound           = errors.New("not found")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")

	// ErrTransient marks a missing entity during reconciliation. It is only
	// ever logged.
	ErrTransient = errors.New("transient reconciliation miss")
)

type kind struct {
	err    error
	status int
	code   string
}

var kinds = []kind{
	{ErrUnauthorized, http.StatusUnauthorized, "not_authenticated"},
	{ErrLimitExceeded, http.StatusUnprocessableEntity, "api_key_limit_exceeded"},
	{ErrKeyInactive, http.StatusUnprocessableEntity, "api_key_not_default"},
	{ErrForbidden, http.StatusForbidden, "permission_denied"},
	{ErrValidation, http.StatusBadRequest, "invalid"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
}

// Status returns the HTTP status for err, 500 for anything unclassified.
func Status(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns the stable error code for err.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "error"
}

type body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Write renders err. Unclassified errors never leak their message.
func Write(w http.ResponseWriter, err error) {
	status := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Error: msg, Code: Code(err)})
}
