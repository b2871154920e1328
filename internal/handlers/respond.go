package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/detectai/backend/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err and logs it when it is not a client error.
func writeError(w http.ResponseWriter, log *slog.Logger, msg string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		log.Error(msg, "error", err)
	}
	apperr.Write(w, err)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed id %q", apperr.ErrNotFound, raw)
	}
	return id, nil
}

const maxBodyBytes = 1 << 20
