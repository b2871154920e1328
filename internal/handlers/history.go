package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/detectai/backend/internal/middleware"
	"github.com/detectai/backend/internal/models"
)

const (
	recentWindow = 5 * 24 * time.Hour
	recentLimit  = 10
)

type HistoryReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.History, error)
	ListAll(ctx context.Context) ([]*models.History, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.History, error)
}

// HistoryHandler serves /api/history.
type HistoryHandler struct {
	History HistoryReader
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewHistoryHandler(h HistoryReader, logger *slog.Logger) *HistoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{History: h, Logger: logger, Now: time.Now}
}

// List returns the caller's history, or everyone's for admins.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	var (
		list []*models.History
		err  error
	)
	if user.IsPrivileged() {
		list, err = h.History.ListAll(r.Context())
	} else {
		list, err = h.History.ListByUser(r.Context(), user.ID)
	}
	if err != nil {
		writeError(w, h.Logger, "list history", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Recent is the admin feed of the latest predictions.
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	list, err := h.History.ListRecent(r.Context(), h.Now().Add(-recentWindow), recentLimit)
	if err != nil {
		writeError(w, h.Logger, "recent history", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
