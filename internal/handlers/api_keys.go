package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/keys"
	"github.com/detectai/backend/internal/middleware"
	"github.com/detectai/backend/internal/models"
)

// KeyService is the subset of keys.Service the handler calls.
type KeyService interface {
	CreateKey(ctx context.Context, caller *models.User, p keys.CreateKeyParams) (*models.APIKey, string, error)
	SetDefault(ctx context.Context, owner, keyID uuid.UUID, isDefault bool) (*models.APIKey, error)
	Delete(ctx context.Context, owner, keyID uuid.UUID) error
	List(ctx context.Context, caller *models.User) ([]*models.APIKey, error)
	UsageReport(ctx context.Context, caller *models.User, keyID uuid.UUID, now time.Time) ([]models.DayUsage, error)
	StatsReport(ctx context.Context, caller *models.User, now time.Time) ([]models.DayUsage, error)
}

// APIKeyHandler serves /api/api-keys and /api/stats.
type APIKeyHandler struct {
	Keys   KeyService
	Logger *slog.Logger
	Now    func() time.Time
}

func NewAPIKeyHandler(svc KeyService, logger *slog.Logger) *APIKeyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyHandler{Keys: svc, Logger: logger, Now: time.Now}
}

type createKeyRequest struct {
	APIKeyType   string  `json:"api_key_type"`
	IsDefault    bool    `json:"is_default"`
	MaximumUsage *int64  `json:"maximum_usage"`
	UserID       *string `json:"user_id"`
}

type updateKeyRequest struct {
	IsDefault *bool `json:"is_default"`
}

// List handles GET /api/api-keys.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Keys.List(r.Context(), middleware.UserFromCtx(r.Context()))
	if err != nil {
		writeError(w, h.Logger, "list api keys", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Create handles POST /api/api-keys. The response is the only time the raw
// key is returned from this endpoint.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		apperr.Write(w, fmt.Errorf("%w: invalid JSON", apperr.ErrValidation))
		return
	}
	p := keys.CreateKeyParams{Type: req.APIKeyType, IsDefault: req.IsDefault, MaximumUsage: req.MaximumUsage}
	if req.UserID != nil && *req.UserID != "" {
		owner, err := uuid.Parse(*req.UserID)
		if err != nil {
			apperr.Write(w, fmt.Errorf("%w: malformed user_id", apperr.ErrValidation))
			return
		}
		p.Owner = owner
	}
	k, raw, err := h.Keys.CreateKey(r.Context(), middleware.UserFromCtx(r.Context()), p)
	if err != nil {
		writeError(w, h.Logger, "create api key", err)
		return
	}
	resp := *k
	resp.KeyHint = raw
	writeJSON(w, http.StatusCreated, resp)
}

// Update handles PUT /api/api-keys/{id}.
func (h *APIKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req updateKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		apperr.Write(w, fmt.Errorf("%w: invalid JSON", apperr.ErrValidation))
		return
	}
	if req.IsDefault == nil {
		apperr.Write(w, fmt.Errorf("%w: is_default is required", apperr.ErrValidation))
		return
	}
	k, err := h.Keys.SetDefault(r.Context(), middleware.UserFromCtx(r.Context()).ID, id, *req.IsDefault)
	if err != nil {
		writeError(w, h.Logger, "update api key", err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

// Delete handles DELETE /api/api-keys/{id}.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if err := h.Keys.Delete(r.Context(), middleware.UserFromCtx(r.Context()).ID, id); err != nil {
		writeError(w, h.Logger, "delete api key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Usage handles GET /api/api-keys/{id}/usage.
func (h *APIKeyHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	report, err := h.Keys.UsageReport(r.Context(), middleware.UserFromCtx(r.Context()), id, h.Now())
	if err != nil {
		writeError(w, h.Logger, "api key usage", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Stats handles GET /api/stats/api-key-logs.
func (h *APIKeyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	report, err := h.Keys.StatsReport(r.Context(), middleware.UserFromCtx(r.Context()), h.Now())
	if err != nil {
		writeError(w, h.Logger, "api key stats", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
