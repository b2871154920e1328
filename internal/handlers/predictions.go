package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/dispatch"
	"github.com/detectai/backend/internal/middleware"
	"github.com/detectai/backend/internal/models"
)

type Admitter interface {
	Admit(ctx context.Context, user *models.User, rawKey string) (*models.APIKey, *models.UsageLog, error)
	Abandon(ctx context.Context, logID int64) error
}

type Submitter interface {
	Submit(ctx context.Context, t dispatch.PredictTask) error
}

type RequestValidator interface {
	ValidatePredictRequest(doc json.RawMessage) error
}

// PredictionHandler serves POST /api/predictions.
type PredictionHandler struct {
	Gate       Admitter
	Dispatcher Submitter
	Validator  RequestValidator
	Logger     *slog.Logger
}

func NewPredictionHandler(gate Admitter, d Submitter, v RequestValidator, logger *slog.Logger) *PredictionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionHandler{Gate: gate, Dispatcher: d, Validator: v, Logger: logger}
}

type predictRequest struct {
	ImageURL string `json:"image_url"`
}

// Create validates the body, admits the request against the presented key,
// and enqueues it. The result arrives later over the websocket.
func (h *PredictionHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		apperr.Write(w, fmt.Errorf("%w: unreadable body", apperr.ErrValidation))
		return
	}
	if err := h.Validator.ValidatePredictRequest(body); err != nil {
		apperr.Write(w, err)
		return
	}
	var req predictRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apperr.Write(w, fmt.Errorf("%w: invalid JSON", apperr.ErrValidation))
		return
	}

	user := middleware.UserFromCtx(r.Context())
	_, l, err := h.Gate.Admit(r.Context(), user, middleware.APIKeyFromRequest(r))
	if err != nil {
		writeError(w, h.Logger, "admit prediction", err)
		return
	}

	err = h.Dispatcher.Submit(r.Context(), dispatch.PredictTask{Email: user.Email, ImageURL: req.ImageURL, LogID: l.ID})
	if err != nil {
		_ = h.Gate.Abandon(context.WithoutCancel(r.Context()), l.ID)
		writeError(w, h.Logger, "dispatch prediction", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
