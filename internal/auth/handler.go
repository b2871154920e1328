package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	DateJoined string `json:"date_joined"`
}

type LoginResponse struct {
	Access  string `json:"access"`
	IsAdmin bool   `json:"is_admin"`
	APIKey  string `json:"api_key"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, fmt.Errorf("%w: invalid JSON", apperr.ErrValidation))
		return
	}
	if req.Email == "" || req.Password == "" {
		apperr.Write(w, fmt.Errorf("%w: email and password are required", apperr.ErrValidation))
		return
	}
	u, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if apperr.Status(err) == http.StatusInternalServerError {
			h.log.Error("register failed", "error", err)
		}
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userToResponse(u))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, fmt.Errorf("%w: invalid JSON", apperr.ErrValidation))
		return
	}
	if req.Email == "" || req.Password == "" {
		apperr.Write(w, fmt.Errorf("%w: missing email or password", apperr.ErrValidation))
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if apperr.Status(err) == http.StatusInternalServerError {
			h.log.Error("login failed", "error", err)
		}
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Access: res.Access, IsAdmin: res.IsAdmin, APIKey: res.APIKey})
}

func userToResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:         u.ID.String(),
		Email:      u.Email,
		DateJoined: u.DateJoined.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
