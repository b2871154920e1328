package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
	"github.com/detectai/backend/internal/repository"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = fmt.Errorf("%w: email already registered", apperr.ErrValidation)

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)

const (
	tokenTTL          = 24 * time.Hour
	minPasswordLength = 8
)

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// KeyRevealer returns the raw default key for the login response.
type KeyRevealer interface {
	Reveal(ctx context.Context, userID uuid.UUID) (string, error)
}

type Service interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type LoginResult struct {
	Access  string
	IsAdmin bool
	APIKey  string
}

type service struct {
	users  UserStore
	keys   KeyRevealer
	secret []byte
	now    func() time.Time
}

func NewService(users UserStore, keys KeyRevealer, secret string) *service {
	return &service{users: users, keys: keys, secret: []byte(secret), now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	IsAdmin bool `json:"is_admin"`
}

func (s *service) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", apperr.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{Email: email, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, u); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	token, err := s.issueToken(u)
	if err != nil {
		return nil, err
	}
	raw, err := s.keys.Reveal(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("reveal api key: %w", err)
	}
	return &LoginResult{Access: token, IsAdmin: u.IsPrivileged(), APIKey: raw}, nil
}

func (s *service) issueToken(u *models.User) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		IsAdmin: u.IsPrivileged(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken checks an HS256 access token and returns its subject.
func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid subject", apperr.ErrUnauthorized)
	}
	return id, nil
}

// Authenticate resolves a token to its current user record, so privilege
// changes apply without reissuing tokens.
func (s *service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	id, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: user no longer exists", apperr.ErrUnauthorized)
	}
	return u, err
}
