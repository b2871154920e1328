// Package ws is the websocket transport that carries prediction results to
// connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/detectai/backend/internal/fanout"
	"github.com/detectai/backend/internal/models"
)

// CloseUnauthenticated is sent to clients whose handshake token is missing or
// invalid.
const CloseUnauthenticated = 4001

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 64 * 1024
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type Registry interface {
	Register(ctx context.Context, userID uuid.UUID) (string, error)
	Unregister(ctx context.Context, connectionID string) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (fanout.Stream, error)
}

type Handler struct {
	Auth     Authenticator
	Registry Registry
	Bus      Subscriber
	Logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(auth Authenticator, registry Registry, bus Subscriber, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Auth:     auth,
		Registry: registry,
		Bus:      bus,
		Logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ServeHTTP upgrades first so that authentication failures can be reported
// with a close code the client understands.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := h.upgrader
	// Browsers can only pass the token as a subprotocol; it has to be echoed.
	up.Subprotocols = websocket.Subprotocols(r)
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	user, err := h.authenticate(r)
	if err != nil {
		h.Logger.Info("websocket rejected", "error", err)
		closeWith(conn, CloseUnauthenticated, "authentication failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connID, err := h.Registry.Register(ctx, user.ID)
	if err != nil {
		h.Logger.Error("register connection", "user_id", user.ID, "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "registration failed")
		return
	}
	log := h.Logger.With("connection_id", connID, "user_id", user.ID)
	defer func() {
		if err := h.Registry.Unregister(context.Background(), connID); err != nil {
			log.Error("unregister connection", "error", err)
		}
	}()

	sub, err := h.Bus.Subscribe(ctx, fanout.ChannelFor(connID))
	if err != nil {
		log.Error("subscribe connection", "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "subscription failed")
		return
	}
	defer sub.Close()

	log.Info("websocket connected")
	c := &client{conn: conn, log: log}
	go c.writePump(ctx, sub.Messages())
	c.readPump()
	log.Info("websocket disconnected")
}

// authenticate accepts the token from the Authentication header, a bearer
// Authorization header, or the first offered subprotocol.
func (h *Handler) authenticate(r *http.Request) (*models.User, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, errMissingToken
	}
	return h.Auth.Authenticate(r.Context(), token)
}

func tokenFromRequest(r *http.Request) string {
	if v := stripBearer(r.Header.Get("Authentication")); v != "" {
		return v
	}
	if v := stripBearer(r.Header.Get("Authorization")); v != "" {
		return v
	}
	if protos := websocket.Subprotocols(r); len(protos) > 0 {
		return protos[0]
	}
	return ""
}

func stripBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// unwrap extracts the client-facing payload of a fan-out message.
func unwrap(raw []byte) ([]byte, bool) {
	var m fanout.Message
	if err := json.Unmarshal(raw, &m); err != nil || m.Type != fanout.MessageTypeSendResult {
		return nil, false
	}
	return m.Message, true
}
