package models

import (
	"time"

	"github.com/google/uuid"
)

// Connection is one live websocket session as seen by the registry.
type Connection struct {
	ConnectionID string    `json:"connection_id"`
	UserID       uuid.UUID `json:"user_id"`
	InstanceID   string    `json:"instance_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeen     time.Time `json:"last_seen"`
}
