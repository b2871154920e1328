package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type History struct {
	ID        int64           `json:"id"`
	UserID    uuid.UUID       `json:"-"`
	UserEmail string          `json:"user"`
	ImageURL  string          `json:"image_url"`
	Results   json.RawMessage `json:"results"`
	LogID     *int64          `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
}
