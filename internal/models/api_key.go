package models

import (
	"time"

	"github.com/google/uuid"
)

// API key tiers.
const (
	APIKeyTypeFree       = "free_tier"
	APIKeyTypeEnterprise = "enterprise_tier"
	APIKeyTypeCustom     = "custom_tier"
)

// DefaultMaximumUsage returns the quota a tier starts with when none is given.
func DefaultMaximumUsage(keyType string) int64 {
	switch keyType {
	case APIKeyTypeEnterprise, APIKeyTypeCustom:
		return 10000
	default:
		return 100
	}
}

// ValidAPIKeyType reports whether t is a known tier.
func ValidAPIKeyType(t string) bool {
	switch t {
	case APIKeyTypeFree, APIKeyTypeEnterprise, APIKeyTypeCustom:
		return true
	}
	return false
}

type APIKey struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	KeyHash      string     `json:"-"`
	EncryptedKey string     `json:"-"`
	KeyHint      string     `json:"api_key"`
	Type         string     `json:"api_key_type"`
	MaximumUsage int64      `json:"maximum_usage"`
	TotalUsage   int64      `json:"total_usage"`
	IsDefault    bool       `json:"is_default"`
	LastUsed     *time.Time `json:"last_used"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Exhausted reports whether the key has no quota left.
func (k *APIKey) Exhausted() bool {
	return k.TotalUsage >= k.MaximumUsage
}
