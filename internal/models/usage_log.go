package models

import (
	"time"

	"github.com/google/uuid"
)

// Usage log statuses. LogStatuses keeps the order reports are rendered in.
const (
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
	LogStatusPending = "pending"
)

var LogStatuses = []string{LogStatusSuccess, LogStatusFailed, LogStatusPending}

// TerminalStatus maps a worker-reported status onto a terminal log status.
// Anything other than success counts as a failure.
func TerminalStatus(s string) string {
	if s == LogStatusSuccess {
		return LogStatusSuccess
	}
	return LogStatusFailed
}

type UsageLog struct {
	ID        int64     `json:"id"`
	APIKeyID  uuid.UUID `json:"api_key_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// DayUsage is one row of a usage report.
type DayUsage struct {
	Day      string        `json:"day"`
	Statuses []StatusCount `json:"statuses"`
}
