package connections

import (
	"context"
	"log/slog"
	"time"
)

// Store is the part of the registry exercised by the heartbeat.
type Store interface {
	Touch(ctx context.Context, instanceID string) (int64, error)
	ReapStale(ctx context.Context, olderThan time.Duration) (int64, error)
	ReapInstance(ctx context.Context, instanceID string) (int64, error)
}

// Heartbeat keeps this instance's connection rows fresh and removes rows left
// behind by instances that stopped without cleaning up.
type Heartbeat struct {
	Store      Store
	InstanceID string
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// Run blocks until ctx is cancelled. On return every row owned by this
// instance has been removed.
func (h *Heartbeat) Run(ctx context.Context) {
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("instance_id", h.InstanceID)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := h.Store.ReapInstance(cctx, h.InstanceID)
			cancel()
			if err != nil {
				log.Error("remove instance connections", "error", err)
			} else if n > 0 {
				log.Info("removed instance connections", "count", n)
			}
			return
		case <-ticker.C:
			h.beat(ctx, log)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context, log *slog.Logger) {
	if _, err := h.Store.Touch(ctx, h.InstanceID); err != nil {
		log.Warn("touch connections", "error", err)
	}
	n, err := h.Store.ReapStale(ctx, h.StaleAfter)
	if err != nil {
		log.Warn("reap stale connections", "error", err)
		return
	}
	if n > 0 {
		log.Info("reaped stale connections", "count", n)
	}
}
