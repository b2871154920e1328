// Package connections tracks which websocket sessions are open for which
// user, across every transport instance.
package connections

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Registry struct {
	pool       *pgxpool.Pool
	instanceID string
}

// NewRegistry returns a registry whose new rows are owned by instanceID.
func NewRegistry(pool *pgxpool.Pool, instanceID string) *Registry {
	return &Registry{pool: pool, instanceID: instanceID}
}

// NewConnectionID returns a dashless random uuid.
func NewConnectionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Register records a new session for the user and returns its id.
func (r *Registry) Register(ctx context.Context, userID uuid.UUID) (string, error) {
	id := NewConnectionID()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO websocket_connections (connection_id, user_id, instance_id)
		VALUES ($1, $2, $3)
	`, id, userID, r.instanceID)
	if err != nil {
		return "", fmt.Errorf("register connection: %w", err)
	}
	return id, nil
}

// Unregister removes the session. Removing an unknown id is not an error.
func (r *Registry) Unregister(ctx context.Context, connectionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM websocket_connections WHERE connection_id = $1`, connectionID)
	return err
}

// ConnectionsFor lists the user's open sessions, oldest first.
func (r *Registry) ConnectionsFor(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT connection_id FROM websocket_connections
		WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Touch refreshes last_seen on every row the instance owns.
func (r *Registry) Touch(ctx context.Context, instanceID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE websocket_connections SET last_seen = now() WHERE instance_id = $1
	`, instanceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReapStale deletes rows whose owner stopped heartbeating.
func (r *Registry) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM websocket_connections WHERE last_seen < now() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReapInstance deletes every row owned by instanceID, used on shutdown.
func (r *Registry) ReapInstance(ctx context.Context, instanceID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM websocket_connections WHERE instance_id = $1`, instanceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InstanceID is the owner stamped on rows this registry creates.
func (r *Registry) InstanceID() string { return r.instanceID }
