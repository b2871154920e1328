// Package fanout delivers a completed prediction to every open session of
// its user, wherever that session is held.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

const MessageTypeSendResult = "send_result"

// Message is what a transport instance receives for one connection.
type Message struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// ChannelFor names the pub/sub channel a connection listens on.
func ChannelFor(connectionID string) string {
	return "ws:conn:" + connectionID
}

type ConnectionLister interface {
	ConnectionsFor(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Publisher struct {
	Connections ConnectionLister
	Bus         Broadcaster
	Logger      *slog.Logger
}

func NewPublisher(conns ConnectionLister, bus Broadcaster, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{Connections: conns, Bus: bus, Logger: logger}
}

// Publish sends payload once to each of the user's connections. There is no
// retry; a failed connection does not stop delivery to the others.
func (p *Publisher) Publish(ctx context.Context, userID uuid.UUID, payload json.RawMessage) error {
	ids, err := p.Connections.ConnectionsFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	body, err := json.Marshal(Message{Type: MessageTypeSendResult, Message: payload})
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := p.Bus.Publish(ctx, ChannelFor(id), body); err != nil {
			p.Logger.Warn("fan-out publish failed", "connection_id", id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
