package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConns struct {
	ids map[uuid.UUID][]string
	err error
}

func (s stubConns) ConnectionsFor(_ context.Context, userID uuid.UUID) ([]string, error) {
	return s.ids[userID], s.err
}

type recordingBus struct {
	mu   sync.Mutex
	sent map[string][]byte
	fail map[string]bool
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[channel] {
		return errors.New("broken pipe")
	}
	if b.sent == nil {
		b.sent = map[string][]byte{}
	}
	b.sent[channel] = payload
	return nil
}

func TestPublish_EveryConnection(t *testing.T) {
	user := uuid.New()
	bus := &recordingBus{}
	p := NewPublisher(stubConns{ids: map[uuid.UUID][]string{user: {"c1", "c2"}}}, bus, nil)

	require.NoError(t, p.Publish(context.Background(), user, json.RawMessage(`{"score":0.5}`)))
	require.Len(t, bus.sent, 2)
	var m Message
	require.NoError(t, json.Unmarshal(bus.sent["ws:conn:c1"], &m))
	assert.Equal(t, "send_result", m.Type)
	assert.JSONEq(t, `{"score":0.5}`, string(m.Message))
	assert.Contains(t, bus.sent, "ws:conn:c2")
}

func TestPublish_NoConnectionsIsNoop(t *testing.T) {
	bus := &recordingBus{}
	p := NewPublisher(stubConns{}, bus, nil)
	require.NoError(t, p.Publish(context.Background(), uuid.New(), json.RawMessage(`{}`)))
	assert.Empty(t, bus.sent)
}

func TestPublish_PartialFailureKeepsGoing(t *testing.T) {
	user := uuid.New()
	bus := &recordingBus{fail: map[string]bool{"ws:conn:c1": true}}
	p := NewPublisher(stubConns{ids: map[uuid.UUID][]string{user: {"c1", "c2"}}}, bus, nil)

	err := p.Publish(context.Background(), user, json.RawMessage(`{}`))
	assert.Error(t, err)
	assert.Contains(t, bus.sent, "ws:conn:c2")
}

func TestPublish_RegistryError(t *testing.T) {
	p := NewPublisher(stubConns{err: errors.New("db down")}, &recordingBus{}, nil)
	assert.Error(t, p.Publish(context.Background(), uuid.New(), json.RawMessage(`{}`)))
}

func TestRedisBus_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	bus := NewRedisBus(client)
	channel := ChannelFor(uuid.NewString())
	sub, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, channel, []byte("hello")))
	select {
	case got := <-sub.Messages():
		assert.Equal(t, "hello", string(got))
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}
