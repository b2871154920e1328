// Package queue defines the durable job contracts exchanged with the
// inference worker and the River client that carries them.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/riverqueue/river"
)

const (
	PredictKind    = "ai_server.predict"
	CompletionKind = "detect_ai.predict_result"

	// CompletionMaxAttempts bounds redelivery of a completion.
	CompletionMaxAttempts = 3
)

// PredictArgs asks the inference worker to score one image.
type PredictArgs struct {
	Email    string `json:"email"`
	ImageURL string `json:"image_url"`
	LogID    int64  `json:"log_id"`
}

func (PredictArgs) Kind() string { return PredictKind }

// CompletionArgs is the worker's answer. On the wire it is a single flat
// object: the model output merged with email, image_url, log_id and status.
// Payload is that object without email and log_id, which is what clients
// receive and history stores.
type CompletionArgs struct {
	Email    string
	ImageURL string
	LogID    int64
	Status   string
	Payload  json.RawMessage
}

func (CompletionArgs) Kind() string { return CompletionKind }

func (CompletionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: CompletionMaxAttempts}
}

// NewCompletion merges a model result object with the routing fields.
// A nil or non-object result contributes nothing.
func NewCompletion(p PredictArgs, status string, result json.RawMessage) (CompletionArgs, error) {
	fields := map[string]json.RawMessage{}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &fields); err != nil {
			fields = map[string]json.RawMessage{}
		}
	}
	delete(fields, "email")
	delete(fields, "log_id")
	fields["image_url"] = mustRaw(p.ImageURL)
	fields["status"] = mustRaw(status)
	payload, err := json.Marshal(fields)
	if err != nil {
		return CompletionArgs{}, err
	}
	return CompletionArgs{Email: p.Email, ImageURL: p.ImageURL, LogID: p.LogID, Status: status, Payload: payload}, nil
}

func (c CompletionArgs) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(c.Payload) > 0 {
		if err := json.Unmarshal(c.Payload, &fields); err != nil {
			return nil, fmt.Errorf("completion payload: %w", err)
		}
	}
	fields["email"] = mustRaw(c.Email)
	fields["image_url"] = mustRaw(c.ImageURL)
	fields["log_id"] = mustRaw(c.LogID)
	fields["status"] = mustRaw(c.Status)
	return json.Marshal(fields)
}

func (c *CompletionArgs) UnmarshalJSON(data []byte) error {
	var head struct {
		Email    string `json:"email"`
		ImageURL string `json:"image_url"`
		LogID    *int64 `json:"log_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.LogID == nil {
		return errors.New("completion: missing log_id")
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "email")
	delete(fields, "log_id")
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	*c = CompletionArgs{Email: head.Email, ImageURL: head.ImageURL, LogID: *head.LogID, Status: head.Status, Payload: payload}
	return nil
}

func mustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
