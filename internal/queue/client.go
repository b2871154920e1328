package queue

import (
	"context"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Inserter is the part of *river.Client used for enqueueing.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Client routes each kind onto its configured queue.
type Client struct {
	inserter    Inserter
	appQueue    string
	workerQueue string
}

func NewClient(inserter Inserter, appQueue, workerQueue string) *Client {
	return &Client{inserter: inserter, appQueue: appQueue, workerQueue: workerQueue}
}

// EnqueuePredict hands a prediction to the inference worker's queue.
func (c *Client) EnqueuePredict(ctx context.Context, args PredictArgs) error {
	_, err := c.inserter.Insert(ctx, args, &river.InsertOpts{Queue: c.workerQueue})
	return err
}

// EnqueueCompletion sends a finished prediction back to the application.
func (c *Client) EnqueueCompletion(ctx context.Context, args CompletionArgs) error {
	_, err := c.inserter.Insert(ctx, args, &river.InsertOpts{
		Queue:       c.appQueue,
		MaxAttempts: CompletionMaxAttempts,
	})
	return err
}
