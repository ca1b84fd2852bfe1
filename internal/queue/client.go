package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued is returned when a warm task for the same fingerprint is
// still pending or running.
var ErrAlreadyQueued = errors.New("derivative warm-up already queued")

type Client struct {
	client  *asynq.Client
	queue   string
	retries int
	timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		retries: 5,
		timeout: 3 * time.Minute,
	}
}

// EnqueueWarmDerivative schedules a warm-up. The task ID is derived from the
// fingerprint so duplicate requests collapse into one pending task.
func (c *Client) EnqueueWarmDerivative(ctx context.Context, payload WarmDerivativePayload) (*asynq.TaskInfo, error) {
	task, err := NewWarmDerivativeTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(TaskID(payload.Fingerprint)),
		asynq.MaxRetry(c.retries),
		asynq.Timeout(c.timeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, ErrAlreadyQueued
	}
	return info, err
}

func (c *Client) Close() error {
	return c.client.Close()
}

func TaskID(fingerprint string) string {
	return "warm:" + fingerprint
}
