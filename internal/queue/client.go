package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

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

// EnqueueNormalizeImage schedules a job. The job id doubles as the task id so a job
// started twice is only queued once.
func (c *Client) EnqueueNormalizeImage(ctx context.Context, payload NormalizeImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewNormalizeImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.retries),
		asynq.Timeout(c.timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
