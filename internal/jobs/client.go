package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// Queue enqueues wallet work onto the asynq queues
type Queue struct {
	client *asynq.Client
}

func NewQueue(opt asynq.RedisConnOpt) *Queue {
	return &Queue{client: asynq.NewClient(opt)}
}

// EnqueuePayout schedules the payout hand-off for a withdrawal. The task ID is
// derived from the reference, so enqueueing the same withdrawal twice is a no-op.
func (q *Queue) EnqueuePayout(ctx context.Context, reference string) error {
	task, err := NewPayoutDispatchTask(reference)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueuePayouts),
		asynq.TaskID("payout:"+reference),
		asynq.MaxRetry(10),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (q *Queue) Close() error {
	return q.client.Close()
}
