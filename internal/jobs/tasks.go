package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TaskPayoutDispatch = "wallet:payout_dispatch"
	TaskReconcile      = "wallet:reconcile"
)

const (
	QueuePayouts   = "payouts"
	QueueReconcile = "reconcile"
)

type PayoutDispatchPayload struct {
	Reference  string    `json:"reference"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type ReconcilePayload struct {
	Trigger string `json:"trigger"`
}

func NewPayoutDispatchTask(reference string) (*asynq.Task, error) {
	b, err := json.Marshal(PayoutDispatchPayload{Reference: reference, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPayoutDispatch, b), nil
}

func NewReconcileTask(trigger string) (*asynq.Task, error) {
	b, err := json.Marshal(ReconcilePayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, b), nil
}
