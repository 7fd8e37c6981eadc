package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/services"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

type PayoutDispatcher interface {
	Dispatch(ctx context.Context, reference string) error
}

type Sweeper interface {
	Sweep(ctx context.Context) (*services.SweepReport, error)
}

// Processor turns queued tasks into wallet operations
type Processor struct {
	payouts PayoutDispatcher
	sweeper Sweeper
}

func NewProcessor(payouts PayoutDispatcher, sweeper Sweeper) *Processor {
	return &Processor{payouts: payouts, sweeper: sweeper}
}

func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskPayoutDispatch, p.handlePayoutDispatch)
	mux.HandleFunc(TaskReconcile, p.handleReconcile)
	return mux
}

func (p *Processor) handlePayoutDispatch(ctx context.Context, t *asynq.Task) error {
	var payload PayoutDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Reference == "" {
		return fmt.Errorf("bad payout payload: %w", asynq.SkipRetry)
	}

	err := p.payouts.Dispatch(ctx, payload.Reference)
	switch {
	case err == nil:
		logger.WithField("reference", payload.Reference).Info("[JOBS] payout dispatched")
		return nil
	case errors.Is(err, ledger.ErrPayoutFailed):
		// already reversed by the dispatcher, retrying would only hit a terminal entry
		logger.WithField("reference", payload.Reference).WithError(err).Warn("[JOBS] payout rejected by partner")
		return nil
	default:
		logger.WithFields(logrus.Fields{
			"reference": payload.Reference,
			"code":      ledger.CodeOf(err),
		}).WithError(err).Error("[JOBS] payout dispatch failed, will retry")
		return err
	}
}

func (p *Processor) handleReconcile(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("bad reconcile payload: %w", asynq.SkipRetry)
		}
	}

	report, err := p.sweeper.Sweep(ctx)
	if err != nil {
		logger.WithError(err).Error("[JOBS] reconciliation sweep failed")
		return err
	}
	logger.WithFields(logrus.Fields{
		"trigger":  payload.Trigger,
		"skipped":  report.Skipped,
		"scanned":  report.Scanned,
		"resolved": report.Resolved,
		"errors":   report.Errors,
	}).Info("[JOBS] reconciliation sweep finished")
	return nil
}

// Worker runs the asynq server plus the scheduler that enqueues the periodic sweep
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	processor *Processor
	interval  time.Duration
}

func NewWorker(opt asynq.RedisConnOpt, processor *Processor, concurrency int, interval time.Duration) *Worker {
	if concurrency <= 0 {
		concurrency = 5
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueuePayouts:   10,
			QueueReconcile: 2,
		},
		Logger: logger.Logger(),
	})
	return &Worker{
		server:    server,
		scheduler: asynq.NewScheduler(opt, nil),
		processor: processor,
		interval:  interval,
	}
}

func (w *Worker) Start() error {
	task, err := NewReconcileTask("schedule")
	if err != nil {
		return err
	}
	if _, err := w.scheduler.Register(fmt.Sprintf("@every %s", w.interval), task,
		asynq.Queue(QueueReconcile),
		asynq.MaxRetry(0),
		asynq.Unique(w.interval),
	); err != nil {
		return err
	}
	if err := w.server.Start(w.processor.Mux()); err != nil {
		return err
	}
	if err := w.scheduler.Start(); err != nil {
		w.server.Shutdown()
		return err
	}
	logger.Infof("[JOBS] worker started (sweep every %s)", w.interval)
	return nil
}

func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}
