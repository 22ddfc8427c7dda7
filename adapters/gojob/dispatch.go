package gojob

import (
	"context"
	"fmt"
	"strconv"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/claims-pipeline/core"
)

// DispatchLoop drives recurring connector dispatch passes through a job
// queue. The producer enqueues one execution message per tick and the
// consumer drains deliveries and runs the dispatch pass, so the tick can
// move to a shared broker without touching the connector.
type DispatchLoop struct {
	Enqueuer core.JobEnqueuer
	Dequeuer core.JobDequeuer
	Execute  func(ctx context.Context) error
	Interval time.Duration
	Logger   core.Logger
}

// Run blocks until the context is cancelled.
func (l *DispatchLoop) Run(ctx context.Context) error {
	if l == nil || l.Enqueuer == nil || l.Dequeuer == nil || l.Execute == nil {
		return fmt.Errorf("gojob: dispatch loop is not configured")
	}
	interval := l.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go l.produce(ctx, interval)
	return l.consume(ctx)
}

func (l *DispatchLoop) produce(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			msg := &core.JobExecutionMessage{
				JobID:          JobIDDispatchDue,
				IdempotencyKey: strconv.FormatInt(tick.UnixNano(), 10),
			}
			if err := l.Enqueuer.Enqueue(ctx, msg); err != nil {
				l.logger(ctx).Error("dispatch tick enqueue failed", "error", err.Error())
			}
		}
	}
}

func (l *DispatchLoop) consume(ctx context.Context) error {
	for {
		delivery, err := l.Dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger(ctx).Error("dispatch dequeue failed", "error", err.Error())
			continue
		}
		l.handle(ctx, delivery)
	}
}

func (l *DispatchLoop) handle(ctx context.Context, delivery core.JobDelivery) {
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDDispatchDue {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		l.logger(ctx).Warn("unexpected message on dispatch queue", "job_id", jobID)
		_ = delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "unexpected job id",
		})
		return
	}
	if err := l.Execute(ctx); err != nil {
		// A dispatch pass is idempotent and the next tick repeats it, so a
		// failed pass is dead-lettered instead of requeued.
		l.logger(ctx).Error("connector dispatch pass failed", "error", err.Error())
		_ = delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		})
		return
	}
	if err := delivery.Ack(ctx); err != nil {
		l.logger(ctx).Error("dispatch ack failed", "error", err.Error())
	}
}

func (l *DispatchLoop) logger(ctx context.Context) core.Logger {
	logger := glog.Ensure(l.Logger)
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	return logger
}
