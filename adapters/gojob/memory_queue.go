package gojob

import (
	"context"
	"fmt"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is a process-local enqueuer/dequeuer pair for single-binary
// deployments. Distributed deployments substitute one of the go-job broker
// adapters; both sides of the dispatch loop only see the queue contracts.
type MemoryQueue struct {
	ch chan *job.ExecutionMessage
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 16
	}
	return &MemoryQueue{ch: make(chan *job.ExecutionMessage, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if q == nil || q.ch == nil {
		return fmt.Errorf("gojob: memory queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- msg:
		return nil
	default:
		// A full queue already has work pending. Periodic producers rely on
		// the next tick rather than a backlog.
		return nil
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil || q.ch == nil {
		return nil, fmt.Errorf("gojob: memory queue is not configured")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-q.ch:
		return &memoryDelivery{queue: q, msg: msg}, nil
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	if d == nil {
		return nil
	}
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error { return nil }

func (d *memoryDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if d == nil || d.queue == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	if !opts.Requeue || opts.DeadLetter {
		return nil
	}
	if opts.Delay > 0 {
		msg := d.msg
		q := d.queue
		time.AfterFunc(opts.Delay, func() {
			_ = q.Enqueue(context.Background(), msg)
		})
		return nil
	}
	return d.queue.Enqueue(ctx, d.msg)
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
