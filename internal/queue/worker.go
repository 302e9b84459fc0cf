package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zeed80/invoice-recognition/internal/invoice"
)

// defaultPollInterval is how long a worker sleeps when the queue has no
// pending work for it.
const defaultPollInterval = 500 * time.Millisecond

// Worker drains invoice tasks from a Manager and runs them through the
// extraction pipeline. All lifecycle transitions go through the queue;
// the worker never touches a task after reporting its outcome.
type Worker struct {
	queue     *Manager
	processor *invoice.Processor
	opts      invoice.Options
	interval  time.Duration
}

// NewWorker creates a Worker polling at the default interval.
func NewWorker(queue *Manager, processor *invoice.Processor, opts invoice.Options) *Worker {
	return &Worker{
		queue:     queue,
		processor: processor,
		opts:      opts,
		interval:  defaultPollInterval,
	}
}

// Run claims and executes tasks until ctx is canceled. Cancellation is
// cooperative: a task already being processed runs to its next
// cancellation point, and no new task is claimed afterwards.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopped")
			return
		default:
		}

		task, ok := w.queue.ClaimTask(TypeInvoice)
		if !ok {
			select {
			case <-ctx.Done():
				slog.Info("Worker stopped")
				return
			case <-time.After(w.interval):
			}
			continue
		}

		w.execute(ctx, task)
	}
}

func (w *Worker) execute(ctx context.Context, task *Task) {
	path, ok := task.Payload["image_path"].(string)
	if !ok || path == "" {
		w.queue.FailTask(task.ID, "task payload has no image_path")
		return
	}

	structured, err := w.processor.Process(ctx, path, w.opts)
	if err != nil {
		w.queue.FailTask(task.ID, fmt.Sprintf("processing %s: %v", path, err))
		return
	}

	w.queue.CompleteTask(task.ID, map[string]any{
		"image_path": path,
		"invoice":    structured,
	})
}
