package timerqueue

import (
	"context"
	"log/slog"
	"time"
)

// Handler processes one fired job. An error is logged but never retried
// automatically; the caller's business logic is expected to be
// idempotent against a job firing more than once (spec.md §4.4).
type Handler func(ctx context.Context, job Job) error

// Poll runs a tight loop draining due jobs from queue every interval
// until ctx is cancelled. Intended to run as a single goroutine per
// queue, started at process boot (mirrors the teacher's ticker-driven
// background loops in broker.go: a cleanup ticker and a metrics ticker,
// each a dedicated goroutine polling on its own interval).
func Poll(ctx context.Context, d *Dispatcher, queue string, interval time.Duration, log *slog.Logger, handle Handler) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := d.DrainDue(ctx, queue, time.Now())
			if err != nil {
				log.Error("timerqueue: drain failed", "queue", queue, "error", err)
				continue
			}
			for _, job := range jobs {
				if err := handle(ctx, job); err != nil {
					log.Error("timerqueue: handler failed", "queue", queue, "job_id", job.ID, "error", err)
				}
			}
		}
	}
}
