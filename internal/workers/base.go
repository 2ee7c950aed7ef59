package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/metrics"
)

// Report is a worker execution summary: named counts for the log line.
type Report map[string]int

// Runner is the unit of work a Worker schedules. Execute must be safe to
// call repeatedly; the Worker guarantees it never runs concurrently with
// itself.
type Runner interface {
	Name() string
	Execute(ctx context.Context) (Report, error)
}

// Worker runs a Runner on a fixed interval with single-flight overlap
// protection and a manual trigger. This is the only concurrency primitive
// in the recovery core: one busy flag per worker, no cross-instance
// locking (single backend process assumed).
type Worker struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
	running    atomic.Bool
	stopCh     chan struct{}
	stopped    atomic.Bool
	log        *logger.Logger
}

func NewWorker(runner Runner, interval time.Duration, runOnStart bool, baseLog *logger.Logger) *Worker {
	return &Worker{
		runner:     runner,
		interval:   interval,
		runOnStart: runOnStart,
		stopCh:     make(chan struct{}),
		log:        baseLog.With("worker", runner.Name()),
	}
}

func (w *Worker) Name() string { return w.runner.Name() }

// Start begins recurring execution in a goroutine. Errors from periodic
// executions are logged and swallowed so the ticker survives them.
func (w *Worker) Start() {
	if w.runOnStart {
		go func() {
			if _, err := w.ExecuteNow(context.Background()); err != nil {
				w.log.Error("Initial execution failed", "error", err)
			}
		}()
	}
	if w.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.ExecuteNow(context.Background()); err != nil {
					w.log.Error("Scheduled execution failed", "error", err)
				}
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop prevents further scheduled executions. An in-flight execution is
// not interrupted.
func (w *Worker) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stopCh)
	}
}

// ExecuteNow performs one execution. If one is already in progress the
// call is a no-op returning a nil Report: overlap is prevented by
// skip-if-busy, never by queueing.
func (w *Worker) ExecuteNow(ctx context.Context) (report Report, err error) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug("Execution already in progress, skipping")
		return nil, nil
	}
	defer w.running.Store(false)

	ctx, span := otel.Tracer("workers").Start(ctx, w.runner.Name()+".execute")
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
		elapsed := time.Since(start)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			w.log.Error("Execution failed", "elapsed", elapsed, "error", err)
		} else {
			w.log.Debug("Execution finished", "elapsed", elapsed, "report", report)
		}
		metrics.WorkerTicks.WithLabelValues(w.runner.Name(), outcome).Inc()
		metrics.WorkerTickDuration.WithLabelValues(w.runner.Name()).Observe(elapsed.Seconds())
		span.SetAttributes(attribute.String("worker.outcome", outcome))
	}()

	report, err = w.runner.Execute(ctx)
	return report, err
}

// IsRunning reports whether an execution is currently in flight.
func (w *Worker) IsRunning() bool { return w.running.Load() }
