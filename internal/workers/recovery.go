package workers

import (
	"context"
	"fmt"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/queue"
	"github.com/meetloop/fleet-backend/internal/workers/strategies"
)

// BotRecoveryWorker runs every recovery strategy in order on each tick,
// isolating strategy failures from each other, then drains the deployment
// queue. Strategies run sequentially to bound platform API load; one slow
// strategy delays the others within a tick, never across ticks.
type BotRecoveryWorker struct {
	strategies  []strategies.Strategy
	deployQueue *queue.DeploymentQueue
	log         *logger.Logger
}

func NewBotRecoveryWorker(strats []strategies.Strategy, deployQueue *queue.DeploymentQueue, baseLog *logger.Logger) *BotRecoveryWorker {
	return &BotRecoveryWorker{
		strategies:  strats,
		deployQueue: deployQueue,
		log:         baseLog.With("worker", "BotRecoveryWorker"),
	}
}

func (w *BotRecoveryWorker) Name() string { return "bot-recovery" }

func (w *BotRecoveryWorker) Execute(ctx context.Context) (Report, error) {
	var total strategies.Result

	for _, strat := range w.strategies {
		result, err := w.runStrategy(ctx, strat)
		if err != nil {
			w.log.Error("Recovery strategy failed", "strategy", strat.Name(), "error", err)
			total.Failed++
			continue
		}
		total.Merge(result)
		if result.Recovered > 0 || result.Failed > 0 {
			w.log.Info("Recovery strategy finished",
				"strategy", strat.Name(), "recovered", result.Recovered, "failed", result.Failed, "counters", result.Counters)
		}
	}

	if total.Recovered > 0 || total.Failed > 0 {
		w.log.Info("Recovery pass complete", "recovered", total.Recovered, "failed", total.Failed, "counters", total.Counters)
	}

	w.drainDeploymentQueue(ctx)

	report := Report{"recovered": total.Recovered, "failed": total.Failed}
	for name, n := range total.Counters {
		report[name] = n
	}
	return report, nil
}

// runStrategy isolates a single strategy, converting panics to errors so
// the remaining strategies still run.
func (w *BotRecoveryWorker) runStrategy(ctx context.Context, strat strategies.Strategy) (result strategies.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &strategyPanicError{strategy: strat.Name(), value: r}
		}
	}()
	return strat.Recover(ctx)
}

// drainDeploymentQueue is best-effort: a queue hiccup never blocks the
// next recovery tick.
func (w *BotRecoveryWorker) drainDeploymentQueue(ctx context.Context) {
	if w.deployQueue == nil {
		return
	}
	released := w.deployQueue.ReleaseExpired()
	started := w.deployQueue.ProcessQueue(ctx)
	stats := w.deployQueue.GetStats()
	if released > 0 || started > 0 || stats.Queued > 0 {
		w.log.Info("Drained deployment queue",
			"released_expired", released, "started", started,
			"active", stats.Active, "max_concurrent", stats.MaxConcurrent, "queued", stats.Queued)
	}
}

type strategyPanicError struct {
	strategy string
	value    interface{}
}

func (e *strategyPanicError) Error() string {
	return fmt.Sprintf("strategy %s panicked: %v", e.strategy, e.value)
}
