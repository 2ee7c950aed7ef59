package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	WorkerTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_worker_ticks_total",
		Help: "Worker executions, by worker and outcome",
	}, []string{"worker", "outcome"})
	WorkerTickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_worker_tick_duration_seconds",
		Help:    "Duration of one worker execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})
	BotsMarkedFatal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_bots_marked_fatal_total",
		Help: "Bots transitioned to FATAL, by source component",
	}, []string{"source"})
	SlotsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_slots_recovered_total",
		Help: "Pool slots reset back to IDLE by recovery",
	})
	SlotsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_slots_deleted_total",
		Help: "Pool slots deleted after exhausting recovery attempts",
	})
	OrphansDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_orphans_deleted_total",
		Help: "Orphaned resources removed by the slot sync, by side",
	}, []string{"side"})
)

// Handler exposes the /metrics handler, registering collectors once.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			WorkerTicks,
			WorkerTickDuration,
			BotsMarkedFatal,
			SlotsRecovered,
			SlotsDeleted,
			OrphansDeleted,
		)
	})
	return promhttp.Handler()
}
