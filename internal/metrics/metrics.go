package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	botStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "starts_total",
			Help:      "Number of successful bot starts.",
		}, []string{"name"},
	)
	botSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "spawn_failures_total",
			Help:      "Number of start requests whose process could not be spawned.",
		}, []string{"name"},
	)
	botStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "stops_total",
			Help:      "Number of stop requests that delivered a termination signal.",
		}, []string{"name"},
	)
	botExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "exits_total",
			Help:      "Number of observed bot process exits by outcome.",
		}, []string{"name", "outcome"},
	)
	botRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "run_duration_seconds",
			Help:      "Wall time between spawn and observed exit.",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 21600, 86400},
		}, []string{"name"},
	)
	runningBots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "running",
			Help:      "Bots currently registered in the process table.",
		},
	)
	logWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "log",
			Name:      "write_errors_total",
			Help:      "Bot log records that could not be persisted.",
		}, []string{"name"},
	)
	historyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "history",
			Name:      "dropped_total",
			Help:      "History events dropped because the export buffer was full.",
		},
	)
	scheduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "schedule",
			Name:      "runs_total",
			Help:      "Scheduled start attempts by result (started, skipped, failed).",
		}, []string{"name", "result"},
	)
	scheduleNext = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "schedule",
			Name:      "next_run_timestamp_seconds",
			Help:      "Unix time of the next scheduled start.",
		}, []string{"name"},
	)
	historyErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "history",
			Name:      "send_errors_total",
			Help:      "History events a sink failed to accept.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{botStarts, botSpawnFailures, botStops, botExits, botRunDuration, runningBots, logWriteErrors, historyDropped, historyErrors, scheduleRuns, scheduleNext,
		botCPUPercent, botMemoryRSS, botThreads}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		botStarts.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		botSpawnFailures.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		botStops.WithLabelValues(name).Inc()
	}
}

func ObserveExit(name, outcome string, seconds float64) {
	if regOK.Load() {
		botExits.WithLabelValues(name, outcome).Inc()
		botRunDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetRunningBots(n int) {
	if regOK.Load() {
		runningBots.Set(float64(n))
	}
}

func IncLogWriteError(name string) {
	if regOK.Load() {
		logWriteErrors.WithLabelValues(name).Inc()
	}
}

func IncHistoryDropped() {
	if regOK.Load() {
		historyDropped.Inc()
	}
}

func IncHistoryError() {
	if regOK.Load() {
		historyErrors.Inc()
	}
}

func IncScheduleRun(name, result string) {
	if regOK.Load() {
		scheduleRuns.WithLabelValues(name, result).Inc()
	}
}

func SetScheduleNext(name string, unix float64) {
	if regOK.Load() {
		scheduleNext.WithLabelValues(name).Set(unix)
	}
}
