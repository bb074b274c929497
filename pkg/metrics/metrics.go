// Package metrics provides Prometheus instrumentation for the core runtime.
//
// The teacher's original metrics package pulled aggregated cost/token data
// from an external Prometheus server for completed stories. That pull-based
// query path has no analogue in this core (there is no external Prometheus
// deployment to query); what the core needs instead is to *emit* counters
// and gauges for its own rate limiter, scheduler, and dispatcher, so an
// operator's own Prometheus can scrape them. This package keeps the
// dependency (prometheus/client_golang, prometheus/common) and the
// package's role as "the metrics boundary", adapted to a push/export shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the counters and gauges the three core subsystems update.
// A nil *Registry is valid and every method becomes a no-op, so components
// can be constructed without metrics for unit tests.
type Registry struct {
	reg *prometheus.Registry

	RateLimitAllowed     *prometheus.CounterVec
	RateLimitRateLimited *prometheus.CounterVec
	RateLimitBuckets     prometheus.Gauge

	SchedulerTasksRun       *prometheus.CounterVec
	SchedulerActiveRunners  prometheus.Gauge
	SchedulerDurabilityWarn prometheus.Counter

	DispatcherEventsTotal prometheus.Counter
	DispatcherLastEventID prometheus.Gauge
	DispatcherPollErrors  prometheus.Counter
}

// NewRegistry builds a fresh Prometheus registry with all core metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		RateLimitAllowed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vkbot_ratelimiter_allowed_total",
			Help: "Requests allowed by the per-chat token bucket, by chat id.",
		}, []string{"chat_id"}),
		RateLimitRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vkbot_ratelimiter_denied_total",
			Help: "Requests denied by the per-chat token bucket, by chat id.",
		}, []string{"chat_id"}),
		RateLimitBuckets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vkbot_ratelimiter_buckets",
			Help: "Current number of tracked per-chat token buckets.",
		}),
		SchedulerTasksRun: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vkbot_scheduler_task_runs_total",
			Help: "Task executions, partitioned by outcome (success/failure; timeouts count as failure).",
		}, []string{"outcome"}),
		SchedulerActiveRunners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vkbot_scheduler_active_executors",
			Help: "Number of task executors currently holding a concurrency permit.",
		}),
		SchedulerDurabilityWarn: factory.NewCounter(prometheus.CounterOpts{
			Name: "vkbot_scheduler_durability_warnings_total",
			Help: "Number of times a task-store write failed to persist.",
		}),
		DispatcherEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vkbot_dispatcher_events_total",
			Help: "Total events received from the remote long-poll API.",
		}),
		DispatcherLastEventID: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vkbot_dispatcher_last_event_id",
			Help: "Highest event id observed by the dispatcher cursor.",
		}),
		DispatcherPollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vkbot_dispatcher_poll_errors_total",
			Help: "Long-poll requests that returned an error.",
		}),
	}
}

// IncAllowed records an allowed check() call for chatID. Safe on a nil Registry.
func (r *Registry) IncAllowed(chatID string) {
	if r == nil {
		return
	}
	r.RateLimitAllowed.WithLabelValues(chatID).Inc()
}

// IncRateLimited records a denied check() call for chatID. Safe on a nil Registry.
func (r *Registry) IncRateLimited(chatID string) {
	if r == nil {
		return
	}
	r.RateLimitRateLimited.WithLabelValues(chatID).Inc()
}

// SetBucketCount reports the current bucket-map size. Safe on a nil Registry.
func (r *Registry) SetBucketCount(n int) {
	if r == nil {
		return
	}
	r.RateLimitBuckets.Set(float64(n))
}

// IncTaskRun records a task execution outcome. The scheduler store reports
// "success" or "failure"; a timed-out execution is reported as "failure".
func (r *Registry) IncTaskRun(outcome string) {
	if r == nil {
		return
	}
	r.SchedulerTasksRun.WithLabelValues(outcome).Inc()
}

// SetActiveExecutors reports how many executor permits are currently held.
func (r *Registry) SetActiveExecutors(n int) {
	if r == nil {
		return
	}
	r.SchedulerActiveRunners.Set(float64(n))
}

// IncDurabilityWarning records a failed task-store persist.
func (r *Registry) IncDurabilityWarning() {
	if r == nil {
		return
	}
	r.SchedulerDurabilityWarn.Inc()
}

// AddEvents records events received in one poll batch.
func (r *Registry) AddEvents(n int) {
	if r == nil {
		return
	}
	r.DispatcherEventsTotal.Add(float64(n))
}

// SetLastEventID reports the dispatcher cursor.
func (r *Registry) SetLastEventID(id uint64) {
	if r == nil {
		return
	}
	r.DispatcherLastEventID.Set(float64(id))
}

// IncPollError records a failed long-poll request.
func (r *Registry) IncPollError() {
	if r == nil {
		return
	}
	r.DispatcherPollErrors.Inc()
}

// Registerer exposes the underlying registry so an operator wrapper can
// serve it over HTTP (e.g. via promhttp.HandlerFor), without this package
// taking a dependency on net/http.
func (r *Registry) Registerer() prometheus.Registerer {
	if r == nil {
		return nil
	}
	return r.reg
}

// Gatherer exposes the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.reg
}
