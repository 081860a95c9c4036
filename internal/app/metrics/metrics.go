// Package metrics exposes Prometheus instrumentation on a dedicated
// registry so the endpoint only reports application series.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the service exports.
type Registry struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	tasksCreated      prometheus.Counter
	bulkUpdates       prometheus.Counter
	waitlistSignups   prometheus.Counter
	suggestionsServed prometheus.Counter
	sweepRuns         prometheus.Counter
	sweepFlagged      prometheus.Counter
	eventsPublished   prometheus.Counter
}

// New creates a registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "madlab",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "madlab",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "madlab",
			Name:      "tasks_created_total",
			Help:      "Tasks created.",
		}),
		bulkUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "madlab",
			Name:      "task_bulk_updates_total",
			Help:      "Bulk task update batches applied.",
		}),
		waitlistSignups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "madlab",
			Name:      "waitlist_signups_total",
			Help:      "Waitlist signups recorded.",
		}),
		suggestionsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "madlab",
			Name:      "agent_suggestions_total",
			Help:      "Agent suggestion requests served.",
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "madlab",
			Name:      "sweep_runs_total",
			Help:      "Overdue sweeps completed.",
		}),
		sweepFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "madlab",
			Name:      "sweep_tasks_flagged_total",
			Help:      "Tasks flagged overdue by the sweeper.",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "madlab",
			Name:      "events_published_total",
			Help:      "Board events published to the websocket hub.",
		}),
	}

	reg.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.tasksCreated,
		r.bulkUpdates,
		r.waitlistSignups,
		r.suggestionsServed,
		r.sweepRuns,
		r.sweepFlagged,
		r.eventsPublished,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// TaskCreated increments the task creation counter.
func (r *Registry) TaskCreated() { r.tasksCreated.Inc() }

// BulkUpdateApplied increments the bulk update counter.
func (r *Registry) BulkUpdateApplied() { r.bulkUpdates.Inc() }

// WaitlistSignup increments the signup counter.
func (r *Registry) WaitlistSignup() { r.waitlistSignups.Inc() }

// SuggestionsServed increments the suggestion counter.
func (r *Registry) SuggestionsServed() { r.suggestionsServed.Inc() }

// EventPublished increments the event counter.
func (r *Registry) EventPublished() { r.eventsPublished.Inc() }

// SweepCompleted records a finished sweep and the tasks it flagged.
func (r *Registry) SweepCompleted(flagged int) {
	r.sweepRuns.Inc()
	r.sweepFlagged.Add(float64(flagged))
}

// Middleware counts requests and observes latency. The route label is
// the mux path template, which keeps label cardinality bounded.
func (r *Registry) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)

			route := req.URL.Path
			if current := mux.CurrentRoute(req); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(rec.status)).Inc()
			r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
