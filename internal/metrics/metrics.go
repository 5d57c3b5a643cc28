// Package metrics holds the Prometheus collectors of the runtime. A nil
// *Metrics is valid and records nothing, so components work without it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowpilot"

type Metrics struct {
	polls           *prometheus.CounterVec
	events          *prometheus.CounterVec
	cursorConflicts *prometheus.CounterVec
	invocations     *prometheus.CounterVec
	credits         *prometheus.CounterVec
	creditRejects   *prometheus.CounterVec
	outbound        *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trigger_polls_total",
			Help: "Polls of polling triggers by outcome.",
		}, []string{"trigger", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trigger_events_total",
			Help: "New events emitted by polling triggers.",
		}, []string{"trigger"}),
		cursorConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_cursor_conflicts_total",
			Help: "Lost compare-and-set races on poll cursors.",
		}, []string{"trigger"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "action_invocations_total",
			Help: "Action invocations by outcome kind.",
		}, []string{"action", "outcome"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "credits_charged_total",
			Help: "Credits charged to workspaces.",
		}, []string{"provider", "model"}),
		creditRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "credit_rejections_total",
			Help: "Invocations refused for insufficient credits.",
		}, []string{"provider"}),
		outbound: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "outbound_request_duration_seconds",
			Help:    "Latency of third-party HTTP calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host", "status"}),
		gatherer: reg,
	}
	reg.MustRegister(m.polls, m.events, m.cursorConflicts, m.invocations, m.credits, m.creditRejects, m.outbound)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePoll(trigger, outcome string, events int) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(trigger, outcome).Inc()
	if events > 0 {
		m.events.WithLabelValues(trigger).Add(float64(events))
	}
}

func (m *Metrics) CursorConflict(trigger string) {
	if m == nil {
		return
	}
	m.cursorConflicts.WithLabelValues(trigger).Inc()
}

func (m *Metrics) ObserveInvocation(action, outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) Charged(provider, model string, credits float64) {
	if m == nil || credits <= 0 {
		return
	}
	m.credits.WithLabelValues(provider, model).Add(credits)
}

func (m *Metrics) CreditRejected(provider string) {
	if m == nil {
		return
	}
	m.creditRejects.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveOutbound(host, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(host, status).Observe(d.Seconds())
}
