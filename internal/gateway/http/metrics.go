package http

import (
	"github.com/prometheus/client_golang/prometheus"
)

// gatewayMetrics is the Gateway's machine-readable operational surface
// (SPEC_FULL.md §C.1): counters for the lifecycle transitions that matter
// to an operator, exposed on GET /metrics. This is not the excluded
// human-facing inspection UI — it carries no task content, only counts.
type gatewayMetrics struct {
	registry *prometheus.Registry

	tasksQueued        prometheus.Counter
	tasksLeased        prometheus.Counter
	tasksSucceeded     prometheus.Counter
	tasksFailed        prometheus.Counter
	tasksBlocked       prometheus.Counter
	tasksRequeued      prometheus.Counter
	envelopesForwarded prometheus.Counter
	streamErrors       prometheus.Counter
}

func newGatewayMetrics() *gatewayMetrics {
	reg := prometheus.NewRegistry()
	m := &gatewayMetrics{
		registry: reg,
		tasksQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_gateway_tasks_queued_total",
			Help: "Total tasks accepted by POST /tasks/queue or /tasks/run.",
		}),
		tasksLeased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_gateway_tasks_leased_total",
			Help: "Total tasks successfully claimed via POST /tasks/lease.",
		}),
		tasksSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_gateway_tasks_succeeded_total",
			Help: "Total attempts completed with succeeded=true.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_gateway_tasks_failed_total",
			Help: "Total attempts completed with succeeded=false, blocked=false, and no attempts remaining.",
		}),
		tasksBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_gateway_tasks_blocked_total",
			Help: "Total attempts completed with blocked=true.",
		}),
		tasksRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_gateway_tasks_requeued_total",
			Help: "Total attempts completed with succeeded=false but attempts remaining, requeued for retry.",
		}),
		envelopesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_gateway_envelopes_forwarded_total",
			Help: "Total envelopes appended via POST /tasks/:id/events.",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_gateway_stream_errors_total",
			Help: "Total terminal error envelopes emitted by /tasks/run.",
		}),
	}
	reg.MustRegister(
		m.tasksQueued, m.tasksLeased, m.tasksSucceeded, m.tasksFailed,
		m.tasksBlocked, m.tasksRequeued, m.envelopesForwarded, m.streamErrors,
	)
	return m
}
