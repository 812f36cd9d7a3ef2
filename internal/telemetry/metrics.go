package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TriggerFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_trigger_fires_total", Help: "Trigger firings by job and outcome",
	}, []string{"job", "outcome"})
	TriggersRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_triggers_registered", Help: "Trigger expressions registered in the cron runtime",
	})
	TasksDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_tasks_dispatched_total", Help: "Task messages published to stage queues",
	}, []string{"job"})
	DispatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_dispatch_failures_total", Help: "Task messages that could not be published or recorded",
	}, []string{"job"})
	WebhooksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_webhooks_total", Help: "Stage completion callbacks by stage and outcome",
	}, []string{"stage", "outcome"})
	WebhookTerminalHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_webhook_terminal_hits_total", Help: "Callbacks received for items already in a terminal stage",
	}, []string{"stage"})
	TestStatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_test_status_transitions_total", Help: "Workflow test status changes",
	}, []string{"status"})
	ExecutionLogFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_execution_log_failures_total", Help: "Worker log writes that failed",
	})
	ExecutionLogArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_execution_log_archived_total", Help: "Worker log bodies moved to object storage",
	})
	TestRunRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_test_run_rate_limit_rejects_total", Help: "Manual test runs rejected by the rate limiter",
	})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth", Help: "Task messages waiting on a stage queue",
	}, []string{"queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TriggerFires,
			TriggersRegistered,
			TasksDispatched,
			DispatchFailures,
			WebhooksReceived,
			WebhookTerminalHits,
			TestStatusTransitions,
			ExecutionLogFailures,
			ExecutionLogArchived,
			TestRunRejects,
			QueueDepth,
		)
	})
	return promhttp.Handler()
}
