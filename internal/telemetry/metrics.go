package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики Prometheus. Регистрируются в DefaultRegisterer при импорте
// пакета; экспортируются каждым сервисом на /metrics.
var (
	// RunsTotal — завершённые runs по финальному статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelflow_runs_total",
		Help: "Completed runs by terminal status.",
	}, []string{"status"})

	// ActiveRuns — runs, выполняющиеся в данный момент.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modelflow_active_runs",
		Help: "Runs currently executing.",
	})

	// StageDuration — длительность стадий по имени и статусу.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelflow_stage_duration_seconds",
		Help:    "Stage execution duration by stage name and terminal status.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"stage", "status"})

	// StageRetries — запланированные повторные попытки стадий.
	StageRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelflow_stage_retries_total",
		Help: "Stage retry attempts scheduled.",
	})

	// GateDecisions — решения gate по кандидатам.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelflow_gate_decisions_total",
		Help: "Quality gate decisions.",
	}, []string{"decision"})

	// ScheduledRuns — runs, созданные scheduler'ом.
	ScheduledRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelflow_scheduled_runs_total",
		Help: "Runs created by the scheduler.",
	})

	// HTTPRequests — HTTP запросы API по методу и статусу ответа.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelflow_http_requests_total",
		Help: "HTTP requests by method and response status.",
	}, []string{"method", "status"})
)
