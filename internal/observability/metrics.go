package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resolvemcp"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchErrors   *prometheus.CounterVec

	sessionState   prometheus.Gauge
	sessionConnect *prometheus.CounterVec
	sessionProbe   *prometheus.CounterVec

	fieldFailures *prometheus.CounterVec

	scriptTotal    *prometheus.CounterVec
	scriptDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "enqueue_total",
					Help:      "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dequeue_total",
					Help:      "Total task completions by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Task execution duration in seconds by lane.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "command_dispatch_total",
					Help:      "Total dispatched commands by command and result status.",
				},
				[]string{"command", "status"},
			),
			dispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "command_dispatch_duration_seconds",
					Help:      "Command dispatch duration in seconds by command.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"command"},
			),
			dispatchErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "command_errors_total",
					Help:      "Total failed commands by command and error kind.",
				},
				[]string{"command", "kind"},
			),
			sessionState: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "session_state",
					Help:      "Session facade state (0 disconnected, 1 connecting, 2 connected).",
				},
			),
			sessionConnect: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_connect_total",
					Help:      "Total connection attempts by outcome.",
				},
				[]string{"outcome"},
			),
			sessionProbe: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_probe_total",
					Help:      "Total liveness probes by outcome.",
				},
				[]string{"outcome"},
			),
			fieldFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "field_failures_total",
					Help:      "Total failed field accessors by query and field.",
				},
				[]string{"query", "field"},
			),
			scriptTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "script_executions_total",
					Help:      "Total script executions by status.",
				},
				[]string{"status"},
			),
			scriptDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "script_duration_seconds",
					Help:      "Script execution duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.dispatchTotal,
			m.dispatchDuration,
			m.dispatchErrors,
			m.sessionState,
			m.sessionConnect,
			m.sessionProbe,
			m.fieldFailures,
			m.scriptTotal,
			m.scriptDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, successLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordDispatch records one dispatched command. kind is empty unless the
// result is an error.
func RecordDispatch(command, status, kind string, duration time.Duration) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(command, status).Inc()
	m.dispatchDuration.WithLabelValues(command).Observe(duration.Seconds())
	if kind != "" && status == "error" {
		m.dispatchErrors.WithLabelValues(command, kind).Inc()
	}
}

func SetSessionState(state int) {
	getMetrics().sessionState.Set(float64(state))
}

func RecordSessionConnect(success bool) {
	getMetrics().sessionConnect.WithLabelValues(successLabel(success)).Inc()
}

// RecordSessionProbe records a liveness probe outcome: "alive", "recovered"
// or "lost".
func RecordSessionProbe(outcome string) {
	getMetrics().sessionProbe.WithLabelValues(outcome).Inc()
}

func RecordFieldFailure(query, field string) {
	getMetrics().fieldFailures.WithLabelValues(query, field).Inc()
}

func RecordScriptExecution(status string, duration time.Duration) {
	m := getMetrics()
	m.scriptTotal.WithLabelValues(status).Inc()
	m.scriptDuration.Observe(duration.Seconds())
}

func successLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
