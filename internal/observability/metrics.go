package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cora"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	storeOpsTotal    *prometheus.CounterVec
	storeOpsDuration *prometheus.HistogramVec

	activeRuns     prometheus.Gauge
	runTotal       *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	stepTotal      *prometheus.CounterVec
	tokensTotal    *prometheus.CounterVec
	channelDropped prometheus.Counter
	ledgerDropped  prometheus.Counter

	providerCallTotal    *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	httpRequestsTotal *prometheus.CounterVec
	wsClients         prometheus.Gauge
	monitorPublished  *prometheus.CounterVec
	hookRuns          *prometheus.CounterVec
	hookDuration      *prometheus.HistogramVec
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
					Help:      "Total completed tasks by lane and status.",
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
			storeOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "store_operations_total",
					Help:      "Total store operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			storeOpsDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "store_operation_duration_seconds",
					Help:      "Store operation duration in seconds.",
					Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
				},
				[]string{"op"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_runs",
					Help:      "Runs currently holding a conversation lock.",
				},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "run_total",
					Help:      "Finished runs by outcome.",
				},
				[]string{"outcome"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "run_duration_seconds",
					Help:      "Run duration in seconds by outcome.",
					Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
				},
				[]string{"outcome"},
			),
			stepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "step_total",
					Help:      "Engine steps by kind.",
				},
				[]string{"kind"},
			),
			tokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tokens_total",
					Help:      "Tokens consumed by direction.",
				},
				[]string{"direction"},
			),
			channelDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "channel_dropped_total",
					Help:      "Step events dropped because a subscriber buffer was full.",
				},
			),
			ledgerDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "ledger_dropped_total",
					Help:      "Usage writes that could not be persisted.",
				},
			),
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_call_total",
					Help:      "LLM provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "provider_call_duration_seconds",
					Help:      "LLM provider call duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "http_requests_total",
					Help:      "Gateway HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			wsClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "ws_clients",
					Help:      "Connected WebSocket clients.",
				},
			),
			monitorPublished: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "monitor_events_total",
					Help:      "Step events mirrored to the monitor stream by status.",
				},
				[]string{"status"},
			),
			hookRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "hook_runs_total",
					Help:      "Hook script executions by event and status.",
				},
				[]string{"event", "status"},
			),
			hookDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "hook_duration_seconds",
					Help:      "Hook script duration in seconds by event.",
					Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
				},
				[]string{"event"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.storeOpsTotal,
			m.storeOpsDuration,
			m.activeRuns,
			m.runTotal,
			m.runDuration,
			m.stepTotal,
			m.tokensTotal,
			m.channelDropped,
			m.ledgerDropped,
			m.providerCallTotal,
			m.providerCallDuration,
			m.httpRequestsTotal,
			m.wsClients,
			m.monitorPublished,
			m.hookRuns,
			m.hookDuration,
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

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
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
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordStoreOperation(op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.storeOpsTotal.WithLabelValues(op, statusLabel(success)).Inc()
	m.storeOpsDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func SetActiveRuns(count int) {
	m := getMetrics()
	m.activeRuns.Set(float64(count))
}

// RecordRun records a finished run; outcome is completed, failed or cancelled.
func RecordRun(outcome string, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordStep(kind string, inputTokens, outputTokens int64) {
	m := getMetrics()
	m.stepTotal.WithLabelValues(kind).Inc()
	if inputTokens > 0 {
		m.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	}
}

func RecordChannelDrop() {
	getMetrics().channelDropped.Inc()
}

func RecordLedgerDrop() {
	getMetrics().ledgerDropped.Inc()
}

func RecordProviderCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.providerCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordHTTPRequest(route string, code int) {
	getMetrics().httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func SetWSClients(count int) {
	getMetrics().wsClients.Set(float64(count))
}

func RecordMonitorPublish(success bool) {
	getMetrics().monitorPublished.WithLabelValues(statusLabel(success)).Inc()
}

func RecordHookRun(event string, duration time.Duration, success bool) {
	m := getMetrics()
	m.hookRuns.WithLabelValues(event, statusLabel(success)).Inc()
	m.hookDuration.WithLabelValues(event).Observe(duration.Seconds())
}
