package sessionpool

import (
	"errors"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/misc"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of session pool activities. All of its functions do nothing when prometheus
// integration is disabled.
type Metrics struct {
	sessions       *prometheus.GaugeVec
	generation     prometheus.Gauge
	failureEvents  *prometheus.CounterVec
	recoveries     *prometheus.CounterVec
	abandoned      prometheus.Counter
	openDurations  prometheus.Histogram
	closeDurations prometheus.Histogram
}

// NewMetrics creates the session pool metrics and registers them with the global prometheus registry. If the metrics
// were already registered by another pool, the existing collectors are shared.
func NewMetrics(logger *lalog.Logger) *Metrics {
	if !misc.EnablePrometheusIntegration {
		return &Metrics{}
	}
	buckets := []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 12, 20, 30, 60}
	metrics := &Metrics{
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "adcycle_sessionpool_sessions",
			Help: "The number of sessions in each status",
		}, []string{"status"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adcycle_sessionpool_generation",
			Help: "The generation of the sessions currently open",
		}),
		failureEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcycle_sessionpool_failure_events_total",
			Help: "The number of ad failures detected, by whether the failure started a recovery",
		}, []string{"outcome"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcycle_sessionpool_recoveries_total",
			Help: "The number of finished session recoveries, by result",
		}, []string{"result"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adcycle_sessionpool_abandoned_sessions_total",
			Help: "The number of sessions that did not close within the grace period",
		}),
		openDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adcycle_sessionpool_open_duration_seconds",
			Help:    "The duration of allocating all sessions of a generation in seconds",
			Buckets: buckets,
		}),
		closeDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adcycle_sessionpool_close_duration_seconds",
			Help:    "The duration of closing all sessions of a generation in seconds",
			Buckets: buckets,
		}),
	}
	metrics.sessions = register(logger, metrics.sessions)
	metrics.generation = register(logger, metrics.generation)
	metrics.failureEvents = register(logger, metrics.failureEvents)
	metrics.recoveries = register(logger, metrics.recoveries)
	metrics.abandoned = register(logger, metrics.abandoned)
	metrics.openDurations = register(logger, metrics.openDurations)
	metrics.closeDurations = register(logger, metrics.closeDurations)
	return metrics
}

func register[C prometheus.Collector](logger *lalog.Logger, collector C) C {
	err := prometheus.Register(collector)
	if err == nil {
		return collector
	}
	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		if existing, ok := alreadyRegistered.ExistingCollector.(C); ok {
			return existing
		}
	}
	logger.Warning("NewMetrics", "", err, "failed to register prometheus metrics collector")
	return collector
}

func (metrics *Metrics) setSessions(counts map[Status]int) {
	if metrics.sessions == nil {
		return
	}
	for _, status := range []Status{StatusLoading, StatusActive, StatusRecovering} {
		metrics.sessions.WithLabelValues(status.String()).Set(float64(counts[status]))
	}
}

func (metrics *Metrics) setGeneration(generation uint64) {
	if metrics.generation != nil {
		metrics.generation.Set(float64(generation))
	}
}

func (metrics *Metrics) countFailureEvent(outcome string) {
	if metrics.failureEvents != nil {
		metrics.failureEvents.WithLabelValues(outcome).Inc()
	}
}

func (metrics *Metrics) countRecovery(result string) {
	if metrics.recoveries != nil {
		metrics.recoveries.WithLabelValues(result).Inc()
	}
}

func (metrics *Metrics) countAbandoned() {
	if metrics.abandoned != nil {
		metrics.abandoned.Inc()
	}
}

func (metrics *Metrics) observeOpen(seconds float64) {
	if metrics.openDurations != nil {
		metrics.openDurations.Observe(seconds)
	}
}

func (metrics *Metrics) observeClose(seconds float64) {
	if metrics.closeDurations != nil {
		metrics.closeDurations.Observe(seconds)
	}
}
