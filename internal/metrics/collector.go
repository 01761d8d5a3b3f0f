// Package metrics exposes desk activity to Prometheus.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

const namespace = "ppdesk"

const (
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelStep      = "step"
)

// Collector records transaction transitions and market-creation runs on its
// own registry.
type Collector struct {
	registry      *prometheus.Registry
	txTransitions *prometheus.CounterVec
	txPending     *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	runFailures   *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

// NewCollector creates a Collector with Go runtime and process collectors
// registered alongside the desk metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		txTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "transitions_total",
			Help:      "ledger transaction status transitions by operation and target status",
		}, []string{LabelOperation, LabelStatus}),
		txPending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "pending",
			Help:      "ledger transactions currently awaiting a receipt",
		}, []string{LabelOperation}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market_creation",
			Name:      "runs_total",
			Help:      "finished market-creation runs by outcome",
		}, []string{LabelStatus}),
		runFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market_creation",
			Name:      "failures_total",
			Help:      "failed market-creation runs by failing step",
		}, []string{LabelStep}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market_creation",
			Name:      "run_duration_seconds",
			Help:      "wall time from run start to its last step",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// Operation reduces a controller scope such as "trade:1/2:back" or
// "create:<uuid>" to a low-cardinality label.
func Operation(scope string) string {
	head, rest, found := strings.Cut(scope, ":")
	if !found {
		return scope
	}
	switch head {
	case "trade":
		if i := strings.LastIndex(rest, ":"); i >= 0 {
			return "trade_" + rest[i+1:]
		}
	}
	return head
}

// ObserveTx records one controller transition. Its signature matches the
// service layer's scope observer.
func (c *Collector) ObserveTx(scope string, ev domain.TxEvent) {
	op := Operation(scope)
	c.txTransitions.WithLabelValues(op, string(ev.To)).Inc()
	switch {
	case ev.To == domain.TxStatusPending:
		c.txPending.WithLabelValues(op).Inc()
	case ev.From == domain.TxStatusPending:
		c.txPending.WithLabelValues(op).Dec()
	}
}

// ObserveRun records a finished market-creation run.
func (c *Collector) ObserveRun(run domain.MarketCreationRun) {
	c.runs.WithLabelValues(string(run.Status)).Inc()
	if run.FailedStep != "" {
		c.runFailures.WithLabelValues(string(run.FailedStep)).Inc()
	}
	if run.FinishedAt != nil && !run.StartedAt.IsZero() {
		c.runDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry: c.registry,
		Timeout:  10 * time.Second,
	})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
