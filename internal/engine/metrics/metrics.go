// Package metrics provides bridge-specific metrics collection.
// It wraps Prometheus collectors to provide structured telemetry for the
// message lifecycle, proof checks, vault releases and relay jobs.
package metrics

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch results.
const (
	DispatchOK       = "ok"
	DispatchReverted = "reverted"
	DispatchOutOfGas = "out_of_gas"
)

// Recall modes.
const (
	RecallCallback = "callback"
	RecallDirect   = "direct_transfer"
)

// Collector provides bridge metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Lifecycle metrics
	messagesSent      *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	dispatchLatency   *prometheus.HistogramVec
	recallsTotal      *prometheus.CounterVec

	// Signal metrics
	signalsRaised *prometheus.CounterVec
	proofChecks   *prometheus.CounterVec

	// Vault metrics
	vaultReleases    *prometheus.CounterVec
	vaultReleasedWei *prometheus.CounterVec

	// Relay metrics
	relayJobsTotal  *prometheus.CounterVec
	relayJobLatency *prometheus.HistogramVec
	relayInFlight   *prometheus.GaugeVec
	relayQueueDepth *prometheus.GaugeVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	uptime    prometheus.Gauge
	startTime time.Time

	mu sync.RWMutex
}

// NewCollector creates a new bridge metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "bridge"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "sent_total",
			Help:      "Total number of messages sent from this chain",
		},
		[]string{"chain"},
	)

	c.statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "status_transitions_total",
			Help:      "Total number of committed message status transitions",
		},
		[]string{"chain", "from", "to"},
	)

	c.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Total number of message dispatch attempts by result",
		},
		[]string{"chain", "operation", "result"},
	)

	c.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time taken to dispatch a message to its target",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"chain", "operation"},
	)

	c.recallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "recalls_total",
			Help:      "Total number of recalled messages by refund mode",
		},
		[]string{"chain", "mode"},
	)

	c.signalsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "raised_total",
			Help:      "Total number of signals newly raised",
		},
		[]string{"chain"},
	)

	c.proofChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "proof_checks_total",
			Help:      "Total number of remote signal proof checks by result",
		},
		[]string{"chain", "origin", "result"},
	)

	c.vaultReleases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "releases_total",
			Help:      "Total number of vault releases",
		},
		[]string{"chain", "result"},
	)

	c.vaultReleasedWei = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "released_value_total",
			Help:      "Total value released by the vault, in base units",
		},
		[]string{"chain"},
	)

	c.relayJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "jobs_total",
			Help:      "Total number of relay jobs by kind and result",
		},
		[]string{"kind", "result"},
	)

	c.relayJobLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "job_duration_seconds",
			Help:      "Time taken for relay jobs",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"kind"},
	)

	c.relayInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "in_flight",
			Help:      "Current number of in-flight relay jobs",
		},
		[]string{"kind"},
	)

	c.relayQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "queue_depth",
			Help:      "Current number of relay jobs waiting for a slot",
		},
		[]string{"kind"},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being served",
		},
	)

	c.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Node uptime in seconds",
		},
	)

	c.registry.MustRegister(
		c.messagesSent,
		c.statusTransitions,
		c.dispatchTotal,
		c.dispatchLatency,
		c.recallsTotal,
		c.signalsRaised,
		c.proofChecks,
		c.vaultReleases,
		c.vaultReleasedWei,
		c.relayJobsTotal,
		c.relayJobLatency,
		c.relayInFlight,
		c.relayQueueDepth,
		c.httpRequests,
		c.httpLatency,
		c.httpInFlight,
		c.uptime,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func chainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

// RecordMessageSent increments the sent counter.
func (c *Collector) RecordMessageSent(chainID uint64) {
	c.messagesSent.WithLabelValues(chainLabel(chainID)).Inc()
}

// RecordStatusTransition records a committed status change.
func (c *Collector) RecordStatusTransition(chainID uint64, from, to string) {
	c.statusTransitions.WithLabelValues(chainLabel(chainID), from, to).Inc()
}

// RecordDispatch records a dispatch attempt. operation is process or retry;
// result is one of the Dispatch* constants.
func (c *Collector) RecordDispatch(chainID uint64, operation, result string, duration time.Duration) {
	chain := chainLabel(chainID)
	c.dispatchTotal.WithLabelValues(chain, operation, result).Inc()
	c.dispatchLatency.WithLabelValues(chain, operation).Observe(duration.Seconds())
}

// RecordRecall records a committed recall.
func (c *Collector) RecordRecall(chainID uint64, mode string) {
	c.recallsTotal.WithLabelValues(chainLabel(chainID), mode).Inc()
}

// RecordSignalRaised increments the raised-signal counter.
func (c *Collector) RecordSignalRaised(chainID uint64) {
	c.signalsRaised.WithLabelValues(chainLabel(chainID)).Inc()
}

// RecordProofCheck records the outcome of a remote proof check.
func (c *Collector) RecordProofCheck(chainID, originChainID uint64, valid bool, err error) {
	result := "valid"
	switch {
	case err != nil:
		result = "error"
	case !valid:
		result = "invalid"
	}
	c.proofChecks.WithLabelValues(chainLabel(chainID), chainLabel(originChainID), result).Inc()
}

// RecordVaultRelease records a vault release attempt.
func (c *Collector) RecordVaultRelease(chainID uint64, amount *big.Int, err error) {
	chain := chainLabel(chainID)
	if err != nil {
		c.vaultReleases.WithLabelValues(chain, "error").Inc()
		return
	}
	c.vaultReleases.WithLabelValues(chain, "success").Inc()
	if amount != nil && amount.Sign() > 0 {
		f, _ := new(big.Float).SetInt(amount).Float64()
		c.vaultReleasedWei.WithLabelValues(chain).Add(f)
	}
}

// RecordRelayJob records a completed relay job.
func (c *Collector) RecordRelayJob(kind string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.relayJobsTotal.WithLabelValues(kind, result).Inc()
	c.relayJobLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRelayInFlight records current in-flight relay jobs.
func (c *Collector) RecordRelayInFlight(kind string, count int) {
	c.relayInFlight.WithLabelValues(kind).Set(float64(count))
}

// RecordRelayQueueDepth records current relay queue depth.
func (c *Collector) RecordRelayQueueDepth(kind string, depth int) {
	c.relayQueueDepth.WithLabelValues(kind).Set(float64(depth))
}

// RecordHTTPRequest records a served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, path, status).Inc()
	c.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementInFlight increments the in-flight HTTP request gauge.
func (c *Collector) IncrementInFlight() { c.httpInFlight.Inc() }

// DecrementInFlight decrements the in-flight HTTP request gauge.
func (c *Collector) DecrementInFlight() { c.httpInFlight.Dec() }

// UpdateUptime updates the uptime metric.
func (c *Collector) UpdateUptime() {
	c.mu.RLock()
	start := c.startTime
	c.mu.RUnlock()
	c.uptime.Set(time.Since(start).Seconds())
}

// Reset resets gauges and the uptime origin.
func (c *Collector) Reset() {
	c.relayInFlight.Reset()
	c.relayQueueDepth.Reset()
	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()
}

// NoOpCollector is a metrics collector that discards all metrics.
type NoOpCollector struct{}

// NewNoOpCollector creates a no-op metrics collector.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (*NoOpCollector) RecordMessageSent(uint64)                                {}
func (*NoOpCollector) RecordStatusTransition(uint64, string, string)           {}
func (*NoOpCollector) RecordDispatch(uint64, string, string, time.Duration)    {}
func (*NoOpCollector) RecordRecall(uint64, string)                             {}
func (*NoOpCollector) RecordSignalRaised(uint64)                               {}
func (*NoOpCollector) RecordProofCheck(uint64, uint64, bool, error)            {}
func (*NoOpCollector) RecordVaultRelease(uint64, *big.Int, error)              {}
func (*NoOpCollector) RecordRelayJob(string, time.Duration, error)             {}
func (*NoOpCollector) RecordRelayInFlight(string, int)                         {}
func (*NoOpCollector) RecordRelayQueueDepth(string, int)                       {}
func (*NoOpCollector) RecordHTTPRequest(string, string, string, time.Duration) {}
func (*NoOpCollector) IncrementInFlight()                                      {}
func (*NoOpCollector) DecrementInFlight()                                      {}
func (*NoOpCollector) UpdateUptime()                                           {}
func (*NoOpCollector) Reset()                                                  {}

// MetricsCollector is the interface for metrics collection.
type MetricsCollector interface {
	RecordMessageSent(chainID uint64)
	RecordStatusTransition(chainID uint64, from, to string)
	RecordDispatch(chainID uint64, operation, result string, duration time.Duration)
	RecordRecall(chainID uint64, mode string)
	RecordSignalRaised(chainID uint64)
	RecordProofCheck(chainID, originChainID uint64, valid bool, err error)
	RecordVaultRelease(chainID uint64, amount *big.Int, err error)
	RecordRelayJob(kind string, duration time.Duration, err error)
	RecordRelayInFlight(kind string, count int)
	RecordRelayQueueDepth(kind string, depth int)
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncrementInFlight()
	DecrementInFlight()
	UpdateUptime()
	Reset()
}

// Verify interface compliance
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = (*NoOpCollector)(nil)
)
