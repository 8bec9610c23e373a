package metrics

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"lendledger/core/events"
)

// LendingMetrics tracks committed ledger activity and live pool health.
type LendingMetrics struct {
	operations     *prometheus.CounterVec
	healthFailures *prometheus.CounterVec
	interestIndex  *prometheus.GaugeVec
	utilization    *prometheus.GaugeVec
	borrowRate     *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the lazily-initialised lending metrics registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of committed ledger operations segmented by event type and asset.",
			}, []string{"type", "asset"}),
			healthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "ledger",
				Name:      "health_check_failures_total",
				Help:      "Count of operations rejected by the loan-to-value guard.",
			}, []string{"operation"}),
			interestIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendledger",
				Subsystem: "ledger",
				Name:      "interest_index",
				Help:      "Live per-asset borrow index in wad units.",
			}, []string{"asset"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendledger",
				Subsystem: "ledger",
				Name:      "pool_utilization",
				Help:      "Share of pool capital out on loan, in wad units.",
			}, []string{"asset"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendledger",
				Subsystem: "ledger",
				Name:      "borrow_rate",
				Help:      "Current annual borrow rate in wad units.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.healthFailures,
			lendingRegistry.interestIndex,
			lendingRegistry.utilization,
			lendingRegistry.borrowRate,
		)
	})
	return lendingRegistry
}

// ObserveOperation increments the operation counter for a committed event.
func (m *LendingMetrics) ObserveOperation(eventType, asset string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	if asset == "" {
		asset = "none"
	}
	m.operations.WithLabelValues(eventType, asset).Inc()
}

// ObserveHealthCheckFailure counts an operation rejected by the risk guard.
func (m *LendingMetrics) ObserveHealthCheckFailure(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.healthFailures.WithLabelValues(operation).Inc()
}

// SetPoolState publishes the live gauges for one asset. Values are converted
// to float64 and lose precision beyond 53 bits.
func (m *LendingMetrics) SetPoolState(asset string, index, utilization, rate *big.Int) {
	if m == nil || asset == "" {
		return
	}
	m.interestIndex.WithLabelValues(asset).Set(bigToFloat(index))
	m.utilization.WithLabelValues(asset).Set(bigToFloat(utilization))
	m.borrowRate.WithLabelValues(asset).Set(bigToFloat(rate))
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}

// EmitterSink feeds the lending counters from the engine's event stream. It
// satisfies events.Emitter so the daemon can place it in the fan-out.
type EmitterSink struct {
	metrics *LendingMetrics
}

// NewEmitterSink returns a sink backed by the process-global lending metrics.
func NewEmitterSink() *EmitterSink {
	return &EmitterSink{metrics: Lending()}
}

// Emit implements the events.Emitter interface.
func (s *EmitterSink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	asset := payload.Attributes["asset"]
	if asset == "" {
		asset = payload.Attributes["debtAsset"]
	}
	s.metrics.ObserveOperation(payload.Type, asset)
}
