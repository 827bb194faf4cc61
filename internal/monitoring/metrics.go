package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigflow_signals_total",
			Help: "Total number of signals received",
		},
		[]string{"strategy", "type"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigflow_trade_requests_total",
			Help: "Total number of trade requests submitted to the executor",
		},
		[]string{"symbol", "type"},
	)

	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigflow_trade_results_total",
			Help: "Total number of trade results by terminal status",
		},
		[]string{"symbol", "status"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigflow_risk_rejections_total",
			Help: "Total number of trades rejected by the risk gate",
		},
		[]string{"strategy"},
	)

	fillLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sigflow_fill_latency_seconds",
			Help:    "Time from order submission to terminal result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)

	dailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigflow_daily_pnl",
			Help: "Realized P&L for the current UTC day",
		},
	)

	circuitBreakerTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigflow_circuit_breaker_tripped",
			Help: "1 when the daily-loss circuit breaker is tripped",
		},
	)

	openPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sigflow_open_position_size",
			Help: "Signed open position size per symbol",
		},
		[]string{"symbol"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigflow_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(resultsTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(fillLatency)
	prometheus.MustRegister(dailyPnL)
	prometheus.MustRegister(circuitBreakerTripped)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordSignal counts one received signal
func RecordSignal(strategy, signalType string) {
	signalsTotal.WithLabelValues(strategy, signalType).Inc()
}

// RecordRequest counts one trade request handed to the executor
func RecordRequest(symbol, signalType string) {
	requestsTotal.WithLabelValues(symbol, signalType).Inc()
}

// RecordResult counts one terminal trade result and its latency
func RecordResult(symbol, status string, latencySeconds float64) {
	resultsTotal.WithLabelValues(symbol, status).Inc()
	fillLatency.WithLabelValues(symbol).Observe(latencySeconds)
}

// RecordRiskRejection counts one risk-gate rejection
func RecordRiskRejection(strategy string) {
	rejectionsTotal.WithLabelValues(strategy).Inc()
}

// UpdateDailyPnL updates the realized daily P&L gauge
func UpdateDailyPnL(pnl float64) {
	dailyPnL.Set(pnl)
}

// UpdateCircuitBreaker updates the breaker gauge
func UpdateCircuitBreaker(tripped bool) {
	if tripped {
		circuitBreakerTripped.Set(1)
	} else {
		circuitBreakerTripped.Set(0)
	}
}

// UpdatePosition updates the open position gauge for a symbol
func UpdatePosition(symbol string, size int) {
	openPositions.WithLabelValues(symbol).Set(float64(size))
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
