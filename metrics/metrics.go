package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink receives counters and timings from the indexer. Implementations must
// not block.
type Sink interface {
	TransactionProcessed(instructionType, status string)
	ProcessingDuration(d time.Duration)
	RPCLatency(method string, d time.Duration)
	DiscrepancyFound(discrepancyType string)
	ReconciliationRun(status string)
}

type Nop struct{}

func (Nop) TransactionProcessed(string, string) {}
func (Nop) ProcessingDuration(time.Duration)    {}
func (Nop) RPCLatency(string, time.Duration)    {}
func (Nop) DiscrepancyFound(string)             {}
func (Nop) ReconciliationRun(string)            {}

type Prometheus struct {
	transactionsProcessed *prometheus.CounterVec
	processingDuration    prometheus.Histogram
	rpcLatency            *prometheus.HistogramVec
	discrepanciesFound    *prometheus.CounterVec
	reconciliationRuns    *prometheus.CounterVec
}

// NewPrometheus registers the indexer metrics with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)

	return &Prometheus{
		transactionsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_indexer",
			Name:      "transactions_processed_total",
			Help:      "Transactions processed by the ingestor",
		}, []string{"type", "status"}),

		processingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ticket_indexer",
			Name:      "processing_duration_seconds",
			Help:      "Time to process one transaction signature",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		rpcLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticket_indexer",
			Name:      "rpc_latency_seconds",
			Help:      "Latency of single ledger RPC attempts",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		discrepanciesFound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_indexer",
			Name:      "discrepancies_found_total",
			Help:      "Ownership discrepancies detected by reconciliation",
		}, []string{"type"}),

		reconciliationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_indexer",
			Name:      "reconciliation_runs_total",
			Help:      "Finished reconciliation runs",
		}, []string{"status"}),
	}
}

func (p *Prometheus) TransactionProcessed(instructionType, status string) {
	p.transactionsProcessed.WithLabelValues(instructionType, status).Inc()
}

func (p *Prometheus) ProcessingDuration(d time.Duration) {
	p.processingDuration.Observe(d.Seconds())
}

func (p *Prometheus) RPCLatency(method string, d time.Duration) {
	p.rpcLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (p *Prometheus) DiscrepancyFound(discrepancyType string) {
	p.discrepanciesFound.WithLabelValues(discrepancyType).Inc()
}

func (p *Prometheus) ReconciliationRun(status string) {
	p.reconciliationRuns.WithLabelValues(status).Inc()
}
