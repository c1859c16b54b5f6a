package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records the engine's settlement activity for scraping via
// the gateway's /metrics endpoint.
type SettlementMetrics struct {
	stakesIngested  *prometheus.CounterVec
	stakeVolume     *prometheus.CounterVec
	ingestFailures  *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	claims          prometheus.Counter
	claimVolume     prometheus.Counter
	rpcRequests     *prometheus.CounterVec
	rpcLatency      *prometheus.HistogramVec
	treasuryBalance prometheus.Gauge
}

var (
	settlementOnce sync.Once
	settlementReg  *SettlementMetrics
)

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			stakesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omen",
				Subsystem: "ingest",
				Name:      "stakes_total",
				Help:      "Positions minted through stake ingestion, segmented by outcome.",
			}, []string{"outcome"}),
			stakeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omen",
				Subsystem: "ingest",
				Name:      "stake_volume",
				Help:      "Net conviction stake ingested, segmented by outcome.",
			}, []string{"outcome"}),
			ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omen",
				Subsystem: "ingest",
				Name:      "failures_total",
				Help:      "Ingestion attempts aborted back to the venue, segmented by reason.",
			}, []string{"reason"}),
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omen",
				Subsystem: "oracle",
				Name:      "resolutions_total",
				Help:      "Market resolutions, segmented by reason and winning outcome.",
			}, []string{"reason", "outcome"}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "omen",
				Subsystem: "settle",
				Name:      "claims_total",
				Help:      "Winning positions claimed and destroyed.",
			}),
			claimVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "omen",
				Subsystem: "settle",
				Name:      "claim_volume",
				Help:      "Total amount paid out to winning claims.",
			}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omen",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "omen",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			treasuryBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "omen",
				Subsystem: "treasury",
				Name:      "balance",
				Help:      "Current protocol fee balance held by the treasury sink.",
			}),
		}
		prometheus.MustRegister(
			settlementReg.stakesIngested,
			settlementReg.stakeVolume,
			settlementReg.ingestFailures,
			settlementReg.resolutions,
			settlementReg.claims,
			settlementReg.claimVolume,
			settlementReg.rpcRequests,
			settlementReg.rpcLatency,
			settlementReg.treasuryBalance,
		)
	})
	return settlementReg
}

// RecordIngest counts a successful stake ingestion.
func (m *SettlementMetrics) RecordIngest(outcome string, netStake *big.Int) {
	if m == nil {
		return
	}
	m.stakesIngested.WithLabelValues(outcome).Inc()
	m.stakeVolume.WithLabelValues(outcome).Add(bigToFloat(netStake))
}

// RecordIngestFailure counts an ingestion aborted back to the venue.
func (m *SettlementMetrics) RecordIngestFailure(reason string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(reason).Inc()
}

// RecordResolution counts a market resolution.
func (m *SettlementMetrics) RecordResolution(reason, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(reason, outcome).Inc()
}

// RecordClaim counts a successful claim and its payout.
func (m *SettlementMetrics) RecordClaim(amount *big.Int) {
	if m == nil {
		return
	}
	m.claims.Inc()
	m.claimVolume.Add(bigToFloat(amount))
}

// ObserveRPC records the outcome and latency of a JSON-RPC request.
func (m *SettlementMetrics) ObserveRPC(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(seconds)
}

// SetTreasuryBalance publishes the current fee sink balance.
func (m *SettlementMetrics) SetTreasuryBalance(balance *big.Int) {
	if m == nil {
		return
	}
	m.treasuryBalance.Set(bigToFloat(balance))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
