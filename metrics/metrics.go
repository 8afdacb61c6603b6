// Package metrics exposes auction activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudx-io/dutchauction/core"
)

const namespace = "dutchauction"

// Metrics holds the auction collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	rounds         prometheus.Counter
	responses      *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	roundsRun      prometheus.Histogram
	winningBid     prometheus.Histogram
	activeAuctions prometheus.Gauge
	reports        *prometheus.CounterVec
	federations    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Rounds opened by coordinators.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Bidder responses evaluated, by kind.",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Terminal coordinator outcomes, by result and failure reason.",
		}, []string{"result", "reason"}),
		roundsRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rounds_per_auction",
			Help:      "Rounds run before an auction ended.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		winningBid: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "winning_bid",
			Help:      "Winning bid amounts.",
			Buckets:   prometheus.ExponentialBuckets(50, 2, 10),
		}),
		activeAuctions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_auctions",
			Help:      "Auctions currently running.",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegate_reports_total",
			Help:      "Delegate reports received by aggregators, by verification result.",
		}, []string{"valid"}),
		federations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federations_total",
			Help:      "Federated auctions decided, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.rounds, m.responses, m.outcomes, m.roundsRun, m.winningBid,
			m.activeAuctions, m.reports, m.federations)
	}
	return m
}

// RoundEvaluated records one closed round.
func (m *Metrics) RoundEvaluated(d core.RoundDecision) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.responses.WithLabelValues(core.ResponseBid.String()).Add(float64(len(d.Bids)))
	m.responses.WithLabelValues(core.ResponseDecline.String()).Add(float64(len(d.Declines)))
	m.responses.WithLabelValues(core.ResponseProtocolFault.String()).Add(float64(len(d.Faults)))
	m.responses.WithLabelValues(core.ResponseTimeout.String()).Add(float64(len(d.TimedOut)))
}

// AuctionStarted marks an auction as running.
func (m *Metrics) AuctionStarted() {
	if m == nil {
		return
	}
	m.activeAuctions.Inc()
}

// AuctionFinished records a terminal outcome.
func (m *Metrics) AuctionFinished(o core.Outcome) {
	if m == nil {
		return
	}
	m.activeAuctions.Dec()
	m.roundsRun.Observe(float64(o.RoundsRun))
	if o.Won {
		m.outcomes.WithLabelValues("success", "").Inc()
		m.winningBid.Observe(o.WinningBid)
		return
	}
	m.outcomes.WithLabelValues("failure", string(o.Reason)).Inc()
}

// ReportReceived records a delegate report at the aggregator.
func (m *Metrics) ReportReceived(valid bool) {
	if m == nil {
		return
	}
	label := "true"
	if !valid {
		label = "false"
	}
	m.reports.WithLabelValues(label).Inc()
}

// FederationDecided records a global decision.
func (m *Metrics) FederationDecided(d core.GlobalDecision) {
	if m == nil {
		return
	}
	result := "failure"
	if d.Won {
		result = "success"
	}
	m.federations.WithLabelValues(result).Inc()
}
