package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gascredit"

// Credit records ledger activity. A nil *Credit is valid and records nothing.
type Credit struct {
	supply     prometheus.Gauge
	minted     prometheus.Counter
	redeemed   prometheus.Counter
	rejections *prometheus.CounterVec
	finalized  prometheus.Gauge
}

// NewCredit creates the credit collectors and registers them with reg.
func NewCredit(reg prometheus.Registerer) *Credit {
	m := &Credit{
		supply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_supply",
			Help:      "Credit units currently outstanding.",
		}),
		minted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "minted_units_total",
			Help:      "Credit units minted through purchases.",
		}),
		redeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "redeemed_units_total",
			Help:      "Credit units burned through redemptions.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "rejections_total",
			Help:      "Rejected factory operations by operation and reason.",
		}, []string{"op", "reason"}),
		finalized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "finalized",
			Help:      "1 once the sale has been finalized.",
		}),
	}
	reg.MustRegister(m.supply, m.minted, m.redeemed, m.rejections, m.finalized)
	return m
}

// ObserveMint records a successful mint and the resulting supply.
func (m *Credit) ObserveMint(amount, supply uint64) {
	if m == nil {
		return
	}
	m.minted.Add(float64(amount))
	m.supply.Set(float64(supply))
}

// ObserveRedeem records a successful burn and the resulting supply.
func (m *Credit) ObserveRedeem(amount, supply uint64) {
	if m == nil {
		return
	}
	m.redeemed.Add(float64(amount))
	m.supply.Set(float64(supply))
}

// ObserveFinalized marks the sale as finalized.
func (m *Credit) ObserveFinalized() {
	if m == nil {
		return
	}
	m.finalized.Set(1)
}

// ObserveRejection counts a failed operation.
func (m *Credit) ObserveRejection(op, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(op, reason).Inc()
}
