package workflow

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/airgap-wallet/types"
)

const metricsNamespace = "airgap_wallet"

// Metrics counts workflow outcomes. A nil *Metrics records nothing.
type Metrics struct {
	signed        prometheus.Counter
	verifications *prometheus.CounterVec
}

// NewMetrics creates the workflow counters and registers them on reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		signed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "envelopes_signed_total",
			Help:      "Signed envelopes written to the outbox.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "verifications_total",
			Help:      "Inbox verifications by result: accepted or the rejection kind.",
		}, []string{"result"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.signed, m.verifications} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) incSigned() {
	if m == nil {
		return
	}
	m.signed.Inc()
}

func (m *Metrics) observeVerification(accepted bool, kind types.Kind) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = string(kind)
	}
	m.verifications.WithLabelValues(result).Inc()
}
