// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's collectors. It satisfies the coordinator
// and hub metric hooks.
type Metrics struct {
	ingests         *prometheus.CounterVec
	broadcasts      prometheus.Counter
	observersActive prometheus.Gauge
	observersDrop   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trapsight_ingests_total",
			Help: "Report ingests by outcome.",
		}, []string{"status"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapsight_broadcasts_total",
			Help: "Events broadcast to observers.",
		}),
		observersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trapsight_observers_active",
			Help: "Currently attached observers.",
		}),
		observersDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapsight_observers_dropped_total",
			Help: "Observers detached for falling behind.",
		}),
	}
	reg.MustRegister(m.ingests, m.broadcasts, m.observersActive, m.observersDrop)
	return m
}

func (m *Metrics) IngestAccepted() { m.ingests.WithLabelValues("accepted").Inc() }
func (m *Metrics) IngestRejected() { m.ingests.WithLabelValues("rejected").Inc() }
func (m *Metrics) IngestFailed()   { m.ingests.WithLabelValues("failed").Inc() }

func (m *Metrics) ObserverAdded()   { m.observersActive.Inc() }
func (m *Metrics) ObserverRemoved() { m.observersActive.Dec() }
func (m *Metrics) ObserverDropped() { m.observersDrop.Inc() }
func (m *Metrics) EventBroadcast()  { m.broadcasts.Inc() }
