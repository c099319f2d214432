package projects

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	commonModels "github.com/klarnow/tracker/common/models"
)

// Metrics holds the project domain collectors. A nil *Metrics records nothing.
type Metrics struct {
	checklistToggles    *prometheus.CounterVec
	phaseTransitions    *prometheus.CounterVec
	onboardingCompleted *prometheus.CounterVec
	uploads             *prometheus.CounterVec
	subscribers         prometheus.Gauge
}

// NewMetrics registers the domain collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checklistToggles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klarnow",
			Name:      "checklist_toggles_total",
			Help:      "Checklist items ticked or unticked, by kit and new value.",
		}, []string{"kit_type", "is_done"}),
		phaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klarnow",
			Name:      "phase_transitions_total",
			Help:      "Phase status changes, by kit and new status.",
		}, []string{"kit_type", "status"}),
		onboardingCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klarnow",
			Name:      "onboarding_completed_total",
			Help:      "Clients that finished onboarding, by kit.",
		}, []string{"kit_type"}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klarnow",
			Name:      "uploads_total",
			Help:      "Upload attempts by result.",
		}, []string{"result"}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "klarnow",
			Name:      "event_subscribers",
			Help:      "Open server-sent event streams.",
		}),
	}
}

func (m *Metrics) toggled(kit commonModels.KitType, isDone bool) {
	if m == nil {
		return
	}
	v := "false"
	if isDone {
		v = "true"
	}
	m.checklistToggles.WithLabelValues(string(kit), v).Inc()
}

func (m *Metrics) transitioned(kit commonModels.KitType, status commonModels.PhaseStatus) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(string(kit), string(status)).Inc()
}

func (m *Metrics) onboarded(kit commonModels.KitType) {
	if m == nil {
		return
	}
	m.onboardingCompleted.WithLabelValues(string(kit)).Inc()
}

func (m *Metrics) uploaded(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) subscriberDelta(d float64) {
	if m == nil {
		return
	}
	m.subscribers.Add(d)
}
