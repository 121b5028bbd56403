package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

// Prometheus counts lifecycle activity on its own registry.
type Prometheus struct {
	Registry *prometheus.Registry

	signatures     *prometheus.CounterVec
	effects        *prometheus.CounterVec
	effectFailures *prometheus.CounterVec
	txConflicts    prometheus.Counter
	revisions      *prometheus.CounterVec
}

var _ usecase.Metrics = (*Prometheus)(nil)

func New() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Prometheus{
		Registry: registry,
		signatures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bsd_signatures_total",
			Help: "Stage signatures recorded, by family and stage.",
		}, []string{"family", "stage"}),
		effects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bsd_effects_total",
			Help: "After-commit effects executed, by kind.",
		}, []string{"kind"}),
		effectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bsd_effect_failures_total",
			Help: "After-commit effects that failed, by kind.",
		}, []string{"kind"}),
		txConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "bsd_tx_conflicts_total",
			Help: "Transactions that lost a write race.",
		}),
		revisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bsd_revisions_resolved_total",
			Help: "Revision requests that reached a terminal status.",
		}, []string{"family", "status"}),
	}
}

func (p *Prometheus) SignatureRecorded(family bsd.Family, stage bsd.Stage) {
	p.signatures.WithLabelValues(string(family), string(stage)).Inc()
}

func (p *Prometheus) EffectExecuted(kind usecase.EffectKind) {
	p.effects.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) EffectFailed(kind usecase.EffectKind) {
	p.effectFailures.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) TxConflict() {
	p.txConflicts.Inc()
}

func (p *Prometheus) RevisionResolved(family bsd.Family, status bsd.RevisionStatus) {
	p.revisions.WithLabelValues(string(family), string(status)).Inc()
}
