package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
)

const namespace = "parkedge"

// Recorder counts gate decisions and sync steps. It is registered as an
// outcome and sync listener.
type Recorder struct {
	registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	syncSteps    *prometheus.CounterVec
	lastDecision prometheus.Gauge
	lastSynced   prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Gate decisions recorded in the ledger.",
		}, []string{"kind", "reason", "accepted"}),
		syncSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_submissions_total",
			Help:      "Sync worker steps that touched a record, by result.",
		}, []string{"result", "event_type"}),
		lastDecision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_decision_record_id",
			Help:      "Ledger id of the most recent decision.",
		}),
		lastSynced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_synced_record_id",
			Help:      "Ledger id of the most recently synced record.",
		}),
	}
	reg.MustRegister(
		r.decisions,
		r.syncSteps,
		r.lastDecision,
		r.lastSynced,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) OutcomeRecorded(o service.Outcome) {
	r.decisions.WithLabelValues(string(o.Kind), o.Reason, strconv.FormatBool(o.Accepted)).Inc()
	r.lastDecision.Set(float64(o.RecordID))
}

func (r *Recorder) SyncRecorded(e service.SyncEvent) {
	r.syncSteps.WithLabelValues(string(e.Result), e.EventType).Inc()
	if e.Result == service.StepSynced {
		r.lastSynced.Set(float64(e.RecordID))
	}
}
