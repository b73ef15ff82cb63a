package metrics

import (
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	votesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hangout_consensus_votes_total",
		Help: "Vote calls by mode and outcome",
	}, []string{"mode", "outcome"})

	finalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hangout_consensus_finalizations_total",
		Help: "Finalization attempts by compare-and-swap outcome",
	}, []string{"outcome"})

	rsvpsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hangout_consensus_rsvps_created_total",
		Help: "Pending RSVP rows created by finalization and repair",
	})

	rsvpFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hangout_consensus_rsvp_failures_total",
		Help: "RSVP materialisation attempts that failed and await repair",
	})

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hangout_consensus_evaluation_duration_seconds",
		Help:    "Consensus evaluation latency",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
	}, []string{"reached"})
)

// Recorder forwards engine counters to the default Prometheus registry.
type Recorder struct{}

func NewRecorder() Recorder {
	return Recorder{}
}

func (Recorder) VoteRecorded(mode string, outcome string) {
	if mode == "" {
		mode = "toggle"
	}
	votesTotal.WithLabelValues(mode, outcome).Inc()
}

func (Recorder) FinalizationAttempted(outcome string) {
	finalizationsTotal.WithLabelValues(outcome).Inc()
}

func (Recorder) RSVPsMaterialized(created int) {
	if created > 0 {
		rsvpsCreatedTotal.Add(float64(created))
	}
}

func (Recorder) RSVPMaterializationFailed() {
	rsvpFailuresTotal.Inc()
}

func (Recorder) EvaluationObserved(duration time.Duration, reached bool) {
	label := "false"
	if reached {
		label = "true"
	}
	evaluationDuration.WithLabelValues(label).Observe(duration.Seconds())
}

var _ ports.Metrics = Recorder{}
