package application

import (
	"log/slog"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/ports"
)

// ResolveLogger guarantees a non-nil logger for application/worker code paths.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// ResolveMetrics returns a no-op recorder when metrics are not wired.
func ResolveMetrics(metrics ports.Metrics) ports.Metrics {
	if metrics == nil {
		return noopMetrics{}
	}
	return metrics
}

type noopMetrics struct{}

func (noopMetrics) VoteRecorded(string, string) {}
func (noopMetrics) FinalizationAttempted(string) {}
func (noopMetrics) RSVPsMaterialized(int) {}
func (noopMetrics) RSVPMaterializationFailed() {}
func (noopMetrics) EvaluationObserved(time.Duration, bool) {}
