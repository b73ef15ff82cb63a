package workers

import (
	"context"
	"log/slog"
	"time"

	application "hangout/contexts/hangout-planning/consensus-engine/application"
	"hangout/contexts/hangout-planning/consensus-engine/application/commands"
	"hangout/contexts/hangout-planning/consensus-engine/ports"
)

// RSVPRepair re-runs RSVP materialisation for every poll confirmed inside the
// lookback window, paging by (finalized_at, poll_id). The insert is
// idempotent, so overlapping runs are harmless.
type RSVPRepair struct {
	Polls     ports.PollRepository
	Finalizer commands.Finalizer
	Clock     ports.Clock
	Lookback  time.Duration
	BatchSize int
	Logger    *slog.Logger
}

func (r RSVPRepair) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(r.Logger)
	lookback := r.Lookback
	if lookback <= 0 {
		lookback = 72 * time.Hour
	}
	limit := r.BatchSize
	if limit <= 0 {
		limit = 200
	}
	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	var (
		after    ports.PageKey
		scanned  int
		created  int
		firstErr error
	)
	for {
		polls, err := r.Polls.ListFinalizedSince(ctx, now.Add(-lookback), after, limit)
		if err != nil {
			logger.Error("rsvp repair list failed",
				"event", "consensus_rsvp_repair_list_failed",
				"module", "hangout-planning/consensus-engine",
				"layer", "worker",
				"polls", scanned,
				"error", err.Error(),
			)
			return created, err
		}
		scanned += len(polls)
		for _, poll := range polls {
			if ctx.Err() != nil {
				return created, ctx.Err()
			}
			count, err := r.Finalizer.RepairRSVPs(ctx, poll.PollID)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			created += count
		}
		if len(polls) < limit {
			break
		}
		last := polls[len(polls)-1]
		after = ports.PageKey{PollID: last.PollID}
		if last.FinalizedAt != nil {
			after.At = *last.FinalizedAt
		}
	}
	logger.Info("rsvp repair cycle completed",
		"event", "consensus_rsvp_repair_completed",
		"module", "hangout-planning/consensus-engine",
		"layer", "worker",
		"polls", scanned,
		"created", created,
	)
	return created, firstErr
}
