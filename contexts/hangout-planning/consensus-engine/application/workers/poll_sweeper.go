package workers

import (
	"context"
	"log/slog"
	"time"

	application "hangout/contexts/hangout-planning/consensus-engine/application"
	"hangout/contexts/hangout-planning/consensus-engine/application/commands"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	"hangout/contexts/hangout-planning/consensus-engine/ports"
)

type SweepReport struct {
	Scanned   int
	Expired   int
	Finalized int
	Failed    int
}

// PollSweeper is the out-of-band pass over open polls. Voting never depends
// on it: expiry is applied lazily and consensus is evaluated on every vote.
// It only catches polls nobody touched since they became overdue or reached
// consensus while voters raced.
type PollSweeper struct {
	Polls     ports.PollRepository
	Lifecycle commands.LifecycleUseCase
	Votes     commands.VoteUseCase
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce walks every open poll in created_at order, one keyset page at a
// time, so long-lived polls at the head never hide later ones.
func (s PollSweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	logger := application.ResolveLogger(s.Logger)
	limit := s.BatchSize
	if limit <= 0 {
		limit = 200
	}
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	var (
		report SweepReport
		after  ports.PageKey
	)
	for {
		polls, err := s.Polls.ListPollsByStatus(ctx, []entities.PollStatus{
			entities.PollStatusActive,
			entities.PollStatusPaused,
		}, after, limit)
		if err != nil {
			logger.Error("poll sweep list failed",
				"event", "consensus_poll_sweep_list_failed",
				"module", "hangout-planning/consensus-engine",
				"layer", "worker",
				"scanned", report.Scanned,
				"error", err.Error(),
			)
			return report, err
		}
		report.Scanned += len(polls)
		for _, poll := range polls {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.sweepPoll(ctx, logger, poll, now, &report)
		}
		if len(polls) < limit {
			break
		}
		last := polls[len(polls)-1]
		after = ports.PageKey{At: last.CreatedAt, PollID: last.PollID}
	}

	logger.Info("poll sweep completed",
		"event", "consensus_poll_sweep_completed",
		"module", "hangout-planning/consensus-engine",
		"layer", "worker",
		"scanned", report.Scanned,
		"expired", report.Expired,
		"finalized", report.Finalized,
		"failed", report.Failed,
	)
	return report, nil
}

func (s PollSweeper) sweepPoll(
	ctx context.Context,
	logger *slog.Logger,
	poll entities.Poll,
	now time.Time,
	report *SweepReport,
) {
	if poll.IsOverdue(now) {
		expired, err := s.Lifecycle.Expire(ctx, poll.PollID)
		if err != nil {
			report.Failed++
			s.logPollFailure(logger, poll, "expire", err)
			return
		}
		if expired {
			report.Expired++
		}
		return
	}
	if poll.Status != entities.PollStatusActive {
		return
	}
	result, err := s.Votes.Reconcile(ctx, poll.PollID)
	if err != nil {
		report.Failed++
		s.logPollFailure(logger, poll, "reconcile", err)
		return
	}
	if result.Finalized {
		report.Finalized++
	}
}

func (s PollSweeper) logPollFailure(logger *slog.Logger, poll entities.Poll, step string, err error) {
	logger.Error("poll sweep step failed",
		"event", "consensus_poll_sweep_step_failed",
		"module", "hangout-planning/consensus-engine",
		"layer", "worker",
		"poll_id", poll.PollID,
		"step", step,
		"error", err.Error(),
	)
}
