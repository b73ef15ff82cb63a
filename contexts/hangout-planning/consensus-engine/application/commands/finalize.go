package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "hangout/contexts/hangout-planning/consensus-engine/application"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/ports"
)

// FinalizeOutcome reports the poll after a finalization attempt. Finalized is
// true whenever the poll ended up confirmed, whether or not this call won the
// compare-and-swap.
type FinalizeOutcome struct {
	Poll         entities.Poll
	Finalized    bool
	WonRace      bool
	Winner       *entities.Option
	RSVPsCreated int
}

// Finalizer performs the active -> consensus_reached transition and the
// follow-up RSVP materialisation.
type Finalizer struct {
	Polls   ports.PollRepository
	RSVPs   ports.RSVPRepository
	Roster  ports.RosterReader
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Metrics ports.Metrics
	Logger  *slog.Logger
}

// Finalize confirms winnerID for the poll. Only one caller can flip the
// status; every other caller re-reads the poll and reports the stored winner.
// RSVP failures are logged and left for the repair worker.
func (f Finalizer) Finalize(
	ctx context.Context,
	poll entities.Poll,
	winnerID string,
	roster []entities.Participant,
) (FinalizeOutcome, error) {
	logger := application.ResolveLogger(f.Logger)
	metrics := application.ResolveMetrics(f.Metrics)
	now := f.now()

	winner, found := poll.FindOption(winnerID)
	if !found {
		return FinalizeOutcome{}, domainerrors.ErrOptionNotFound
	}
	archived := make([]string, 0, len(poll.Options))
	for _, option := range poll.Options {
		if option.OptionID != winner.OptionID {
			archived = append(archived, option.OptionID)
		}
	}
	attendees := make([]string, 0, len(roster))
	for _, participant := range roster {
		attendees = append(attendees, participant.UserID)
	}
	event, err := newPollEnvelope(ctx, f.IDGen, EventHangoutConfirmed, poll, now, map[string]any{
		"winning_option":      winner,
		"archived_option_ids": archived,
		"participant_ids":     attendees,
		"finalized_at":        now.UTC(),
	})
	if err != nil {
		return FinalizeOutcome{}, err
	}

	won, err := f.Polls.FinalizePoll(ctx, ports.FinalizeRequest{
		PollID:      poll.PollID,
		WinnerID:    winner.OptionID,
		FinalizedAt: now,
		Event:       event,
	})
	if err != nil {
		logger.Error("poll finalization write failed",
			"event", "consensus_poll_finalize_failed",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"winning_option_id", winner.OptionID,
			"error", err.Error(),
		)
		return FinalizeOutcome{}, err
	}

	if !won {
		current, err := f.Polls.GetPoll(ctx, poll.PollID)
		if err != nil {
			return FinalizeOutcome{}, err
		}
		metrics.FinalizationAttempted("lost_race")
		outcome := FinalizeOutcome{Poll: current}
		if stored, ok := current.WinningOption(); ok {
			outcome.Finalized = true
			outcome.Winner = &stored
		}
		logger.Info("poll finalization lost compare-and-swap",
			"event", "consensus_poll_finalize_lost_race",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"status", string(current.Status),
			"already_finalized", outcome.Finalized,
		)
		return outcome, nil
	}

	// The write is committed; nothing after this point may fail the caller.
	current := narrowToWinner(poll, winner, now)
	metrics.FinalizationAttempted("won")
	logger.Info("poll finalized",
		"event", "consensus_poll_finalized",
		"module", "hangout-planning/consensus-engine",
		"layer", "application",
		"poll_id", current.PollID,
		"hangout_id", current.HangoutID,
		"winning_option_id", winner.OptionID,
		"roster_size", len(roster),
	)

	created, err := f.materializeRSVPs(ctx, current, roster)
	if err != nil {
		// The poll stays confirmed; RSVPRepair re-runs the insert later.
		metrics.RSVPMaterializationFailed()
		logger.Error("rsvp materialization failed after finalization",
			"event", "consensus_rsvp_materialize_failed",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", current.PollID,
			"hangout_id", current.HangoutID,
			"error", err.Error(),
		)
	}
	return FinalizeOutcome{
		Poll:         current,
		Finalized:    true,
		WonRace:      true,
		Winner:       &winner,
		RSVPsCreated: created,
	}, nil
}

// narrowToWinner mirrors what FinalizePoll stores: the winner stays live and
// every other option is archived.
func narrowToWinner(poll entities.Poll, winner entities.Option, finalizedAt time.Time) entities.Poll {
	narrowed := poll
	narrowed.ArchivedOptions = append([]entities.Option(nil), poll.ArchivedOptions...)
	for _, option := range poll.Options {
		if option.OptionID != winner.OptionID {
			narrowed.ArchivedOptions = append(narrowed.ArchivedOptions, option)
		}
	}
	at := finalizedAt.UTC()
	narrowed.Options = []entities.Option{winner}
	narrowed.Status = entities.PollStatusConsensusReached
	narrowed.WinningOptionID = winner.OptionID
	narrowed.FinalizedAt = &at
	narrowed.UpdatedAt = at
	return narrowed
}

// RepairRSVPs re-runs the idempotent RSVP insert for a confirmed poll against
// the current roster. Polls that are not confirmed are skipped.
func (f Finalizer) RepairRSVPs(ctx context.Context, pollID string) (int, error) {
	logger := application.ResolveLogger(f.Logger)
	poll, err := f.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return 0, err
	}
	if poll.Status != entities.PollStatusConsensusReached {
		logger.Debug("rsvp repair skipped for unconfirmed poll",
			"event", "consensus_rsvp_repair_skipped",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"status", string(poll.Status),
		)
		return 0, nil
	}
	roster, err := f.Roster.ListParticipants(ctx, poll.HangoutID)
	if err != nil {
		return 0, err
	}
	created, err := f.materializeRSVPs(ctx, poll, roster)
	if err != nil {
		application.ResolveMetrics(f.Metrics).RSVPMaterializationFailed()
		logger.Error("rsvp repair failed",
			"event", "consensus_rsvp_repair_failed",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"hangout_id", poll.HangoutID,
			"error", err.Error(),
		)
		return 0, err
	}
	if created > 0 {
		logger.Info("rsvp repair created missing rows",
			"event", "consensus_rsvp_repaired",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"hangout_id", poll.HangoutID,
			"created", created,
		)
	}
	return created, nil
}

func (f Finalizer) materializeRSVPs(ctx context.Context, poll entities.Poll, roster []entities.Participant) (int, error) {
	if len(roster) == 0 {
		return 0, nil
	}
	now := f.now()
	rows := make([]entities.RSVP, 0, len(roster))
	for _, participant := range roster {
		rsvpID, err := f.IDGen.NewID(ctx)
		if err != nil {
			return 0, err
		}
		rows = append(rows, entities.RSVP{
			RSVPID:    rsvpID,
			HangoutID: poll.HangoutID,
			UserID:    participant.UserID,
			Status:    entities.RSVPStatusPending,
			CreatedAt: now,
		})
	}
	created, err := f.RSVPs.InsertMissingRSVPs(ctx, rows)
	if err != nil {
		return 0, err
	}
	application.ResolveMetrics(f.Metrics).RSVPsMaterialized(created)
	return created, nil
}

func (f Finalizer) now() time.Time {
	if f.Clock == nil {
		return time.Now().UTC()
	}
	return f.Clock.Now().UTC()
}
