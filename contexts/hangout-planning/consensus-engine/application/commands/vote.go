package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "hangout/contexts/hangout-planning/consensus-engine/application"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/domain/services"
	"hangout/contexts/hangout-planning/consensus-engine/ports"
)

// CastVoteCommand is the single write entry point of the engine. An empty Mode
// means toggle.
type CastVoteCommand struct {
	PollID         string
	UserID         string
	OptionID       string
	Mode           entities.VoteMode
	IdempotencyKey string
}

type WithdrawVoteCommand struct {
	PollID         string
	UserID         string
	OptionID       string
	IdempotencyKey string
}

type MarkPreferredCommand struct {
	PollID         string
	UserID         string
	OptionID       string
	IdempotencyKey string
}

// CastVoteResult is stored verbatim for idempotent replays.
type CastVoteResult struct {
	VoteCast            bool                `json:"vote_cast"`
	VoteActive          bool                `json:"vote_active"`
	ImplicitVoteCreated bool                `json:"implicit_vote_created"`
	Finalized           bool                `json:"finalized"`
	WinningOption       *entities.Option    `json:"winning_option,omitempty"`
	PollStatus          entities.PollStatus `json:"poll_status"`
	Evaluation          services.Evaluation `json:"evaluation"`
	Replayed            bool                `json:"-"`
}

// VoteUseCase orchestrates a vote: lazy expiry, ledger mutation, evaluation
// against the current roster and finalization when consensus is reached.
type VoteUseCase struct {
	Polls          ports.PollRepository
	Ledger         ports.VoteLedger
	Roster         ports.RosterReader
	Finalizer      Finalizer
	Idempotency    ports.IdempotencyStore
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Metrics        ports.Metrics
	Logger         *slog.Logger
}

func (uc VoteUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)

	cmd.PollID = strings.TrimSpace(cmd.PollID)
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	cmd.OptionID = strings.TrimSpace(cmd.OptionID)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	if cmd.Mode == "" {
		cmd.Mode = entities.VoteModeToggle
	}
	if cmd.Mode == entities.VoteModeAbstain {
		cmd.OptionID = entities.AbstainOptionID
	}
	logger.Info("vote cast processing started",
		"event", "consensus_vote_cast_started",
		"module", "hangout-planning/consensus-engine",
		"layer", "application",
		"poll_id", cmd.PollID,
		"user_id", cmd.UserID,
		"option_id", cmd.OptionID,
		"mode", string(cmd.Mode),
	)
	if cmd.PollID == "" || cmd.UserID == "" || cmd.OptionID == "" || !cmd.Mode.Valid() {
		logger.Warn("vote cast validation failed",
			"event", "consensus_vote_cast_validation_failed",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", cmd.PollID,
			"user_id", cmd.UserID,
			"mode", string(cmd.Mode),
		)
		metrics.VoteRecorded(string(cmd.Mode), "invalid")
		return CastVoteResult{}, domainerrors.ErrInvalidInput
	}

	now := uc.now()
	requestHash := hashCastVoteCommand(cmd)
	if cmd.IdempotencyKey != "" && uc.Idempotency != nil {
		record, found, err := uc.Idempotency.Get(ctx, cmd.IdempotencyKey, now)
		if err != nil {
			return CastVoteResult{}, err
		}
		if found {
			if record.RequestHash != requestHash {
				logger.Warn("vote cast idempotency conflict",
					"event", "consensus_vote_cast_idempotency_conflict",
					"module", "hangout-planning/consensus-engine",
					"layer", "application",
					"poll_id", cmd.PollID,
					"user_id", cmd.UserID,
				)
				return CastVoteResult{}, domainerrors.ErrIdempotencyConflict
			}
			var replay CastVoteResult
			if err := json.Unmarshal(record.Response, &replay); err != nil {
				return CastVoteResult{}, err
			}
			replay.Replayed = true
			logger.Info("vote cast replayed",
				"event", "consensus_vote_cast_replayed",
				"module", "hangout-planning/consensus-engine",
				"layer", "application",
				"poll_id", cmd.PollID,
				"user_id", cmd.UserID,
			)
			return replay, nil
		}
	}

	result, err := uc.castVote(ctx, cmd, now)
	if err != nil {
		metrics.VoteRecorded(string(cmd.Mode), outcomeForError(err))
		return CastVoteResult{}, err
	}
	outcome := "recorded"
	if result.Finalized {
		outcome = "finalized"
	}
	metrics.VoteRecorded(string(cmd.Mode), outcome)

	if cmd.IdempotencyKey != "" && uc.Idempotency != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			return CastVoteResult{}, err
		}
		if err := uc.Idempotency.Put(ctx, ports.IdempotencyRecord{
			Key:         cmd.IdempotencyKey,
			RequestHash: requestHash,
			Response:    payload,
			ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
		}); err != nil {
			return CastVoteResult{}, err
		}
	}
	return result, nil
}

func (uc VoteUseCase) WithdrawVote(ctx context.Context, cmd WithdrawVoteCommand) (CastVoteResult, error) {
	return uc.CastVote(ctx, CastVoteCommand{
		PollID:         cmd.PollID,
		UserID:         cmd.UserID,
		OptionID:       cmd.OptionID,
		Mode:           entities.VoteModeRemove,
		IdempotencyKey: cmd.IdempotencyKey,
	})
}

// MarkPreferred creates the vote first when the user has none for the option;
// the result reports that through ImplicitVoteCreated.
func (uc VoteUseCase) MarkPreferred(ctx context.Context, cmd MarkPreferredCommand) (CastVoteResult, error) {
	return uc.CastVote(ctx, CastVoteCommand{
		PollID:         cmd.PollID,
		UserID:         cmd.UserID,
		OptionID:       cmd.OptionID,
		Mode:           entities.VoteModePreferred,
		IdempotencyKey: cmd.IdempotencyKey,
	})
}

// Reconcile re-evaluates an active poll without a vote and finalizes it if
// consensus was missed by concurrent voters.
func (uc VoteUseCase) Reconcile(ctx context.Context, pollID string) (CastVoteResult, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return CastVoteResult{}, err
	}
	if poll.Status != entities.PollStatusActive {
		return uc.resultForPoll(poll), nil
	}
	roster, err := uc.Roster.ListParticipants(ctx, poll.HangoutID)
	if err != nil {
		return CastVoteResult{}, err
	}
	return uc.evaluateAndFinalize(ctx, poll, roster, CastVoteResult{})
}

func (uc VoteUseCase) castVote(ctx context.Context, cmd CastVoteCommand, now time.Time) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)

	poll, err := uc.Polls.GetPoll(ctx, cmd.PollID)
	if err != nil {
		return CastVoteResult{}, err
	}
	expired, applied, err := expireIfOverdue(ctx, uc.Polls, uc.IDGen, logger, poll, now, "vote")
	if err != nil {
		return CastVoteResult{}, err
	}
	if expired {
		if !applied {
			// A concurrent request moved the poll first; it may have finalized.
			current, readErr := uc.Polls.GetPoll(ctx, poll.PollID)
			if readErr == nil && current.Status == entities.PollStatusConsensusReached {
				return uc.resultForPoll(current), nil
			}
		}
		return CastVoteResult{}, domainerrors.ErrPollNotActive
	}
	if poll.Status != entities.PollStatusActive {
		logger.Warn("vote rejected for inactive poll",
			"event", "consensus_vote_poll_not_active",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"status", string(poll.Status),
		)
		return CastVoteResult{}, domainerrors.ErrPollNotActive
	}

	roster, err := uc.Roster.ListParticipants(ctx, poll.HangoutID)
	if err != nil {
		return CastVoteResult{}, err
	}
	if !rosterContains(roster, cmd.UserID) {
		logger.Warn("vote rejected for non-participant",
			"event", "consensus_vote_unauthorized",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"user_id", cmd.UserID,
		)
		return CastVoteResult{}, domainerrors.ErrUnauthorized
	}
	if err := validateVoteOption(poll, cmd); err != nil {
		return CastVoteResult{}, err
	}

	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CastVoteResult{}, err
	}
	mutation := ports.VoteMutation{
		PollID:        poll.PollID,
		UserID:        cmd.UserID,
		OptionID:      cmd.OptionID,
		AllowMultiple: poll.Config.AllowMultiple,
		VoteID:        voteID,
		At:            now,
	}
	var mutated ports.VoteMutationResult
	switch cmd.Mode {
	case entities.VoteModeAdd, entities.VoteModeAbstain:
		mutated, err = uc.Ledger.Add(ctx, mutation)
	case entities.VoteModeRemove:
		mutated, err = uc.Ledger.Withdraw(ctx, mutation)
	case entities.VoteModePreferred:
		mutated, err = uc.Ledger.MarkPreferred(ctx, mutation)
	default:
		mutated, err = uc.Ledger.Toggle(ctx, mutation)
	}
	if err != nil {
		if errors.Is(err, domainerrors.ErrPollNotActive) {
			// The poll left active between the read and the write.
			current, readErr := uc.Polls.GetPoll(ctx, poll.PollID)
			if readErr == nil && current.Status == entities.PollStatusConsensusReached {
				return uc.resultForPoll(current), nil
			}
		}
		logger.Warn("vote ledger mutation rejected",
			"event", "consensus_vote_mutation_rejected",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"user_id", cmd.UserID,
			"option_id", cmd.OptionID,
			"mode", string(cmd.Mode),
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}
	logger.Info("vote ledger mutated",
		"event", "consensus_vote_mutated",
		"module", "hangout-planning/consensus-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"user_id", cmd.UserID,
		"option_id", cmd.OptionID,
		"mode", string(cmd.Mode),
		"vote_active", mutated.Active,
		"changed", mutated.Changed,
		"implicit_vote_created", mutated.ImplicitlyCreated,
	)

	return uc.evaluateAndFinalize(ctx, poll, roster, CastVoteResult{
		VoteCast:            true,
		VoteActive:          mutated.Active,
		ImplicitVoteCreated: mutated.ImplicitlyCreated,
	})
}

func (uc VoteUseCase) evaluateAndFinalize(
	ctx context.Context,
	poll entities.Poll,
	roster []entities.Participant,
	result CastVoteResult,
) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	snapshot, err := uc.Ledger.Snapshot(ctx, poll.PollID)
	if err != nil {
		return CastVoteResult{}, err
	}
	started := time.Now()
	evaluation := services.Evaluate(poll, snapshot, roster)
	application.ResolveMetrics(uc.Metrics).EvaluationObserved(time.Since(started), evaluation.Reached)
	result.Evaluation = evaluation
	result.PollStatus = poll.Status
	if !evaluation.Reached {
		logger.Debug("consensus not reached",
			"event", "consensus_not_reached",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"voted_user_count", evaluation.VotedUserCount,
			"quorum", evaluation.Quorum,
		)
		return result, nil
	}

	outcome, err := uc.Finalizer.Finalize(ctx, poll, evaluation.WinningOptionID, roster)
	if err != nil {
		return CastVoteResult{}, err
	}
	result.PollStatus = outcome.Poll.Status
	result.Finalized = outcome.Finalized
	result.WinningOption = outcome.Winner
	return result, nil
}

func (uc VoteUseCase) resultForPoll(poll entities.Poll) CastVoteResult {
	result := CastVoteResult{PollStatus: poll.Status}
	if winner, ok := poll.WinningOption(); ok {
		result.Finalized = true
		result.WinningOption = &winner
	}
	return result
}

func (uc VoteUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}

func (uc VoteUseCase) resolveIdempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func validateVoteOption(poll entities.Poll, cmd CastVoteCommand) error {
	if cmd.OptionID == entities.AbstainOptionID {
		if !poll.Config.AllowAbstention {
			return domainerrors.ErrAbstentionDisallowed
		}
		if cmd.Mode == entities.VoteModePreferred {
			return domainerrors.ErrInvalidInput
		}
		return nil
	}
	if _, ok := poll.FindOption(cmd.OptionID); !ok {
		return domainerrors.ErrOptionNotFound
	}
	return nil
}

func hashCastVoteCommand(cmd CastVoteCommand) string {
	return hashPayload(map[string]any{
		"poll_id":   cmd.PollID,
		"user_id":   cmd.UserID,
		"option_id": cmd.OptionID,
		"mode":      string(cmd.Mode),
	})
}

func outcomeForError(err error) string {
	switch {
	case errors.Is(err, domainerrors.ErrPollNotActive):
		return "poll_not_active"
	case errors.Is(err, domainerrors.ErrMultipleVotesDisallowed):
		return "multiple_votes_disallowed"
	case errors.Is(err, domainerrors.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domainerrors.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "rejected"
	}
}
