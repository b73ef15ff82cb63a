package queries

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "hangout/contexts/hangout-planning/consensus-engine/application"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/domain/services"
	"hangout/contexts/hangout-planning/consensus-engine/ports"

	"golang.org/x/sync/singleflight"
)

type PollStateQuery struct {
	PollID   string
	ViewerID string
}

type OptionState struct {
	Option    entities.Option
	Votes     int
	Preferred int
	// VoterIDs is nil for anonymous polls.
	VoterIDs []string
	Archived bool
}

type ViewerVote struct {
	OptionID  string
	Preferred bool
	CreatedAt time.Time
}

type PollState struct {
	PollID              string
	HangoutID           string
	CreatorID           string
	Status              entities.PollStatus
	Overdue             bool
	Config              entities.PollConfig
	Options             []OptionState
	ArchivedOptions     []OptionState
	VotedUserCount      int
	Quorum              int
	RosterSize          int
	MissingMandatory    int
	ConsensusReachedNow bool
	LeadingOptionID     string
	Finalized           bool
	WinningOption       *entities.Option
	FinalizedAt         *time.Time
	ViewerIsParticipant bool
	ViewerVotes         []ViewerVote
	GeneratedAt         time.Time
}

// PollStateUseCase serves the read model of a poll. Identical concurrent
// reads share one storage round trip when Group is set.
type PollStateUseCase struct {
	Polls  ports.PollRepository
	Ledger ports.VoteLedger
	Roster ports.RosterReader
	Clock  ports.Clock
	Group  *singleflight.Group
	Logger *slog.Logger
}

func (uc PollStateUseCase) GetPollState(ctx context.Context, query PollStateQuery) (PollState, error) {
	pollID := strings.TrimSpace(query.PollID)
	viewerID := strings.TrimSpace(query.ViewerID)
	if pollID == "" {
		return PollState{}, domainerrors.ErrInvalidInput
	}
	if uc.Group == nil {
		return uc.load(ctx, pollID, viewerID)
	}
	// The shared load outlives any single caller; each caller waits on its
	// own ctx.
	loadCtx := context.WithoutCancel(ctx)
	results := uc.Group.DoChan(pollID+"\x00"+viewerID, func() (any, error) {
		return uc.load(loadCtx, pollID, viewerID)
	})
	var result singleflight.Result
	select {
	case <-ctx.Done():
		return PollState{}, ctx.Err()
	case result = <-results:
	}
	if result.Err != nil {
		return PollState{}, result.Err
	}
	if result.Shared {
		application.ResolveLogger(uc.Logger).Debug("poll state read coalesced",
			"event", "consensus_poll_state_coalesced",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", pollID,
		)
	}
	return result.Val.(PollState), nil
}

func (uc PollStateUseCase) load(ctx context.Context, pollID string, viewerID string) (PollState, error) {
	logger := application.ResolveLogger(uc.Logger)
	poll, err := uc.Polls.GetPoll(ctx, pollID)
	if err != nil {
		if !errors.Is(err, domainerrors.ErrPollNotFound) {
			logger.Error("poll state load failed",
				"event", "consensus_poll_state_load_failed",
				"module", "hangout-planning/consensus-engine",
				"layer", "application",
				"poll_id", pollID,
				"error", err.Error(),
			)
		}
		return PollState{}, err
	}
	snapshot, err := uc.Ledger.Snapshot(ctx, poll.PollID)
	if err != nil {
		return PollState{}, err
	}
	roster, err := uc.Roster.ListParticipants(ctx, poll.HangoutID)
	if err != nil {
		return PollState{}, err
	}

	now := uc.now()
	live := services.Evaluate(poll, snapshot, roster)
	tallied := poll
	tallied.Options = append(append([]entities.Option(nil), poll.Options...), poll.ArchivedOptions...)
	all := services.Evaluate(tallied, snapshot, roster)
	tallies := make(map[string]services.OptionTally, len(all.Tallies))
	for _, tally := range all.Tallies {
		tallies[tally.OptionID] = tally
	}

	state := PollState{
		PollID:           poll.PollID,
		HangoutID:        poll.HangoutID,
		CreatorID:        poll.CreatorID,
		Status:           poll.Status,
		Overdue:          !poll.Status.IsTerminal() && poll.IsOverdue(now),
		Config:           poll.Config,
		Options:          optionStates(poll.Options, tallies, poll.Config.IsAnonymous, false),
		ArchivedOptions:  optionStates(poll.ArchivedOptions, tallies, poll.Config.IsAnonymous, true),
		VotedUserCount:   live.VotedUserCount,
		Quorum:           live.Quorum,
		RosterSize:       live.RosterSize,
		MissingMandatory: len(live.MissingMandatory),
		FinalizedAt:      poll.FinalizedAt,
		GeneratedAt:      now,
	}
	if poll.Status == entities.PollStatusActive && !state.Overdue {
		state.ConsensusReachedNow = live.Reached
		state.LeadingOptionID = leadingOption(live.Tallies)
	}
	if winner, ok := poll.WinningOption(); ok {
		state.Finalized = true
		state.WinningOption = &winner
	}
	if viewerID != "" {
		for _, participant := range roster {
			if participant.UserID == viewerID {
				state.ViewerIsParticipant = true
				break
			}
		}
		for _, vote := range snapshot.ByUser[viewerID] {
			state.ViewerVotes = append(state.ViewerVotes, ViewerVote{
				OptionID:  vote.OptionID,
				Preferred: vote.Preferred,
				CreatedAt: vote.CreatedAt,
			})
		}
	}
	return state, nil
}

func (uc PollStateUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}

func optionStates(
	options []entities.Option,
	tallies map[string]services.OptionTally,
	anonymous bool,
	archived bool,
) []OptionState {
	items := make([]OptionState, 0, len(options))
	for _, option := range options {
		tally := tallies[option.OptionID]
		item := OptionState{
			Option:    option,
			Votes:     tally.Votes,
			Preferred: tally.Preferred,
			Archived:  archived,
		}
		if !anonymous {
			item.VoterIDs = append([]string{}, tally.VoterIDs...)
		}
		items = append(items, item)
	}
	return items
}

// leadingOption applies the same tie-break as the evaluator: tallies are in
// creation order and the first maximum wins.
func leadingOption(tallies []services.OptionTally) string {
	best := -1
	for i, tally := range tallies {
		if tally.Votes == 0 {
			continue
		}
		if best < 0 || tally.Votes > tallies[best].Votes {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return tallies[best].OptionID
}
