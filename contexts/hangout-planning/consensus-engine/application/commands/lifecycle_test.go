package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
)

func TestCreatePollDraftThenActivate(t *testing.T) {
	h := newHarness(t, nil, "hangout-7", "u1", "u2")
	ctx := context.Background()

	poll, err := h.lifecycle.CreatePoll(ctx, CreatePollCommand{
		HangoutID: "hangout-7",
		CreatorID: "u1",
		Config:    entities.PollConfig{ConsensusThreshold: 50},
		Options:   []OptionInput{{Title: " Picnic ", Currency: "eur"}},
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if poll.Status != entities.PollStatusDraft || poll.Config.ConsensusType != entities.ConsensusTypePercentage {
		t.Fatalf("unexpected poll %+v", poll)
	}
	if poll.Options[0].Title != "Picnic" || poll.Options[0].Currency != "EUR" {
		t.Fatalf("expected option input normalized, got %+v", poll.Options[0])
	}

	if _, err := h.lifecycle.Activate(ctx, TransitionCommand{PollID: poll.PollID, ActorID: "u1"}); !errors.Is(err, domainerrors.ErrNotEnoughOptions) {
		t.Fatalf("expected not enough options, got %v", err)
	}
	updated, err := h.lifecycle.AddOption(ctx, AddOptionCommand{PollID: poll.PollID, UserID: "u2", Option: OptionInput{Title: "Museum"}})
	if err != nil {
		t.Fatalf("participant add option failed: %v", err)
	}
	if len(updated.Options) != 2 || updated.Options[1].Position != 1 || updated.Options[1].CreatedBy != "u2" {
		t.Fatalf("unexpected options %+v", updated.Options)
	}
	if _, err := h.lifecycle.AddOption(ctx, AddOptionCommand{PollID: poll.PollID, UserID: "mallory", Option: OptionInput{Title: "Zoo"}}); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected outsider to be rejected, got %v", err)
	}

	active, err := h.lifecycle.Activate(ctx, TransitionCommand{PollID: poll.PollID, ActorID: "u1"})
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if active.Status != entities.PollStatusActive {
		t.Fatalf("expected active, got %s", active.Status)
	}
	if _, err := h.lifecycle.AddOption(ctx, AddOptionCommand{PollID: poll.PollID, UserID: "u1", Option: OptionInput{Title: "Zoo"}}); !errors.Is(err, domainerrors.ErrOptionsLocked) {
		t.Fatalf("expected options locked once active, got %v", err)
	}
	if events := h.store.OutboxEvents(EventPollActivated); len(events) != 1 {
		t.Fatalf("expected one poll.activated event, got %d", len(events))
	}
}

func TestCreatePollValidation(t *testing.T) {
	h := newHarness(t, nil, "hangout-7", "u1")
	ctx := context.Background()
	past := testNow.Add(-time.Hour)

	cases := []struct {
		name string
		cmd  CreatePollCommand
		want error
	}{
		{name: "missing hangout", cmd: CreatePollCommand{CreatorID: "u1"}, want: domainerrors.ErrInvalidInput},
		{name: "unknown consensus type", cmd: CreatePollCommand{HangoutID: "hangout-7", CreatorID: "u1", Config: entities.PollConfig{ConsensusType: "unanimous"}}, want: domainerrors.ErrInvalidInput},
		{name: "threshold above 100", cmd: CreatePollCommand{HangoutID: "hangout-7", CreatorID: "u1", Config: entities.PollConfig{ConsensusThreshold: 101}}, want: domainerrors.ErrInvalidInput},
		{name: "minimum without count", cmd: CreatePollCommand{HangoutID: "hangout-7", CreatorID: "u1", Config: entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum}}, want: domainerrors.ErrInvalidInput},
		{name: "expiry in the past", cmd: CreatePollCommand{HangoutID: "hangout-7", CreatorID: "u1", Config: entities.PollConfig{ExpiresAt: &past}}, want: domainerrors.ErrInvalidInput},
		{name: "blank option title", cmd: CreatePollCommand{HangoutID: "hangout-7", CreatorID: "u1", Options: []OptionInput{{Title: " "}}}, want: domainerrors.ErrInvalidInput},
		{name: "publish with one option", cmd: CreatePollCommand{HangoutID: "hangout-7", CreatorID: "u1", Options: []OptionInput{{Title: "Picnic"}}, Publish: true}, want: domainerrors.ErrNotEnoughOptions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.lifecycle.CreatePoll(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreatePollRejectsSecondPollForHangout(t *testing.T) {
	h := newHarness(t, []entities.Poll{activePoll(minimumConfig(2))}, "hangout-1", "u1")
	_, err := h.lifecycle.CreatePoll(context.Background(), CreatePollCommand{HangoutID: "hangout-1", CreatorID: "u1"})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPauseResumeAndTerminalStates(t *testing.T) {
	h := newHarness(t, []entities.Poll{activePoll(minimumConfig(2))}, "hangout-1", "u1", "u2")
	ctx := context.Background()
	cmd := TransitionCommand{PollID: "poll-1", ActorID: "u1"}

	if _, err := h.lifecycle.Pause(ctx, TransitionCommand{PollID: "poll-1", ActorID: "u2"}); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected only the creator to pause, got %v", err)
	}
	paused, err := h.lifecycle.Pause(ctx, cmd)
	if err != nil || paused.Status != entities.PollStatusPaused {
		t.Fatalf("pause failed: %v %s", err, paused.Status)
	}
	if _, err := h.lifecycle.Pause(ctx, cmd); !errors.Is(err, domainerrors.ErrInvalidTransition) {
		t.Fatalf("expected pausing twice to fail, got %v", err)
	}
	resumed, err := h.lifecycle.Resume(ctx, cmd)
	if err != nil || resumed.Status != entities.PollStatusActive {
		t.Fatalf("resume failed: %v %s", err, resumed.Status)
	}
	closed, err := h.lifecycle.Close(ctx, cmd)
	if err != nil || closed.Status != entities.PollStatusClosed {
		t.Fatalf("close failed: %v %s", err, closed.Status)
	}
	if _, err := h.lifecycle.Cancel(ctx, cmd); !errors.Is(err, domainerrors.ErrInvalidTransition) {
		t.Fatalf("expected closed poll to be terminal, got %v", err)
	}
	if _, err := h.votes.CastVote(ctx, CastVoteCommand{PollID: "poll-1", UserID: "u2", OptionID: "X"}); !errors.Is(err, domainerrors.ErrPollNotActive) {
		t.Fatalf("expected closed poll to reject votes, got %v", err)
	}
}

func TestTransitionOnOverduePollExpiresIt(t *testing.T) {
	poll := activePoll(minimumConfig(2))
	expiresAt := testNow.Add(-time.Second)
	poll.Config.ExpiresAt = &expiresAt
	h := newHarness(t, []entities.Poll{poll}, "hangout-1", "u1")

	if _, err := h.lifecycle.Pause(context.Background(), TransitionCommand{PollID: "poll-1", ActorID: "u1"}); !errors.Is(err, domainerrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	stored, _ := h.store.GetPoll(context.Background(), "poll-1")
	if stored.Status != entities.PollStatusExpired {
		t.Fatalf("expected expired, got %s", stored.Status)
	}
	expired, err := h.lifecycle.Expire(context.Background(), "poll-1")
	if err != nil || expired {
		t.Fatalf("expected an already expired poll to be left alone, got %v %v", expired, err)
	}
	if events := h.store.OutboxEvents(EventPollExpired); len(events) != 1 {
		t.Fatalf("expected one poll.expired event, got %d", len(events))
	}
}

func TestCancelForHangout(t *testing.T) {
	h := newHarness(t, []entities.Poll{activePoll(minimumConfig(2))}, "hangout-1", "u1")
	ctx := context.Background()

	applied, err := h.lifecycle.CancelForHangout(ctx, "hangout-1", "hangout_deleted")
	if err != nil || !applied {
		t.Fatalf("expected cancel to apply, got %v %v", applied, err)
	}
	applied, err = h.lifecycle.CancelForHangout(ctx, "hangout-1", "hangout_deleted")
	if err != nil || applied {
		t.Fatalf("expected second cancel to be a no-op, got %v %v", applied, err)
	}
	applied, err = h.lifecycle.CancelForHangout(ctx, "hangout-404", "hangout_deleted")
	if err != nil || applied {
		t.Fatalf("expected unknown hangout to be ignored, got %v %v", applied, err)
	}
	if events := h.store.OutboxEvents(EventPollCancelled); len(events) != 1 {
		t.Fatalf("expected one poll.cancelled event, got %d", len(events))
	}
}
