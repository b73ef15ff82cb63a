package commands

import (
	"testing"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/adapters/memory"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.Store
	votes     VoteUseCase
	lifecycle LifecycleUseCase
	finalizer Finalizer
}

func newHarness(t *testing.T, polls []entities.Poll, hangoutID string, users ...string) harness {
	t.Helper()
	store := memory.NewStore(polls)
	store.SetNow(func() time.Time { return testNow })
	roster := make([]entities.Participant, 0, len(users))
	for _, userID := range users {
		roster = append(roster, entities.Participant{UserID: userID})
	}
	store.SetParticipants(hangoutID, roster)

	finalizer := Finalizer{Polls: store, RSVPs: store, Roster: store, Clock: store, IDGen: store}
	return harness{
		store:     store,
		finalizer: finalizer,
		lifecycle: LifecycleUseCase{Polls: store, Roster: store, Clock: store, IDGen: store},
		votes: VoteUseCase{
			Polls:       store,
			Ledger:      store,
			Roster:      store,
			Finalizer:   finalizer,
			Idempotency: store,
			Clock:       store,
			IDGen:       store,
		},
	}
}

func activePoll(config entities.PollConfig) entities.Poll {
	return entities.Poll{
		PollID:    "poll-1",
		HangoutID: "hangout-1",
		CreatorID: "u1",
		Status:    entities.PollStatusActive,
		Config:    config,
		Options: []entities.Option{
			{OptionID: "X", Title: "Bowling", Position: 0, CreatedAt: testNow.Add(-2 * time.Hour)},
			{OptionID: "Y", Title: "Karaoke", Position: 1, CreatedAt: testNow.Add(-time.Hour)},
		},
		CreatedAt: testNow.Add(-3 * time.Hour),
		UpdatedAt: testNow.Add(-3 * time.Hour),
	}
}

func minimumConfig(n int) entities.PollConfig {
	return entities.PollConfig{
		ConsensusType:       entities.ConsensusTypeMinimum,
		MinimumParticipants: n,
	}
}
