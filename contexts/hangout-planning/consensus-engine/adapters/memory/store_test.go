package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeNow = time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC)

func seededStore(allowMultiple bool) *Store {
	return NewStore([]entities.Poll{{
		PollID:    "poll-1",
		HangoutID: "hangout-1",
		CreatorID: "u1",
		Status:    entities.PollStatusActive,
		Config:    entities.PollConfig{AllowMultiple: allowMultiple, ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 2},
		Options: []entities.Option{
			{OptionID: "X", Title: "Bowling", Position: 0, CreatedAt: storeNow},
			{OptionID: "Y", Title: "Karaoke", Position: 1, CreatedAt: storeNow.Add(time.Minute)},
		},
		CreatedAt: storeNow,
	}})
}

func mutation(userID string, optionID string, allowMultiple bool) ports.VoteMutation {
	return ports.VoteMutation{
		PollID:        "poll-1",
		UserID:        userID,
		OptionID:      optionID,
		AllowMultiple: allowMultiple,
		At:            storeNow,
	}
}

func TestToggleTwiceRestoresOriginalState(t *testing.T) {
	store := seededStore(true)
	ctx := context.Background()

	first, err := store.Toggle(ctx, mutation("u1", "X", true))
	require.NoError(t, err)
	assert.True(t, first.Active)

	second, err := store.Toggle(ctx, mutation("u1", "X", true))
	require.NoError(t, err)
	assert.False(t, second.Active)

	snapshot, err := store.Snapshot(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.VotedUserCount())
}

func TestAddNeverDuplicatesVoteTriple(t *testing.T) {
	store := seededStore(true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Add(ctx, mutation("u1", "X", true))
		require.NoError(t, err)
	}
	_, err := store.MarkPreferred(ctx, mutation("u1", "X", true))
	require.NoError(t, err)

	snapshot, err := store.Snapshot(ctx, "poll-1")
	require.NoError(t, err)
	require.Len(t, snapshot.ByUser["u1"], 1)
	assert.True(t, snapshot.ByUser["u1"][0].Preferred)
}

func TestSingleVotePollRejectsSecondOption(t *testing.T) {
	store := seededStore(false)
	ctx := context.Background()

	_, err := store.Toggle(ctx, mutation("u1", "X", false))
	require.NoError(t, err)

	_, err = store.Toggle(ctx, mutation("u1", "Y", false))
	require.ErrorIs(t, err, domainerrors.ErrMultipleVotesDisallowed)
	_, err = store.MarkPreferred(ctx, mutation("u1", "Y", false))
	require.ErrorIs(t, err, domainerrors.ErrMultipleVotesDisallowed)

	snapshot, err := store.Snapshot(ctx, "poll-1")
	require.NoError(t, err)
	require.Len(t, snapshot.ByUser["u1"], 1)
	assert.Equal(t, "X", snapshot.ByUser["u1"][0].OptionID)
}

func TestAbstentionIsExclusiveEvenWithMultipleVotes(t *testing.T) {
	store := seededStore(true)
	ctx := context.Background()

	_, err := store.Add(ctx, mutation("u1", entities.AbstainOptionID, true))
	require.NoError(t, err)
	_, err = store.Add(ctx, mutation("u1", "X", true))
	require.ErrorIs(t, err, domainerrors.ErrMultipleVotesDisallowed)
}

func TestMarkPreferredKeepsAtMostOnePreferred(t *testing.T) {
	store := seededStore(true)
	ctx := context.Background()

	created, err := store.MarkPreferred(ctx, mutation("u1", "X", true))
	require.NoError(t, err)
	assert.True(t, created.ImplicitlyCreated)

	moved, err := store.MarkPreferred(ctx, mutation("u1", "Y", true))
	require.NoError(t, err)
	assert.True(t, moved.ImplicitlyCreated)

	again, err := store.MarkPreferred(ctx, mutation("u1", "Y", true))
	require.NoError(t, err)
	assert.False(t, again.ImplicitlyCreated)
	assert.False(t, again.Changed)

	snapshot, err := store.Snapshot(ctx, "poll-1")
	require.NoError(t, err)
	preferred := 0
	for _, vote := range snapshot.ByUser["u1"] {
		if vote.Preferred {
			preferred++
			assert.Equal(t, "Y", vote.OptionID)
		}
	}
	assert.Equal(t, 1, preferred)
}

func TestWithdrawMissingVoteIsNoop(t *testing.T) {
	store := seededStore(true)
	result, err := store.Withdraw(context.Background(), mutation("u1", "X", true))
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.False(t, result.Active)
}

func TestLedgerRejectsMutationsOnceTerminal(t *testing.T) {
	store := seededStore(true)
	ctx := context.Background()

	_, err := store.Add(ctx, mutation("u1", "X", true))
	require.NoError(t, err)

	ok, err := store.FinalizePoll(ctx, ports.FinalizeRequest{PollID: "poll-1", WinnerID: "X", FinalizedAt: storeNow})
	require.NoError(t, err)
	require.True(t, ok)

	for name, call := range map[string]func(context.Context, ports.VoteMutation) (ports.VoteMutationResult, error){
		"toggle":    store.Toggle,
		"add":       store.Add,
		"withdraw":  store.Withdraw,
		"preferred": store.MarkPreferred,
	} {
		_, err := call(ctx, mutation("u1", "X", true))
		assert.ErrorIs(t, err, domainerrors.ErrPollNotActive, name)
	}
}

func TestFinalizePollNarrowsOptionsOnce(t *testing.T) {
	store := seededStore(false)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.FinalizePoll(ctx, ports.FinalizeRequest{PollID: "poll-1", WinnerID: "Y", FinalizedAt: storeNow})
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	poll, err := store.GetPoll(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, entities.PollStatusConsensusReached, poll.Status)
	require.Len(t, poll.Options, 1)
	assert.Equal(t, "Y", poll.Options[0].OptionID)
	require.Len(t, poll.ArchivedOptions, 1)
	assert.Equal(t, "X", poll.ArchivedOptions[0].OptionID)
	assert.True(t, poll.IsFinalized())
}

func TestTransitionStatusIsCompareAndSwap(t *testing.T) {
	store := seededStore(false)
	ctx := context.Background()

	ok, err := store.TransitionStatus(ctx, ports.StatusTransition{
		PollID: "poll-1",
		From:   []entities.PollStatus{entities.PollStatusDraft},
		To:     entities.PollStatusActive,
		At:     storeNow,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.TransitionStatus(ctx, ports.StatusTransition{
		PollID: "poll-1",
		From:   []entities.PollStatus{entities.PollStatusActive},
		To:     entities.PollStatusPaused,
		At:     storeNow,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsertMissingRSVPsIsIdempotent(t *testing.T) {
	store := seededStore(false)
	ctx := context.Background()
	rows := make([]entities.RSVP, 0, 3)
	for i := 1; i <= 3; i++ {
		rows = append(rows, entities.RSVP{
			RSVPID:    fmt.Sprintf("r%d", i),
			HangoutID: "hangout-1",
			UserID:    fmt.Sprintf("u%d", i),
			Status:    entities.RSVPStatusPending,
		})
	}

	created, err := store.InsertMissingRSVPs(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	created, err = store.InsertMissingRSVPs(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	listed, err := store.ListRSVPs(ctx, "hangout-1")
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestFailRSVPInserts(t *testing.T) {
	store := seededStore(false)
	boom := errors.New("connection reset")
	store.FailRSVPInserts(1, boom)

	_, err := store.InsertMissingRSVPs(context.Background(), []entities.RSVP{{HangoutID: "hangout-1", UserID: "u1"}})
	require.ErrorIs(t, err, boom)

	created, err := store.InsertMissingRSVPs(context.Background(), []entities.RSVP{{HangoutID: "hangout-1", UserID: "u1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestIdempotencyPutConflict(t *testing.T) {
	store := seededStore(false)
	ctx := context.Background()
	record := ports.IdempotencyRecord{Key: "k", RequestHash: "h1", Response: []byte(`{}`), ExpiresAt: storeNow.Add(time.Hour)}

	require.NoError(t, store.Put(ctx, record))
	require.NoError(t, store.Put(ctx, record))
	record.RequestHash = "h2"
	require.ErrorIs(t, store.Put(ctx, record), domainerrors.ErrIdempotencyConflict)

	_, found, err := store.Get(ctx, "k", storeNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListPollsByStatusPagesByKey(t *testing.T) {
	polls := make([]entities.Poll, 0, 3)
	for i, id := range []string{"poll-b", "poll-a", "poll-c"} {
		polls = append(polls, entities.Poll{
			PollID:    id,
			HangoutID: fmt.Sprintf("hangout-%d", i),
			Status:    entities.PollStatusActive,
			CreatedAt: storeNow,
		})
	}
	store := NewStore(polls)
	ctx := context.Background()
	statuses := []entities.PollStatus{entities.PollStatusActive}

	first, err := store.ListPollsByStatus(ctx, statuses, ports.PageKey{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "poll-a", first[0].PollID)
	assert.Equal(t, "poll-b", first[1].PollID)

	second, err := store.ListPollsByStatus(ctx, statuses, ports.PageKey{At: first[1].CreatedAt, PollID: first[1].PollID}, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "poll-c", second[0].PollID)
}
