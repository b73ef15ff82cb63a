package queries

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/adapters/memory"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStateFixture(t *testing.T, config entities.PollConfig, status entities.PollStatus) (*memory.Store, PollStateUseCase) {
	t.Helper()
	store := memory.NewStore([]entities.Poll{{
		PollID:    "poll-1",
		HangoutID: "hangout-1",
		CreatorID: "alice",
		Status:    entities.PollStatusActive,
		Config:    config,
		Options: []entities.Option{
			{OptionID: "X", Title: "Bowling", Position: 0, CreatedAt: now},
			{OptionID: "Y", Title: "Karaoke", Position: 1, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}})
	store.SetNow(func() time.Time { return now })
	store.SetParticipants("hangout-1", []entities.Participant{
		{UserID: "alice"}, {UserID: "bob"}, {UserID: "carol", IsMandatory: true},
	})
	for _, vote := range []struct{ user, option string }{{"alice", "Y"}, {"bob", "X"}} {
		_, err := store.Add(context.Background(), ports.VoteMutation{
			PollID: "poll-1", UserID: vote.user, OptionID: vote.option, At: now,
		})
		require.NoError(t, err)
	}
	if status != entities.PollStatusActive {
		_, err := store.TransitionStatus(context.Background(), ports.StatusTransition{
			PollID: "poll-1",
			From:   []entities.PollStatus{entities.PollStatusActive},
			To:     status,
			At:     now,
		})
		require.NoError(t, err)
	}
	return store, PollStateUseCase{
		Polls:  store,
		Ledger: store,
		Roster: store,
		Clock:  store,
		Group:  &singleflight.Group{},
	}
}

func TestPollStateReportsProgressAndViewerVotes(t *testing.T) {
	_, uc := newStateFixture(t, entities.PollConfig{
		ConsensusType:      entities.ConsensusTypePercentage,
		ConsensusThreshold: 100,
	}, entities.PollStatusActive)

	state, err := uc.GetPollState(context.Background(), PollStateQuery{PollID: "poll-1", ViewerID: "bob"})
	require.NoError(t, err)

	assert.Equal(t, entities.PollStatusActive, state.Status)
	assert.Equal(t, 2, state.VotedUserCount)
	assert.Equal(t, 3, state.Quorum)
	assert.Equal(t, 3, state.RosterSize)
	assert.False(t, state.ConsensusReachedNow)
	assert.Equal(t, "X", state.LeadingOptionID)
	assert.True(t, state.ViewerIsParticipant)
	require.Len(t, state.ViewerVotes, 1)
	assert.Equal(t, "X", state.ViewerVotes[0].OptionID)
	require.Len(t, state.Options, 2)
	assert.Equal(t, []string{"bob"}, state.Options[0].VoterIDs)
	assert.Equal(t, []string{"alice"}, state.Options[1].VoterIDs)
	assert.False(t, state.Finalized)
}

func TestPollStateHidesVotersOfAnonymousPoll(t *testing.T) {
	_, uc := newStateFixture(t, entities.PollConfig{
		ConsensusType:      entities.ConsensusTypePercentage,
		ConsensusThreshold: 100,
		IsAnonymous:        true,
	}, entities.PollStatusActive)

	state, err := uc.GetPollState(context.Background(), PollStateQuery{PollID: "poll-1", ViewerID: "alice"})
	require.NoError(t, err)
	for _, option := range state.Options {
		assert.Nil(t, option.VoterIDs, option.Option.OptionID)
		assert.Equal(t, 1, option.Votes)
	}
	require.Len(t, state.ViewerVotes, 1)
	assert.Equal(t, "Y", state.ViewerVotes[0].OptionID)
}

func TestPollStateCountsMissingMandatory(t *testing.T) {
	_, uc := newStateFixture(t, entities.PollConfig{
		ConsensusType:       entities.ConsensusTypeMinimum,
		MinimumParticipants: 2,
		RequireMandatory:    true,
	}, entities.PollStatusActive)

	state, err := uc.GetPollState(context.Background(), PollStateQuery{PollID: "poll-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, state.MissingMandatory)
	assert.False(t, state.ConsensusReachedNow)
	assert.Empty(t, state.ViewerVotes)
}

func TestPollStateOfPausedPollHasNoLeader(t *testing.T) {
	_, uc := newStateFixture(t, entities.PollConfig{
		ConsensusType:       entities.ConsensusTypeMinimum,
		MinimumParticipants: 2,
	}, entities.PollStatusPaused)

	state, err := uc.GetPollState(context.Background(), PollStateQuery{PollID: "poll-1", ViewerID: "mallory"})
	require.NoError(t, err)
	assert.Equal(t, entities.PollStatusPaused, state.Status)
	assert.Empty(t, state.LeadingOptionID)
	assert.False(t, state.ConsensusReachedNow)
	assert.False(t, state.ViewerIsParticipant)
}

func TestPollStateErrors(t *testing.T) {
	_, uc := newStateFixture(t, entities.PollConfig{ConsensusThreshold: 50}, entities.PollStatusActive)

	_, err := uc.GetPollState(context.Background(), PollStateQuery{PollID: " "})
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
	_, err = uc.GetPollState(context.Background(), PollStateQuery{PollID: "poll-9"})
	assert.ErrorIs(t, err, domainerrors.ErrPollNotFound)
}

// gatedPolls blocks GetPoll until release is closed and then honours the
// caller's ctx the way a database driver would.
type gatedPolls struct {
	ports.PollRepository
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedPolls) GetPoll(ctx context.Context, pollID string) (entities.Poll, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return entities.Poll{}, err
	}
	return g.PollRepository.GetPoll(ctx, pollID)
}

func TestPollStateWaiterSurvivesCancelledLeader(t *testing.T) {
	store, uc := newStateFixture(t, entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 3}, entities.PollStatusActive)
	gate := &gatedPolls{PollRepository: store, started: make(chan struct{}), release: make(chan struct{})}
	uc.Polls = gate

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := uc.GetPollState(leaderCtx, PollStateQuery{PollID: "poll-1"})
		leaderErr <- err
	}()
	<-gate.started

	type outcome struct {
		state PollState
		err   error
	}
	waiter := make(chan outcome, 1)
	go func() {
		state, err := uc.GetPollState(context.Background(), PollStateQuery{PollID: "poll-1"})
		waiter <- outcome{state: state, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("leader did not return after cancel")
	}

	close(gate.release)
	select {
	case got := <-waiter:
		require.NoError(t, got.err)
		assert.Equal(t, "poll-1", got.state.PollID)
	case <-time.After(time.Second):
		t.Fatal("waiter did not return")
	}
	assert.Equal(t, int32(1), gate.calls.Load())
}
