package services

import (
	"testing"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func testPoll(config entities.PollConfig, optionIDs ...string) entities.Poll {
	options := make([]entities.Option, 0, len(optionIDs))
	for i, id := range optionIDs {
		options = append(options, entities.Option{
			OptionID:  id,
			Title:     "option " + id,
			Position:  i,
			CreatedAt: evalNow.Add(time.Duration(i) * time.Minute),
		})
	}
	return entities.Poll{
		PollID:    "poll-1",
		HangoutID: "hangout-1",
		CreatorID: "u1",
		Config:    config,
		Status:    entities.PollStatusActive,
		Options:   options,
	}
}

func testRoster(userIDs ...string) []entities.Participant {
	roster := make([]entities.Participant, 0, len(userIDs))
	for _, id := range userIDs {
		roster = append(roster, entities.Participant{HangoutID: "hangout-1", UserID: id})
	}
	return roster
}

func testSnapshot(pairs ...string) entities.VoteSnapshot {
	votes := make([]entities.Vote, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		votes = append(votes, entities.Vote{
			VoteID:    pairs[i] + "-" + pairs[i+1],
			PollID:    "poll-1",
			UserID:    pairs[i],
			OptionID:  pairs[i+1],
			CreatedAt: evalNow.Add(time.Duration(i) * time.Second),
		})
	}
	return entities.NewVoteSnapshot("poll-1", evalNow, votes)
}

func TestQuorum(t *testing.T) {
	cases := []struct {
		name   string
		config entities.PollConfig
		roster int
		want   int
	}{
		{"minimum", entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 2}, 3, 2},
		{"percentage rounds up", entities.PollConfig{ConsensusType: entities.ConsensusTypePercentage, ConsensusThreshold: 70}, 3, 3},
		{"percentage exact", entities.PollConfig{ConsensusType: entities.ConsensusTypePercentage, ConsensusThreshold: 50}, 4, 2},
		{"zero minimum clamps to one", entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum}, 3, 1},
		{"empty roster clamps to one", entities.PollConfig{ConsensusType: entities.ConsensusTypePercentage, ConsensusThreshold: 60}, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Quorum(tc.config, tc.roster))
		})
	}
}

func TestEvaluateMinimumReachedIgnoresNonVoters(t *testing.T) {
	poll := testPoll(entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 2}, "X", "Y")
	result := Evaluate(poll, testSnapshot("u1", "X", "u2", "X"), testRoster("u1", "u2", "u3"))

	require.True(t, result.Reached)
	assert.Equal(t, "X", result.WinningOptionID)
	assert.Equal(t, 2, result.VotedUserCount)
	assert.Equal(t, 2, result.Quorum)
	assert.Equal(t, 2, result.Tallies[0].Votes)
	assert.Equal(t, []string{"u1", "u2"}, result.Tallies[0].VoterIDs)
}

func TestEvaluatePercentageNeedsCeilQuorum(t *testing.T) {
	poll := testPoll(entities.PollConfig{ConsensusType: entities.ConsensusTypePercentage, ConsensusThreshold: 70}, "X", "Y")
	roster := testRoster("u1", "u2", "u3")

	partial := Evaluate(poll, testSnapshot("u1", "X", "u2", "X"), roster)
	assert.False(t, partial.Reached)
	assert.Equal(t, 3, partial.Quorum)
	assert.Empty(t, partial.WinningOptionID)

	full := Evaluate(poll, testSnapshot("u1", "X", "u2", "X", "u3", "X"), roster)
	require.True(t, full.Reached)
	assert.Equal(t, "X", full.WinningOptionID)
}

func TestEvaluateTieBreaksOnCreationOrder(t *testing.T) {
	poll := testPoll(entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 2}, "X", "Y")
	roster := testRoster("u1", "u2", "u3")

	result := Evaluate(poll, testSnapshot("u1", "Y", "u2", "X"), roster)
	require.True(t, result.Reached)
	assert.Equal(t, "X", result.WinningOptionID)

	// Declaration order of the options slice must not matter.
	poll.Options[0], poll.Options[1] = poll.Options[1], poll.Options[0]
	again := Evaluate(poll, testSnapshot("u1", "Y", "u2", "X"), roster)
	assert.Equal(t, "X", again.WinningOptionID)
}

func TestEvaluateIgnoresVotersOutsideRoster(t *testing.T) {
	poll := testPoll(entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 2}, "X", "Y")
	result := Evaluate(poll, testSnapshot("u1", "X", "outsider", "X"), testRoster("u1", "u2"))

	assert.False(t, result.Reached)
	assert.Equal(t, 1, result.VotedUserCount)
	assert.Equal(t, 1, result.Tallies[0].Votes)
}

func TestEvaluateAbstentionCountsTowardQuorumOnly(t *testing.T) {
	config := entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 2, AllowAbstention: true}
	poll := testPoll(config, "X", "Y")
	roster := testRoster("u1", "u2")

	onlyAbstain := Evaluate(poll, testSnapshot("u1", entities.AbstainOptionID, "u2", entities.AbstainOptionID), roster)
	assert.False(t, onlyAbstain.Reached)
	assert.Equal(t, 2, onlyAbstain.VotedUserCount)

	mixed := Evaluate(poll, testSnapshot("u1", entities.AbstainOptionID, "u2", "Y"), roster)
	require.True(t, mixed.Reached)
	assert.Equal(t, "Y", mixed.WinningOptionID)
	assert.Equal(t, 0, mixed.Tallies[0].Votes)
	assert.Equal(t, 1, mixed.Tallies[1].Votes)
}

func TestEvaluateRequireMandatory(t *testing.T) {
	config := entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 2, RequireMandatory: true}
	poll := testPoll(config, "X", "Y")
	roster := testRoster("u1", "u2", "u3")
	roster[2].IsMandatory = true

	missing := Evaluate(poll, testSnapshot("u1", "X", "u2", "X"), roster)
	assert.False(t, missing.Reached)
	assert.Equal(t, []string{"u3"}, missing.MissingMandatory)

	complete := Evaluate(poll, testSnapshot("u1", "X", "u2", "X", "u3", "Y"), roster)
	require.True(t, complete.Reached)
	assert.Equal(t, "X", complete.WinningOptionID)
	assert.Empty(t, complete.MissingMandatory)
}

func TestEvaluateEmptyLedgerNeverReaches(t *testing.T) {
	poll := testPoll(entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum}, "X", "Y")
	result := Evaluate(poll, testSnapshot(), testRoster("u1"))
	assert.False(t, result.Reached)
	assert.Equal(t, 1, result.Quorum)
}

func TestEvaluateSkipsVotesForArchivedOptions(t *testing.T) {
	poll := testPoll(entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 1}, "X")
	result := Evaluate(poll, testSnapshot("u1", "gone"), testRoster("u1"))
	assert.False(t, result.Reached)
	assert.Equal(t, 1, result.VotedUserCount)
}

func TestEvaluateMultiVoteCountsDistinctUsersPerOption(t *testing.T) {
	config := entities.PollConfig{ConsensusType: entities.ConsensusTypeMinimum, MinimumParticipants: 2, AllowMultiple: true}
	poll := testPoll(config, "X", "Y")
	result := Evaluate(poll, testSnapshot("u1", "X", "u1", "Y", "u2", "Y"), testRoster("u1", "u2"))

	require.True(t, result.Reached)
	assert.Equal(t, "Y", result.WinningOptionID)
	assert.Equal(t, 2, result.VotedUserCount)
	assert.Equal(t, 1, result.Tallies[0].Votes)
	assert.Equal(t, 2, result.Tallies[1].Votes)
}
