package services

import (
	"testing"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(entities.PollStatusDraft, entities.PollStatusActive))
	assert.True(t, CanTransition(entities.PollStatusActive, entities.PollStatusPaused))
	assert.True(t, CanTransition(entities.PollStatusPaused, entities.PollStatusActive))
	assert.True(t, CanTransition(entities.PollStatusActive, entities.PollStatusConsensusReached))
	assert.False(t, CanTransition(entities.PollStatusPaused, entities.PollStatusConsensusReached))
	assert.False(t, CanTransition(entities.PollStatusDraft, entities.PollStatusExpired))

	for _, terminal := range []entities.PollStatus{
		entities.PollStatusConsensusReached,
		entities.PollStatusExpired,
		entities.PollStatusCancelled,
		entities.PollStatusClosed,
	} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range []entities.PollStatus{entities.PollStatusActive, entities.PollStatusDraft, entities.PollStatusCancelled} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestSourcesFor(t *testing.T) {
	assert.Equal(t, []entities.PollStatus{entities.PollStatusActive}, SourcesFor(entities.PollStatusConsensusReached))
	assert.Equal(t, []entities.PollStatus{entities.PollStatusActive, entities.PollStatusPaused}, SourcesFor(entities.PollStatusExpired))
	assert.Equal(t, []entities.PollStatus{
		entities.PollStatusDraft,
		entities.PollStatusActive,
		entities.PollStatusPaused,
	}, SourcesFor(entities.PollStatusCancelled))
}

func TestCanAddOption(t *testing.T) {
	poll := entities.Poll{Status: entities.PollStatusDraft}
	assert.True(t, CanAddOption(poll))

	poll.Status = entities.PollStatusActive
	assert.False(t, CanAddOption(poll))
	poll.Config.AllowAddOptions = true
	assert.True(t, CanAddOption(poll))

	poll.Status = entities.PollStatusConsensusReached
	assert.False(t, CanAddOption(poll))
}
