package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	consensusengine "hangout/contexts/hangout-planning/consensus-engine"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryRunner(t *testing.T) moduleRunner {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	module := consensusengine.NewInMemoryModule([]entities.Poll{{
		PollID:    "poll-1",
		HangoutID: "hangout-1",
		CreatorID: "alice",
		Status:    entities.PollStatusActive,
		Config: entities.PollConfig{
			ConsensusType:      entities.ConsensusTypePercentage,
			ConsensusThreshold: 50,
		},
		Options: []entities.Option{
			{OptionID: "opt-a", Title: "Bowling", Position: 0, CreatedAt: now},
			{OptionID: "opt-b", Title: "Karaoke", Position: 1, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}}, nil)
	module.Store.SetNow(func() time.Time { return now })
	module.Store.SetParticipants("hangout-1", []entities.Participant{{UserID: "alice"}, {UserID: "bob"}})
	return func(_ context.Context, fn func(consensusengine.Module) error) error {
		return fn(module)
	}
}

func execute(t *testing.T, run moduleRunner, migrate func(context.Context) error, args ...string) (string, error) {
	t.Helper()
	root := newRootCommandWith(run, migrate)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	called := false
	out, err := execute(t, memoryRunner(t), func(context.Context) error {
		called = true
		return nil
	}, "migrate")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Contains(t, out, "schema up to date")

	_, err = execute(t, memoryRunner(t), func(context.Context) error {
		return errors.New("connection refused")
	}, "migrate")
	assert.EqualError(t, err, "connection refused")
}

func TestSweepCommandPrintsReport(t *testing.T) {
	out, err := execute(t, memoryRunner(t), nil, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "scanned=1")
	assert.Contains(t, out, "failed=0")
}

func TestRepairCommandForSinglePoll(t *testing.T) {
	out, err := execute(t, memoryRunner(t), nil, "repair-rsvps", "--poll-id", "poll-1")
	require.NoError(t, err)
	assert.Contains(t, out, "rsvps_created=0")
}

func TestPollStateCommand(t *testing.T) {
	out, err := execute(t, memoryRunner(t), nil, "poll-state", "--poll-id", "poll-1", "--viewer", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, `"poll_id": "poll-1"`)

	_, err = execute(t, memoryRunner(t), nil, "poll-state")
	assert.Error(t, err)
}
