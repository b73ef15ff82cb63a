package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	"hangout/contexts/hangout-planning/consensus-engine/ports"
	contractsv1 "hangout/contracts/gen/events/v1"
)

const (
	sourceService = "consensus-engine"

	EventPollCreated      = "poll.created"
	EventPollActivated    = "poll.activated"
	EventPollPaused       = "poll.paused"
	EventPollResumed      = "poll.resumed"
	EventPollCancelled    = "poll.cancelled"
	EventPollClosed       = "poll.closed"
	EventPollExpired      = "poll.expired"
	EventPollOptionAdded  = "poll.option_added"
	EventHangoutConfirmed = "hangout.confirmed"
)

// newPollEnvelope builds the outbox envelope for a poll event. Events are
// partitioned by hangout so consumers see one hangout's history in order.
func newPollEnvelope(
	ctx context.Context,
	idGen ports.IDGenerator,
	eventType string,
	poll entities.Poll,
	occurredAt time.Time,
	data map[string]any,
) (*ports.EventEnvelope, error) {
	eventID, err := idGen.NewID(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	data["poll_id"] = poll.PollID
	data["hangout_id"] = poll.HangoutID
	envelope, err := contractsv1.NewEnvelope(
		eventID,
		eventType,
		sourceService,
		"hangout_id",
		poll.HangoutID,
		occurredAt,
		data,
	)
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func hashPayload(payload map[string]any) string {
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
