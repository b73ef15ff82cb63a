package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	application "hangout/contexts/hangout-planning/consensus-engine/application"
	"hangout/contexts/hangout-planning/consensus-engine/application/commands"
	"hangout/contexts/hangout-planning/consensus-engine/ports"
)

const (
	hangoutDeletedTopic  = "hangout.deleted"
	defaultHangoutCG     = "consensus-engine-hangout-cg"
	hangoutDeletedReason = "hangout_deleted"
)

// HangoutEventConsumer cancels the poll of a hangout that was deleted
// upstream.
type HangoutEventConsumer struct {
	Subscriber    ports.EventSubscriber
	Lifecycle     commands.LifecycleUseCase
	ConsumerGroup string
	Disabled      bool
	Logger        *slog.Logger
}

func (c HangoutEventConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("hangout event consumer disabled by feature flag",
			"event", "consensus_hangout_consumer_disabled",
			"module", "hangout-planning/consensus-engine",
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultHangoutCG
	}
	if err := c.Subscriber.Subscribe(ctx, hangoutDeletedTopic, group, c.handleHangoutDeleted); err != nil {
		logger.Error("hangout consumer subscribe failed",
			"event", "consensus_hangout_consumer_subscribe_failed",
			"module", "hangout-planning/consensus-engine",
			"layer", "worker",
			"topic", hangoutDeletedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("hangout consumer subscriptions active",
		"event", "consensus_hangout_consumer_started",
		"module", "hangout-planning/consensus-engine",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c HangoutEventConsumer) handleHangoutDeleted(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	var payload struct {
		HangoutID string `json:"hangout_id"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("hangout.deleted payload decode failed",
			"event", "consensus_hangout_deleted_decode_failed",
			"module", "hangout-planning/consensus-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	hangoutID := strings.TrimSpace(payload.HangoutID)
	if hangoutID == "" {
		hangoutID = strings.TrimSpace(event.PartitionKey)
	}
	_, err := c.Lifecycle.CancelForHangout(ctx, hangoutID, hangoutDeletedReason)
	return err
}
