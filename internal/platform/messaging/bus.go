package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	contractsv1 "hangout/contracts/gen/events/v1"
)

// ErrSubscriberBusy is returned when a consumer group did not accept an event
// within the send timeout. Groups that did accept it may see it again when the
// caller retries.
var ErrSubscriberBusy = errors.New("subscriber busy")

const defaultSendTimeout = 2 * time.Second

type subscription struct {
	group string
	ch    chan contractsv1.Envelope
}

// Bus is the in-process event bus used by the outbox relay and consumers.
// Delivery is at least once: Publish waits up to the send timeout for each
// group and fails with ErrSubscriberBusy if any group stays full, so the
// outbox row is left pending and published again on the next relay cycle.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	buffer      int
	sendTimeout time.Duration
	logger      *slog.Logger
}

func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]subscription),
		buffer:      buffer,
		sendTimeout: defaultSendTimeout,
		logger:      logger,
	}
}

// SetSendTimeout bounds how long Publish waits on a full subscriber buffer.
func (b *Bus) SetSendTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	b.mu.Lock()
	b.sendTimeout = timeout
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, topic string, event contractsv1.Envelope) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[topic]...)
	timeout := b.sendTimeout
	b.mu.RUnlock()

	var busy []string
	for _, sub := range subs {
		delivered, err := b.send(ctx, sub, event, timeout)
		if err != nil {
			return err
		}
		if !delivered {
			b.logger.Warn("subscriber buffer full",
				"event", "bus_publish_busy",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"consumer_group", sub.group,
				"event_id", event.EventID,
			)
			busy = append(busy, sub.group)
		}
	}
	if len(busy) > 0 {
		return fmt.Errorf("%w: topic %s groups %v", ErrSubscriberBusy, topic, busy)
	}

	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"subscribers", len(subs),
	)
	return nil
}

func (b *Bus) send(
	ctx context.Context,
	sub subscription,
	event contractsv1.Envelope,
	timeout time.Duration,
) (bool, error) {
	select {
	case sub.ch <- event:
		return true, nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case sub.ch <- event:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (b *Bus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, contractsv1.Envelope) error,
) error {
	sub := subscription{group: consumerGroup, ch: make(chan contractsv1.Envelope, b.buffer)}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(topic, sub.ch)
				return
			case event := <-sub.ch:
				if err := handler(ctx, event); err != nil {
					b.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

func (b *Bus) removeSubscriber(topic string, target chan contractsv1.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[topic]
	if len(items) == 0 {
		return
	}
	filtered := make([]subscription, 0, len(items))
	for _, item := range items {
		if item.ch != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[topic] = filtered
}
