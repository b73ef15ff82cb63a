package ports

import (
	"context"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	contractsv1 "hangout/contracts/gen/events/v1"
)

type EventEnvelope = contractsv1.Envelope

// StatusTransition is a compare-and-swap on the poll status: it applies only
// while the stored status is one of From. Event, when set, is appended to the
// outbox in the same write.
type StatusTransition struct {
	PollID string
	From   []entities.PollStatus
	To     entities.PollStatus
	At     time.Time
	Event  *EventEnvelope
}

type OptionAppend struct {
	PollID string
	Option entities.Option
	From   []entities.PollStatus
	At     time.Time
	Event  *EventEnvelope
}

// FinalizeRequest narrows the live options to the winner. It applies only
// while the poll is active.
type FinalizeRequest struct {
	PollID      string
	WinnerID    string
	FinalizedAt time.Time
	Event       *EventEnvelope
}

// PageKey resumes a keyset scan strictly after (At, PollID). The zero value
// starts from the first row. At is created_at for status scans and
// finalized_at for finalized scans.
type PageKey struct {
	At     time.Time
	PollID string
}

func (k PageKey) IsZero() bool {
	return k.PollID == ""
}

type PollRepository interface {
	CreatePoll(ctx context.Context, poll entities.Poll, event *EventEnvelope) error
	GetPoll(ctx context.Context, pollID string) (entities.Poll, error)
	GetPollByHangout(ctx context.Context, hangoutID string) (entities.Poll, error)
	TransitionStatus(ctx context.Context, transition StatusTransition) (bool, error)
	AppendOption(ctx context.Context, request OptionAppend) (bool, error)
	FinalizePoll(ctx context.Context, request FinalizeRequest) (bool, error)
	ListPollsByStatus(ctx context.Context, statuses []entities.PollStatus, after PageKey, limit int) ([]entities.Poll, error)
	ListFinalizedSince(ctx context.Context, since time.Time, after PageKey, limit int) ([]entities.Poll, error)
}

type VoteMutation struct {
	PollID        string
	UserID        string
	OptionID      string
	AllowMultiple bool
	VoteID        string
	At            time.Time
}

// VoteMutationResult describes the (poll, user, option) triple after a ledger
// call. Active reports whether the vote row exists afterwards.
type VoteMutationResult struct {
	Vote              entities.Vote
	Active            bool
	Changed           bool
	ImplicitlyCreated bool
}

// VoteLedger mutations fail with ErrPollNotActive unless the poll is active at
// the moment of the write.
type VoteLedger interface {
	Toggle(ctx context.Context, mutation VoteMutation) (VoteMutationResult, error)
	Add(ctx context.Context, mutation VoteMutation) (VoteMutationResult, error)
	Withdraw(ctx context.Context, mutation VoteMutation) (VoteMutationResult, error)
	MarkPreferred(ctx context.Context, mutation VoteMutation) (VoteMutationResult, error)
	Snapshot(ctx context.Context, pollID string) (entities.VoteSnapshot, error)
}

type RosterReader interface {
	ListParticipants(ctx context.Context, hangoutID string) ([]entities.Participant, error)
}

type RSVPRepository interface {
	// InsertMissingRSVPs inserts each row unless (hangout_id, user_id) already
	// exists and returns how many rows were created.
	InsertMissingRSVPs(ctx context.Context, rsvps []entities.RSVP) (int, error)
	ListRSVPs(ctx context.Context, hangoutID string) ([]entities.RSVP, error)
}

type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Response    []byte
	ExpiresAt   time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// Metrics receives engine counters. A nil Metrics is valid everywhere.
type Metrics interface {
	VoteRecorded(mode string, outcome string)
	FinalizationAttempted(outcome string)
	RSVPsMaterialized(created int)
	RSVPMaterializationFailed()
	EvaluationObserved(duration time.Duration, reached bool)
}
