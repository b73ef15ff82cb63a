package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

// Store is the in-process implementation of every engine port. A single mutex
// makes each call atomic, which gives the same guarantees the database
// adapter gets from row locks and conditional updates.
type Store struct {
	mu sync.RWMutex

	polls        map[string]entities.Poll
	votes        map[string]map[string]map[string]entities.Vote
	participants map[string][]entities.Participant
	rsvps        map[string]map[string]entities.RSVP
	idempotency  map[string]ports.IdempotencyRecord
	outbox       map[string]outboxRecord

	now            func() time.Time
	rsvpFailures   int
	rsvpFailureErr error
}

func NewStore(seed []entities.Poll) *Store {
	store := &Store{
		polls:        make(map[string]entities.Poll, len(seed)),
		votes:        make(map[string]map[string]map[string]entities.Vote),
		participants: make(map[string][]entities.Participant),
		rsvps:        make(map[string]map[string]entities.RSVP),
		idempotency:  make(map[string]ports.IdempotencyRecord),
		outbox:       make(map[string]outboxRecord),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, poll := range seed {
		store.polls[strings.TrimSpace(poll.PollID)] = clonePoll(poll)
	}
	return store
}

// SetNow replaces the store clock.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s.now = now
}

func (s *Store) SetParticipants(hangoutID string, participants []entities.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hangoutID = strings.TrimSpace(hangoutID)
	items := make([]entities.Participant, 0, len(participants))
	for _, participant := range participants {
		items = append(items, entities.Participant{
			HangoutID:   hangoutID,
			UserID:      strings.TrimSpace(participant.UserID),
			IsMandatory: participant.IsMandatory,
		})
	}
	s.participants[hangoutID] = items
}

// FailRSVPInserts makes the next n RSVP inserts fail with err.
func (s *Store) FailRSVPInserts(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rsvpFailures = n
	s.rsvpFailureErr = err
}

func (s *Store) CreatePoll(_ context.Context, poll entities.Poll, event *ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID := strings.TrimSpace(poll.PollID)
	if _, exists := s.polls[pollID]; exists {
		return domainerrors.ErrConflict
	}
	for _, existing := range s.polls {
		if existing.HangoutID == strings.TrimSpace(poll.HangoutID) {
			return domainerrors.ErrConflict
		}
	}
	if event != nil {
		if err := s.appendOutboxLocked(*event); err != nil {
			return err
		}
	}
	s.polls[pollID] = clonePoll(poll)
	return nil
}

func (s *Store) GetPoll(_ context.Context, pollID string) (entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	poll, ok := s.polls[strings.TrimSpace(pollID)]
	if !ok {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	return clonePoll(poll), nil
}

func (s *Store) GetPollByHangout(_ context.Context, hangoutID string) (entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hangoutID = strings.TrimSpace(hangoutID)
	for _, poll := range s.polls {
		if poll.HangoutID == hangoutID {
			return clonePoll(poll), nil
		}
	}
	return entities.Poll{}, domainerrors.ErrPollNotFound
}

func (s *Store) TransitionStatus(_ context.Context, transition ports.StatusTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID := strings.TrimSpace(transition.PollID)
	poll, ok := s.polls[pollID]
	if !ok {
		return false, domainerrors.ErrPollNotFound
	}
	if !statusIn(poll.Status, transition.From) {
		return false, nil
	}
	if transition.Event != nil {
		if err := s.appendOutboxLocked(*transition.Event); err != nil {
			return false, err
		}
	}
	poll.Status = transition.To
	poll.UpdatedAt = transition.At.UTC()
	s.polls[pollID] = poll
	return true, nil
}

func (s *Store) AppendOption(_ context.Context, request ports.OptionAppend) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID := strings.TrimSpace(request.PollID)
	poll, ok := s.polls[pollID]
	if !ok {
		return false, domainerrors.ErrPollNotFound
	}
	if !statusIn(poll.Status, request.From) {
		return false, nil
	}
	if _, exists := poll.FindOption(request.Option.OptionID); exists {
		return false, domainerrors.ErrConflict
	}
	if request.Event != nil {
		if err := s.appendOutboxLocked(*request.Event); err != nil {
			return false, err
		}
	}
	option := request.Option
	option.Position = poll.NextOptionPosition()
	poll.Options = append(poll.Options, option)
	poll.UpdatedAt = request.At.UTC()
	s.polls[pollID] = poll
	return true, nil
}

func (s *Store) FinalizePoll(_ context.Context, request ports.FinalizeRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID := strings.TrimSpace(request.PollID)
	poll, ok := s.polls[pollID]
	if !ok {
		return false, domainerrors.ErrPollNotFound
	}
	if poll.Status != entities.PollStatusActive {
		return false, nil
	}
	winner, found := poll.FindOption(request.WinnerID)
	if !found {
		return false, domainerrors.ErrOptionNotFound
	}
	if request.Event != nil {
		if err := s.appendOutboxLocked(*request.Event); err != nil {
			return false, err
		}
	}
	for _, option := range poll.Options {
		if option.OptionID != winner.OptionID {
			poll.ArchivedOptions = append(poll.ArchivedOptions, option)
		}
	}
	finalizedAt := request.FinalizedAt.UTC()
	poll.Options = []entities.Option{winner}
	poll.Status = entities.PollStatusConsensusReached
	poll.WinningOptionID = winner.OptionID
	poll.FinalizedAt = &finalizedAt
	poll.UpdatedAt = finalizedAt
	s.polls[pollID] = poll
	return true, nil
}

func (s *Store) ListPollsByStatus(
	_ context.Context,
	statuses []entities.PollStatus,
	after ports.PageKey,
	limit int,
) ([]entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Poll, 0)
	for _, poll := range s.polls {
		if !statusIn(poll.Status, statuses) || !afterKey(poll.CreatedAt, poll.PollID, after) {
			continue
		}
		items = append(items, clonePoll(poll))
	}
	sortPollsByCreation(items)
	return limitPolls(items, limit), nil
}

func (s *Store) ListFinalizedSince(
	_ context.Context,
	since time.Time,
	after ports.PageKey,
	limit int,
) ([]entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Poll, 0)
	for _, poll := range s.polls {
		if poll.Status != entities.PollStatusConsensusReached || poll.FinalizedAt == nil {
			continue
		}
		if poll.FinalizedAt.Before(since.UTC()) || !afterKey(*poll.FinalizedAt, poll.PollID, after) {
			continue
		}
		items = append(items, clonePoll(poll))
	}
	sort.Slice(items, func(i, j int) bool {
		left, right := *items[i].FinalizedAt, *items[j].FinalizedAt
		if left.Equal(right) {
			return items[i].PollID < items[j].PollID
		}
		return left.Before(right)
	})
	return limitPolls(items, limit), nil
}

func (s *Store) Toggle(_ context.Context, mutation ports.VoteMutation) (ports.VoteMutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, err := s.userVotesLocked(mutation)
	if err != nil {
		return ports.VoteMutationResult{}, err
	}
	optionID := strings.TrimSpace(mutation.OptionID)
	if existing, ok := held[optionID]; ok {
		delete(held, optionID)
		return ports.VoteMutationResult{Vote: existing, Active: false, Changed: true}, nil
	}
	if conflictsWithHeld(held, optionID, mutation.AllowMultiple) {
		return ports.VoteMutationResult{}, domainerrors.ErrMultipleVotesDisallowed
	}
	vote := newVote(mutation)
	held[optionID] = vote
	return ports.VoteMutationResult{Vote: vote, Active: true, Changed: true}, nil
}

func (s *Store) Add(_ context.Context, mutation ports.VoteMutation) (ports.VoteMutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, err := s.userVotesLocked(mutation)
	if err != nil {
		return ports.VoteMutationResult{}, err
	}
	optionID := strings.TrimSpace(mutation.OptionID)
	if existing, ok := held[optionID]; ok {
		return ports.VoteMutationResult{Vote: existing, Active: true}, nil
	}
	if conflictsWithHeld(held, optionID, mutation.AllowMultiple) {
		return ports.VoteMutationResult{}, domainerrors.ErrMultipleVotesDisallowed
	}
	vote := newVote(mutation)
	held[optionID] = vote
	return ports.VoteMutationResult{Vote: vote, Active: true, Changed: true}, nil
}

func (s *Store) Withdraw(_ context.Context, mutation ports.VoteMutation) (ports.VoteMutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, err := s.userVotesLocked(mutation)
	if err != nil {
		return ports.VoteMutationResult{}, err
	}
	optionID := strings.TrimSpace(mutation.OptionID)
	existing, ok := held[optionID]
	if !ok {
		return ports.VoteMutationResult{}, nil
	}
	delete(held, optionID)
	return ports.VoteMutationResult{Vote: existing, Changed: true}, nil
}

func (s *Store) MarkPreferred(_ context.Context, mutation ports.VoteMutation) (ports.VoteMutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, err := s.userVotesLocked(mutation)
	if err != nil {
		return ports.VoteMutationResult{}, err
	}
	optionID := strings.TrimSpace(mutation.OptionID)
	result := ports.VoteMutationResult{Active: true}
	vote, ok := held[optionID]
	if !ok {
		if conflictsWithHeld(held, optionID, mutation.AllowMultiple) {
			return ports.VoteMutationResult{}, domainerrors.ErrMultipleVotesDisallowed
		}
		vote = newVote(mutation)
		result.ImplicitlyCreated = true
		result.Changed = true
	}
	now := mutation.At.UTC()
	for heldOptionID, other := range held {
		if heldOptionID == optionID || !other.Preferred {
			continue
		}
		other.Preferred = false
		other.UpdatedAt = now
		held[heldOptionID] = other
		result.Changed = true
	}
	if !vote.Preferred {
		vote.Preferred = true
		vote.UpdatedAt = now
		result.Changed = true
	}
	held[optionID] = vote
	result.Vote = vote
	return result, nil
}

func (s *Store) Snapshot(_ context.Context, pollID string) (entities.VoteSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pollID = strings.TrimSpace(pollID)
	if _, ok := s.polls[pollID]; !ok {
		return entities.VoteSnapshot{}, domainerrors.ErrPollNotFound
	}
	items := make([]entities.Vote, 0)
	for _, held := range s.votes[pollID] {
		for _, vote := range held {
			items = append(items, vote)
		}
	}
	return entities.NewVoteSnapshot(pollID, s.now(), items), nil
}

func (s *Store) ListParticipants(_ context.Context, hangoutID string) ([]entities.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.participants[strings.TrimSpace(hangoutID)]
	return append([]entities.Participant(nil), items...), nil
}

func (s *Store) InsertMissingRSVPs(_ context.Context, rsvps []entities.RSVP) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rsvpFailures > 0 {
		s.rsvpFailures--
		return 0, s.rsvpFailureErr
	}
	created := 0
	for _, rsvp := range rsvps {
		hangoutID := strings.TrimSpace(rsvp.HangoutID)
		userID := strings.TrimSpace(rsvp.UserID)
		byUser, ok := s.rsvps[hangoutID]
		if !ok {
			byUser = make(map[string]entities.RSVP)
			s.rsvps[hangoutID] = byUser
		}
		if _, exists := byUser[userID]; exists {
			continue
		}
		rsvp.HangoutID = hangoutID
		rsvp.UserID = userID
		byUser[userID] = rsvp
		created++
	}
	return created, nil
}

func (s *Store) ListRSVPs(_ context.Context, hangoutID string) ([]entities.RSVP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byUser := s.rsvps[strings.TrimSpace(hangoutID)]
	items := make([]entities.RSVP, 0, len(byUser))
	for _, rsvp := range byUser {
		items = append(items, rsvp)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UserID < items[j].UserID
	})
	return items, nil
}

func (s *Store) Get(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, exists := s.idempotency[key]
	if !exists {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.After(now.UTC()) {
		delete(s.idempotency, key)
		return ports.IdempotencyRecord{}, false, nil
	}
	record.Response = append([]byte(nil), record.Response...)
	return record, true, nil
}

func (s *Store) Put(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	if existing, exists := s.idempotency[key]; exists {
		if existing.RequestHash != strings.TrimSpace(record.RequestHash) {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	s.idempotency[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: strings.TrimSpace(record.RequestHash),
		Response:    append([]byte(nil), record.Response...),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendOutboxLocked(envelope)
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].OutboxID < items[j].OutboxID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

// OutboxEvents returns every appended envelope of the given type, published
// or not, in creation order.
func (s *Store) OutboxEvents(eventType string) []ports.EventEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]ports.OutboxMessage, 0)
	for _, row := range s.outbox {
		if eventType == "" || row.message.EventType == eventType {
			rows = append(rows, row.message)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	items := make([]ports.EventEnvelope, 0, len(rows))
	for _, row := range rows {
		var envelope ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &envelope); err == nil {
			items = append(items, envelope)
		}
	}
	return items
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) appendOutboxLocked(envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

// userVotesLocked re-checks the poll status under the write lock and returns
// the user's votes keyed by option id.
func (s *Store) userVotesLocked(mutation ports.VoteMutation) (map[string]entities.Vote, error) {
	pollID := strings.TrimSpace(mutation.PollID)
	poll, ok := s.polls[pollID]
	if !ok {
		return nil, domainerrors.ErrPollNotFound
	}
	if poll.Status != entities.PollStatusActive {
		return nil, domainerrors.ErrPollNotActive
	}
	byUser, ok := s.votes[pollID]
	if !ok {
		byUser = make(map[string]map[string]entities.Vote)
		s.votes[pollID] = byUser
	}
	userID := strings.TrimSpace(mutation.UserID)
	held, ok := byUser[userID]
	if !ok {
		held = make(map[string]entities.Vote)
		byUser[userID] = held
	}
	return held, nil
}

// conflictsWithHeld applies the single-vote rule. An abstention never shares
// a user's ballot with another option.
func conflictsWithHeld(held map[string]entities.Vote, optionID string, allowMultiple bool) bool {
	for heldOptionID := range held {
		if heldOptionID == optionID {
			continue
		}
		if !allowMultiple ||
			heldOptionID == entities.AbstainOptionID ||
			optionID == entities.AbstainOptionID {
			return true
		}
	}
	return false
}

func newVote(mutation ports.VoteMutation) entities.Vote {
	voteID := strings.TrimSpace(mutation.VoteID)
	if voteID == "" {
		voteID = uuid.NewString()
	}
	at := mutation.At.UTC()
	return entities.Vote{
		VoteID:    voteID,
		PollID:    strings.TrimSpace(mutation.PollID),
		UserID:    strings.TrimSpace(mutation.UserID),
		OptionID:  strings.TrimSpace(mutation.OptionID),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func statusIn(status entities.PollStatus, candidates []entities.PollStatus) bool {
	for _, candidate := range candidates {
		if candidate == status {
			return true
		}
	}
	return false
}

func clonePoll(poll entities.Poll) entities.Poll {
	poll.Options = append([]entities.Option(nil), poll.Options...)
	poll.ArchivedOptions = append([]entities.Option(nil), poll.ArchivedOptions...)
	if poll.FinalizedAt != nil {
		finalizedAt := poll.FinalizedAt.UTC()
		poll.FinalizedAt = &finalizedAt
	}
	if poll.Config.ExpiresAt != nil {
		expiresAt := poll.Config.ExpiresAt.UTC()
		poll.Config.ExpiresAt = &expiresAt
	}
	return poll
}

func sortPollsByCreation(items []entities.Poll) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].PollID < items[j].PollID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func afterKey(at time.Time, pollID string, key ports.PageKey) bool {
	if key.IsZero() {
		return true
	}
	if at.Equal(key.At) {
		return pollID > key.PollID
	}
	return at.After(key.At)
}

func limitPolls(items []entities.Poll, limit int) []entities.Poll {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var _ ports.PollRepository = (*Store)(nil)
var _ ports.VoteLedger = (*Store)(nil)
var _ ports.RosterReader = (*Store)(nil)
var _ ports.RSVPRepository = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
