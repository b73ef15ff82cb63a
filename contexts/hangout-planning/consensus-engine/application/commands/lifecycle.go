package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "hangout/contexts/hangout-planning/consensus-engine/application"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/domain/services"
	"hangout/contexts/hangout-planning/consensus-engine/ports"
)

type OptionInput struct {
	Title       string
	Description string
	StartsAt    *time.Time
	EndsAt      *time.Time
	Location    string
	PriceCents  *int64
	Currency    string
}

type CreatePollCommand struct {
	HangoutID string
	CreatorID string
	Config    entities.PollConfig
	Options   []OptionInput
	// Publish activates the poll right away. It needs at least two options.
	Publish bool
}

type AddOptionCommand struct {
	PollID string
	UserID string
	Option OptionInput
}

// TransitionCommand moves a poll along its lifecycle on behalf of ActorID.
type TransitionCommand struct {
	PollID  string
	ActorID string
}

// LifecycleUseCase owns every poll status change except finalization.
type LifecycleUseCase struct {
	Polls  ports.PollRepository
	Roster ports.RosterReader
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func (uc LifecycleUseCase) CreatePoll(ctx context.Context, cmd CreatePollCommand) (entities.Poll, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()
	hangoutID := strings.TrimSpace(cmd.HangoutID)
	creatorID := strings.TrimSpace(cmd.CreatorID)
	if hangoutID == "" || creatorID == "" {
		return entities.Poll{}, domainerrors.ErrInvalidInput
	}
	config, err := normalizeConfig(cmd.Config, now)
	if err != nil {
		logger.Warn("poll create validation failed",
			"event", "consensus_poll_create_validation_failed",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"hangout_id", hangoutID,
			"error", err.Error(),
		)
		return entities.Poll{}, err
	}

	pollID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Poll{}, err
	}
	poll := entities.Poll{
		PollID:    pollID,
		HangoutID: hangoutID,
		CreatorID: creatorID,
		Config:    config,
		Status:    entities.PollStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, input := range cmd.Options {
		option, err := uc.newOption(ctx, input, creatorID, i, now)
		if err != nil {
			return entities.Poll{}, err
		}
		poll.Options = append(poll.Options, option)
	}
	if cmd.Publish {
		if len(poll.Options) < 2 {
			return entities.Poll{}, domainerrors.ErrNotEnoughOptions
		}
		poll.Status = entities.PollStatusActive
	}

	event, err := newPollEnvelope(ctx, uc.IDGen, EventPollCreated, poll, now, map[string]any{
		"creator_id":   creatorID,
		"status":       string(poll.Status),
		"option_count": len(poll.Options),
	})
	if err != nil {
		return entities.Poll{}, err
	}
	if err := uc.Polls.CreatePoll(ctx, poll, event); err != nil {
		logger.Error("poll create failed",
			"event", "consensus_poll_create_failed",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"hangout_id", hangoutID,
			"error", err.Error(),
		)
		return entities.Poll{}, err
	}
	logger.Info("poll created",
		"event", "consensus_poll_created",
		"module", "hangout-planning/consensus-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"hangout_id", poll.HangoutID,
		"status", string(poll.Status),
		"option_count", len(poll.Options),
	)
	return poll, nil
}

// AddOption appends an option in draft, or in active when the poll allows it.
// The creator and roster members may add options.
func (uc LifecycleUseCase) AddOption(ctx context.Context, cmd AddOptionCommand) (entities.Poll, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()
	userID := strings.TrimSpace(cmd.UserID)
	if strings.TrimSpace(cmd.PollID) == "" || userID == "" {
		return entities.Poll{}, domainerrors.ErrInvalidInput
	}
	poll, err := uc.Polls.GetPoll(ctx, cmd.PollID)
	if err != nil {
		return entities.Poll{}, err
	}
	if expired, _, err := expireIfOverdue(ctx, uc.Polls, uc.IDGen, logger, poll, now, "add_option"); err != nil {
		return entities.Poll{}, err
	} else if expired {
		return entities.Poll{}, domainerrors.ErrOptionsLocked
	}
	if poll.CreatorID != userID {
		member, err := uc.isParticipant(ctx, poll.HangoutID, userID)
		if err != nil {
			return entities.Poll{}, err
		}
		if !member {
			return entities.Poll{}, domainerrors.ErrUnauthorized
		}
	}
	if !services.CanAddOption(poll) {
		return entities.Poll{}, domainerrors.ErrOptionsLocked
	}

	option, err := uc.newOption(ctx, cmd.Option, userID, poll.NextOptionPosition(), now)
	if err != nil {
		return entities.Poll{}, err
	}
	event, err := newPollEnvelope(ctx, uc.IDGen, EventPollOptionAdded, poll, now, map[string]any{
		"option":   option,
		"added_by": userID,
	})
	if err != nil {
		return entities.Poll{}, err
	}
	applied, err := uc.Polls.AppendOption(ctx, ports.OptionAppend{
		PollID: poll.PollID,
		Option: option,
		From:   []entities.PollStatus{poll.Status},
		At:     now,
		Event:  event,
	})
	if err != nil {
		return entities.Poll{}, err
	}
	if !applied {
		return entities.Poll{}, domainerrors.ErrOptionsLocked
	}
	logger.Info("poll option added",
		"event", "consensus_poll_option_added",
		"module", "hangout-planning/consensus-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"option_id", option.OptionID,
		"user_id", userID,
	)
	return uc.Polls.GetPoll(ctx, poll.PollID)
}

func (uc LifecycleUseCase) Activate(ctx context.Context, cmd TransitionCommand) (entities.Poll, error) {
	return uc.transition(ctx, cmd, entities.PollStatusDraft, entities.PollStatusActive, EventPollActivated)
}

func (uc LifecycleUseCase) Pause(ctx context.Context, cmd TransitionCommand) (entities.Poll, error) {
	return uc.transition(ctx, cmd, entities.PollStatusActive, entities.PollStatusPaused, EventPollPaused)
}

func (uc LifecycleUseCase) Resume(ctx context.Context, cmd TransitionCommand) (entities.Poll, error) {
	return uc.transition(ctx, cmd, entities.PollStatusPaused, entities.PollStatusActive, EventPollResumed)
}

func (uc LifecycleUseCase) Cancel(ctx context.Context, cmd TransitionCommand) (entities.Poll, error) {
	return uc.transition(ctx, cmd, "", entities.PollStatusCancelled, EventPollCancelled)
}

// Close ends voting without a winner.
func (uc LifecycleUseCase) Close(ctx context.Context, cmd TransitionCommand) (entities.Poll, error) {
	return uc.transition(ctx, cmd, "", entities.PollStatusClosed, EventPollClosed)
}

// Expire moves an overdue active or paused poll to expired. It reports
// whether this call applied the transition.
func (uc LifecycleUseCase) Expire(ctx context.Context, pollID string) (bool, error) {
	logger := application.ResolveLogger(uc.Logger)
	poll, err := uc.Polls.GetPoll(ctx, pollID)
	if err != nil {
		return false, err
	}
	_, applied, err := expireIfOverdue(ctx, uc.Polls, uc.IDGen, logger, poll, uc.now(), "sweep")
	return applied, err
}

// CancelForHangout cancels the hangout's poll without an actor check. It is
// used when the hangout itself goes away.
func (uc LifecycleUseCase) CancelForHangout(ctx context.Context, hangoutID string, reason string) (bool, error) {
	logger := application.ResolveLogger(uc.Logger)
	poll, err := uc.Polls.GetPollByHangout(ctx, hangoutID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrPollNotFound) {
			return false, nil
		}
		return false, err
	}
	if poll.Status.IsTerminal() {
		return false, nil
	}
	now := uc.now()
	event, err := newPollEnvelope(ctx, uc.IDGen, EventPollCancelled, poll, now, map[string]any{
		"from_status": string(poll.Status),
		"reason":      strings.TrimSpace(reason),
	})
	if err != nil {
		return false, err
	}
	applied, err := uc.Polls.TransitionStatus(ctx, ports.StatusTransition{
		PollID: poll.PollID,
		From:   services.SourcesFor(entities.PollStatusCancelled),
		To:     entities.PollStatusCancelled,
		At:     now,
		Event:  event,
	})
	if err != nil {
		return false, err
	}
	if applied {
		logger.Info("poll cancelled for hangout",
			"event", "consensus_poll_cancelled_for_hangout",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"hangout_id", poll.HangoutID,
			"reason", strings.TrimSpace(reason),
		)
	}
	return applied, nil
}

func (uc LifecycleUseCase) transition(
	ctx context.Context,
	cmd TransitionCommand,
	from entities.PollStatus,
	to entities.PollStatus,
	eventType string,
) (entities.Poll, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()
	actorID := strings.TrimSpace(cmd.ActorID)
	if strings.TrimSpace(cmd.PollID) == "" || actorID == "" {
		return entities.Poll{}, domainerrors.ErrInvalidInput
	}
	poll, err := uc.Polls.GetPoll(ctx, cmd.PollID)
	if err != nil {
		return entities.Poll{}, err
	}
	if poll.CreatorID != actorID {
		logger.Warn("poll transition rejected for non-creator",
			"event", "consensus_poll_transition_unauthorized",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"actor_id", actorID,
			"to_status", string(to),
		)
		return entities.Poll{}, domainerrors.ErrUnauthorized
	}
	if expired, _, err := expireIfOverdue(ctx, uc.Polls, uc.IDGen, logger, poll, now, "transition"); err != nil {
		return entities.Poll{}, err
	} else if expired {
		return entities.Poll{}, domainerrors.ErrInvalidTransition
	}
	if (from != "" && poll.Status != from) || !services.CanTransition(poll.Status, to) {
		return entities.Poll{}, domainerrors.ErrInvalidTransition
	}
	if to == entities.PollStatusActive && poll.Status == entities.PollStatusDraft {
		if len(poll.Options) < 2 {
			return entities.Poll{}, domainerrors.ErrNotEnoughOptions
		}
		if poll.Config.ExpiresAt != nil && !poll.Config.ExpiresAt.After(now) {
			return entities.Poll{}, domainerrors.ErrInvalidInput
		}
	}

	event, err := newPollEnvelope(ctx, uc.IDGen, eventType, poll, now, map[string]any{
		"from_status": string(poll.Status),
		"to_status":   string(to),
		"actor_id":    actorID,
	})
	if err != nil {
		return entities.Poll{}, err
	}
	applied, err := uc.Polls.TransitionStatus(ctx, ports.StatusTransition{
		PollID: poll.PollID,
		From:   []entities.PollStatus{poll.Status},
		To:     to,
		At:     now,
		Event:  event,
	})
	if err != nil {
		return entities.Poll{}, err
	}
	if !applied {
		logger.Warn("poll transition lost compare-and-swap",
			"event", "consensus_poll_transition_conflict",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"from_status", string(poll.Status),
			"to_status", string(to),
		)
		return entities.Poll{}, domainerrors.ErrConflict
	}
	logger.Info("poll transitioned",
		"event", "consensus_poll_transitioned",
		"module", "hangout-planning/consensus-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"from_status", string(poll.Status),
		"to_status", string(to),
		"actor_id", actorID,
	)
	return uc.Polls.GetPoll(ctx, poll.PollID)
}

func (uc LifecycleUseCase) newOption(
	ctx context.Context,
	input OptionInput,
	createdBy string,
	position int,
	now time.Time,
) (entities.Option, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return entities.Option{}, domainerrors.ErrInvalidInput
	}
	if input.StartsAt != nil && input.EndsAt != nil && input.EndsAt.Before(*input.StartsAt) {
		return entities.Option{}, domainerrors.ErrInvalidInput
	}
	if input.PriceCents != nil && *input.PriceCents < 0 {
		return entities.Option{}, domainerrors.ErrInvalidInput
	}
	optionID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Option{}, err
	}
	return entities.Option{
		OptionID:    optionID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		StartsAt:    utcPointer(input.StartsAt),
		EndsAt:      utcPointer(input.EndsAt),
		Location:    strings.TrimSpace(input.Location),
		PriceCents:  input.PriceCents,
		Currency:    strings.ToUpper(strings.TrimSpace(input.Currency)),
		Position:    position,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}, nil
}

func (uc LifecycleUseCase) isParticipant(ctx context.Context, hangoutID string, userID string) (bool, error) {
	roster, err := uc.Roster.ListParticipants(ctx, hangoutID)
	if err != nil {
		return false, err
	}
	return rosterContains(roster, userID), nil
}

func (uc LifecycleUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}

func normalizeConfig(config entities.PollConfig, now time.Time) (entities.PollConfig, error) {
	switch config.ConsensusType {
	case "":
		config.ConsensusType = entities.ConsensusTypePercentage
	case entities.ConsensusTypePercentage, entities.ConsensusTypeMinimum:
	default:
		return entities.PollConfig{}, domainerrors.ErrInvalidInput
	}
	if config.ConsensusThreshold < 0 || config.ConsensusThreshold > 100 || config.MinimumParticipants < 0 {
		return entities.PollConfig{}, domainerrors.ErrInvalidInput
	}
	if config.ConsensusType == entities.ConsensusTypeMinimum && config.MinimumParticipants == 0 {
		return entities.PollConfig{}, domainerrors.ErrInvalidInput
	}
	if config.ExpiresAt != nil {
		if !config.ExpiresAt.After(now) {
			return entities.PollConfig{}, domainerrors.ErrInvalidInput
		}
		config.ExpiresAt = utcPointer(config.ExpiresAt)
	}
	return config, nil
}

// expireIfOverdue applies lazy expiry. overdue reports that the read poll was
// past its deadline; applied reports that this call won the status write.
// When overdue is set without applied, another writer moved the poll first.
func expireIfOverdue(
	ctx context.Context,
	polls ports.PollRepository,
	idGen ports.IDGenerator,
	logger *slog.Logger,
	poll entities.Poll,
	now time.Time,
	trigger string,
) (overdue bool, applied bool, err error) {
	if !poll.IsOverdue(now) {
		return false, false, nil
	}
	if poll.Status != entities.PollStatusActive && poll.Status != entities.PollStatusPaused {
		return false, false, nil
	}
	event, err := newPollEnvelope(ctx, idGen, EventPollExpired, poll, now, map[string]any{
		"from_status": string(poll.Status),
		"expires_at":  poll.Config.ExpiresAt.UTC(),
		"trigger":     trigger,
	})
	if err != nil {
		return false, false, err
	}
	applied, err = polls.TransitionStatus(ctx, ports.StatusTransition{
		PollID: poll.PollID,
		From:   services.SourcesFor(entities.PollStatusExpired),
		To:     entities.PollStatusExpired,
		At:     now,
		Event:  event,
	})
	if err != nil {
		return false, false, err
	}
	if applied {
		logger.Info("poll expired",
			"event", "consensus_poll_expired",
			"module", "hangout-planning/consensus-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"from_status", string(poll.Status),
			"trigger", trigger,
		)
	}
	return true, applied, nil
}

func rosterContains(roster []entities.Participant, userID string) bool {
	for _, participant := range roster {
		if participant.UserID == userID {
			return true
		}
	}
	return false
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}
