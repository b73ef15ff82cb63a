package httpadapter

import (
	"context"
	"log/slog"

	"hangout/contexts/hangout-planning/consensus-engine/application/commands"
	"hangout/contexts/hangout-planning/consensus-engine/application/queries"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	httptransport "hangout/contexts/hangout-planning/consensus-engine/transport/http"
)

type Handler struct {
	Votes     commands.VoteUseCase
	Lifecycle commands.LifecycleUseCase
	States    queries.PollStateUseCase
	Logger    *slog.Logger
}

// CreatePollHandler godoc
// @Summary Create a poll for a hangout
// @Description Creates a draft poll, or an active one when publish is set.
// @Tags consensus-engine
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Caller user id"
// @Param request body httptransport.CreatePollRequest true "Poll payload"
// @Success 201 {object} httptransport.PollResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/polls [post]
func (h Handler) CreatePollHandler(
	ctx context.Context,
	userID string,
	req httptransport.CreatePollRequest,
) (httptransport.PollResponse, error) {
	options := make([]commands.OptionInput, 0, len(req.Options))
	for _, option := range req.Options {
		options = append(options, optionInput(option))
	}
	poll, err := h.Lifecycle.CreatePoll(ctx, commands.CreatePollCommand{
		HangoutID: req.HangoutID,
		CreatorID: userID,
		Config: entities.PollConfig{
			AllowMultiple:       req.Config.AllowMultiple,
			IsAnonymous:         req.Config.IsAnonymous,
			AllowAbstention:     req.Config.AllowAbstention,
			AllowAddOptions:     req.Config.AllowAddOptions,
			RequireMandatory:    req.Config.RequireMandatory,
			ConsensusType:       entities.ConsensusType(req.Config.ConsensusType),
			ConsensusThreshold:  req.Config.ConsensusThreshold,
			MinimumParticipants: req.Config.MinimumParticipants,
			ExpiresAt:           req.Config.ExpiresAt,
		},
		Options: options,
		Publish: req.Publish,
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(poll), nil
}

func (h Handler) GetPollHandler(ctx context.Context, pollID string) (httptransport.PollResponse, error) {
	poll, err := h.Lifecycle.Polls.GetPoll(ctx, pollID)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(poll), nil
}

func (h Handler) AddOptionHandler(
	ctx context.Context,
	pollID string,
	userID string,
	req httptransport.OptionRequest,
) (httptransport.PollResponse, error) {
	poll, err := h.Lifecycle.AddOption(ctx, commands.AddOptionCommand{
		PollID: pollID,
		UserID: userID,
		Option: optionInput(req),
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(poll), nil
}

// TransitionHandler dispatches the lifecycle action named in the route.
func (h Handler) TransitionHandler(
	ctx context.Context,
	pollID string,
	userID string,
	action string,
) (httptransport.PollResponse, error) {
	cmd := commands.TransitionCommand{PollID: pollID, ActorID: userID}
	var (
		poll entities.Poll
		err  error
	)
	switch action {
	case "activate":
		poll, err = h.Lifecycle.Activate(ctx, cmd)
	case "pause":
		poll, err = h.Lifecycle.Pause(ctx, cmd)
	case "resume":
		poll, err = h.Lifecycle.Resume(ctx, cmd)
	case "cancel":
		poll, err = h.Lifecycle.Cancel(ctx, cmd)
	case "close":
		poll, err = h.Lifecycle.Close(ctx, cmd)
	default:
		return httptransport.PollResponse{}, domainerrors.ErrInvalidInput
	}
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(poll), nil
}

// CastVoteHandler godoc
// @Summary Cast, toggle or withdraw a vote
// @Description Applies the vote, evaluates consensus and finalizes the poll when the quorum is met.
// @Tags consensus-engine
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Caller user id"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param poll_id path string true "Poll id"
// @Param request body httptransport.CastVoteRequest true "Vote payload"
// @Success 200 {object} httptransport.CastVoteResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 503 {object} httptransport.ErrorResponse
// @Router /v1/polls/{poll_id}/votes [post]
func (h Handler) CastVoteHandler(
	ctx context.Context,
	pollID string,
	userID string,
	idempotencyKey string,
	req httptransport.CastVoteRequest,
) (httptransport.CastVoteResponse, error) {
	result, err := h.Votes.CastVote(ctx, commands.CastVoteCommand{
		PollID:         pollID,
		UserID:         userID,
		OptionID:       req.OptionID,
		Mode:           entities.VoteMode(req.Mode),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.CastVoteResponse{}, err
	}
	return mapCastVote(result), nil
}

func (h Handler) WithdrawVoteHandler(
	ctx context.Context,
	pollID string,
	userID string,
	optionID string,
	idempotencyKey string,
) (httptransport.CastVoteResponse, error) {
	result, err := h.Votes.WithdrawVote(ctx, commands.WithdrawVoteCommand{
		PollID:         pollID,
		UserID:         userID,
		OptionID:       optionID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.CastVoteResponse{}, err
	}
	return mapCastVote(result), nil
}

func (h Handler) MarkPreferredHandler(
	ctx context.Context,
	pollID string,
	userID string,
	optionID string,
	idempotencyKey string,
) (httptransport.CastVoteResponse, error) {
	result, err := h.Votes.MarkPreferred(ctx, commands.MarkPreferredCommand{
		PollID:         pollID,
		UserID:         userID,
		OptionID:       optionID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.CastVoteResponse{}, err
	}
	return mapCastVote(result), nil
}

// PollStateHandler godoc
// @Summary Read poll state
// @Description Returns tallies, quorum progress and the viewer's own votes. Voter ids are omitted for anonymous polls.
// @Tags consensus-engine
// @Produce json
// @Param X-User-Id header string false "Viewer user id"
// @Param poll_id path string true "Poll id"
// @Success 200 {object} httptransport.PollStateResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/polls/{poll_id}/state [get]
func (h Handler) PollStateHandler(ctx context.Context, pollID string, viewerID string) (httptransport.PollStateResponse, error) {
	state, err := h.States.GetPollState(ctx, queries.PollStateQuery{PollID: pollID, ViewerID: viewerID})
	if err != nil {
		return httptransport.PollStateResponse{}, err
	}
	response := httptransport.PollStateResponse{
		PollID:    state.PollID,
		HangoutID: state.HangoutID,
		Status:    string(state.Status),
		Overdue:   state.Overdue,
		Config:    mapConfig(state.Config),
		Options:   mapTallies(state.Options),
		Progress: httptransport.ConsensusProgress{
			VotedUserCount:   state.VotedUserCount,
			Quorum:           state.Quorum,
			RosterSize:       state.RosterSize,
			MissingMandatory: state.MissingMandatory,
			Reached:          state.ConsensusReachedNow || state.Finalized,
		},
		LeadingOptionID:     state.LeadingOptionID,
		Finalized:           state.Finalized,
		WinningOption:       mapOptionPointer(state.WinningOption),
		FinalizedAt:         state.FinalizedAt,
		ViewerIsParticipant: state.ViewerIsParticipant,
		GeneratedAt:         state.GeneratedAt,
	}
	if len(state.ArchivedOptions) > 0 {
		response.ArchivedOptions = mapTallies(state.ArchivedOptions)
	}
	for _, vote := range state.ViewerVotes {
		response.ViewerVotes = append(response.ViewerVotes, httptransport.ViewerVoteResponse{
			OptionID:  vote.OptionID,
			Preferred: vote.Preferred,
			CreatedAt: vote.CreatedAt,
		})
	}
	return response, nil
}

func optionInput(req httptransport.OptionRequest) commands.OptionInput {
	return commands.OptionInput{
		Title:       req.Title,
		Description: req.Description,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Location:    req.Location,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
	}
}

func mapCastVote(result commands.CastVoteResult) httptransport.CastVoteResponse {
	return httptransport.CastVoteResponse{
		VoteCast:            result.VoteCast,
		VoteActive:          result.VoteActive,
		ImplicitVoteCreated: result.ImplicitVoteCreated,
		Finalized:           result.Finalized,
		WinningOption:       mapOptionPointer(result.WinningOption),
		PollStatus:          string(result.PollStatus),
		Progress: httptransport.ConsensusProgress{
			VotedUserCount:   result.Evaluation.VotedUserCount,
			Quorum:           result.Evaluation.Quorum,
			RosterSize:       result.Evaluation.RosterSize,
			MissingMandatory: len(result.Evaluation.MissingMandatory),
			Reached:          result.Evaluation.Reached || result.Finalized,
		},
		Replayed: result.Replayed,
	}
}

func mapPoll(poll entities.Poll) httptransport.PollResponse {
	response := httptransport.PollResponse{
		PollID:          poll.PollID,
		HangoutID:       poll.HangoutID,
		CreatorID:       poll.CreatorID,
		Status:          string(poll.Status),
		Config:          mapConfig(poll.Config),
		Options:         mapOptions(poll.Options),
		WinningOptionID: poll.WinningOptionID,
		FinalizedAt:     poll.FinalizedAt,
		CreatedAt:       poll.CreatedAt,
		UpdatedAt:       poll.UpdatedAt,
	}
	if len(poll.ArchivedOptions) > 0 {
		response.ArchivedOptions = mapOptions(poll.ArchivedOptions)
	}
	return response
}

func mapConfig(config entities.PollConfig) httptransport.PollConfigResponse {
	return httptransport.PollConfigResponse{
		AllowMultiple:       config.AllowMultiple,
		IsAnonymous:         config.IsAnonymous,
		AllowAbstention:     config.AllowAbstention,
		AllowAddOptions:     config.AllowAddOptions,
		RequireMandatory:    config.RequireMandatory,
		ConsensusType:       string(config.ConsensusType),
		ConsensusThreshold:  config.ConsensusThreshold,
		MinimumParticipants: config.MinimumParticipants,
		ExpiresAt:           config.ExpiresAt,
	}
}

func mapOptions(options []entities.Option) []httptransport.OptionResponse {
	items := make([]httptransport.OptionResponse, 0, len(options))
	for _, option := range options {
		items = append(items, mapOption(option))
	}
	return items
}

func mapOption(option entities.Option) httptransport.OptionResponse {
	return httptransport.OptionResponse{
		OptionID:    option.OptionID,
		Title:       option.Title,
		Description: option.Description,
		StartsAt:    option.StartsAt,
		EndsAt:      option.EndsAt,
		Location:    option.Location,
		PriceCents:  option.PriceCents,
		Currency:    option.Currency,
		Position:    option.Position,
		CreatedBy:   option.CreatedBy,
		CreatedAt:   option.CreatedAt,
	}
}

func mapOptionPointer(option *entities.Option) *httptransport.OptionResponse {
	if option == nil {
		return nil
	}
	mapped := mapOption(*option)
	return &mapped
}

func mapTallies(items []queries.OptionState) []httptransport.OptionTallyResponse {
	mapped := make([]httptransport.OptionTallyResponse, 0, len(items))
	for _, item := range items {
		mapped = append(mapped, httptransport.OptionTallyResponse{
			Option:    mapOption(item.Option),
			Votes:     item.Votes,
			Preferred: item.Preferred,
			VoterIDs:  item.VoterIDs,
		})
	}
	return mapped
}
