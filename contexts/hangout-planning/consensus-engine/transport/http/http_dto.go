package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type OptionRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description,omitempty" validate:"max=2000"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Location    string     `json:"location,omitempty" validate:"max=500"`
	PriceCents  *int64     `json:"price_cents,omitempty" validate:"omitempty,min=0"`
	Currency    string     `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type PollConfigRequest struct {
	AllowMultiple       bool       `json:"allow_multiple"`
	IsAnonymous         bool       `json:"is_anonymous"`
	AllowAbstention     bool       `json:"allow_abstention"`
	AllowAddOptions     bool       `json:"allow_add_options"`
	RequireMandatory    bool       `json:"require_mandatory"`
	ConsensusType       string     `json:"consensus_type" validate:"omitempty,oneof=percentage minimum"`
	ConsensusThreshold  int        `json:"consensus_threshold" validate:"min=0,max=100"`
	MinimumParticipants int        `json:"minimum_participants" validate:"min=0"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

type CreatePollRequest struct {
	HangoutID string            `json:"hangout_id" validate:"required"`
	Config    PollConfigRequest `json:"config"`
	Options   []OptionRequest   `json:"options" validate:"max=50,dive"`
	Publish   bool              `json:"publish"`
}

type CastVoteRequest struct {
	OptionID string `json:"option_id"`
	Mode     string `json:"mode" validate:"omitempty,oneof=add toggle remove preferred abstain"`
}

type OptionResponse struct {
	OptionID    string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Location    string     `json:"location,omitempty"`
	PriceCents  *int64     `json:"price_cents,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	Position    int        `json:"position"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type PollConfigResponse struct {
	AllowMultiple       bool       `json:"allow_multiple"`
	IsAnonymous         bool       `json:"is_anonymous"`
	AllowAbstention     bool       `json:"allow_abstention"`
	AllowAddOptions     bool       `json:"allow_add_options"`
	RequireMandatory    bool       `json:"require_mandatory"`
	ConsensusType       string     `json:"consensus_type"`
	ConsensusThreshold  int        `json:"consensus_threshold"`
	MinimumParticipants int        `json:"minimum_participants"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

type PollResponse struct {
	PollID          string             `json:"poll_id"`
	HangoutID       string             `json:"hangout_id"`
	CreatorID       string             `json:"creator_id"`
	Status          string             `json:"status"`
	Config          PollConfigResponse `json:"config"`
	Options         []OptionResponse   `json:"options"`
	ArchivedOptions []OptionResponse   `json:"archived_options,omitempty"`
	WinningOptionID string             `json:"winning_option_id,omitempty"`
	FinalizedAt     *time.Time         `json:"finalized_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type ConsensusProgress struct {
	VotedUserCount   int  `json:"voted_user_count"`
	Quorum           int  `json:"quorum"`
	RosterSize       int  `json:"roster_size"`
	MissingMandatory int  `json:"missing_mandatory"`
	Reached          bool `json:"reached"`
}

type CastVoteResponse struct {
	VoteCast            bool              `json:"vote_cast"`
	VoteActive          bool              `json:"vote_active"`
	ImplicitVoteCreated bool              `json:"implicit_vote_created"`
	Finalized           bool              `json:"finalized"`
	WinningOption       *OptionResponse   `json:"winning_option,omitempty"`
	PollStatus          string            `json:"poll_status"`
	Progress            ConsensusProgress `json:"progress"`
	Replayed            bool              `json:"replayed"`
}

type OptionTallyResponse struct {
	Option    OptionResponse `json:"option"`
	Votes     int            `json:"votes"`
	Preferred int            `json:"preferred"`
	VoterIDs  []string       `json:"voter_ids,omitempty"`
}

type ViewerVoteResponse struct {
	OptionID  string    `json:"option_id"`
	Preferred bool      `json:"preferred"`
	CreatedAt time.Time `json:"created_at"`
}

type PollStateResponse struct {
	PollID              string                `json:"poll_id"`
	HangoutID           string                `json:"hangout_id"`
	Status              string                `json:"status"`
	Overdue             bool                  `json:"overdue"`
	Config              PollConfigResponse    `json:"config"`
	Options             []OptionTallyResponse `json:"options"`
	ArchivedOptions     []OptionTallyResponse `json:"archived_options,omitempty"`
	Progress            ConsensusProgress     `json:"progress"`
	LeadingOptionID     string                `json:"leading_option_id,omitempty"`
	Finalized           bool                  `json:"finalized"`
	WinningOption       *OptionResponse       `json:"winning_option,omitempty"`
	FinalizedAt         *time.Time            `json:"finalized_at,omitempty"`
	ViewerIsParticipant bool                  `json:"viewer_is_participant"`
	ViewerVotes         []ViewerVoteResponse  `json:"viewer_votes,omitempty"`
	GeneratedAt         time.Time             `json:"generated_at"`
}
