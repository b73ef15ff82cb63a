package postgresadapter

import (
	"strings"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"

	"gorm.io/datatypes"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type optionDocument struct {
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

type pollModel struct {
	ID                  string                              `gorm:"column:id;primaryKey"`
	HangoutID           string                              `gorm:"column:hangout_id;uniqueIndex:idx_polls_hangout"`
	CreatorID           string                              `gorm:"column:creator_id"`
	Status              string                              `gorm:"column:status;index:idx_polls_status_created,priority:1"`
	AllowMultiple       bool                                `gorm:"column:allow_multiple"`
	IsAnonymous         bool                                `gorm:"column:is_anonymous"`
	AllowAbstention     bool                                `gorm:"column:allow_abstention"`
	AllowAddOptions     bool                                `gorm:"column:allow_add_options"`
	RequireMandatory    bool                                `gorm:"column:require_mandatory"`
	ConsensusType       string                              `gorm:"column:consensus_type"`
	ConsensusThreshold  int                                 `gorm:"column:consensus_threshold"`
	MinimumParticipants int                                 `gorm:"column:minimum_participants"`
	ExpiresAt           *time.Time                          `gorm:"column:expires_at"`
	Options             datatypes.JSONSlice[optionDocument] `gorm:"column:options;type:jsonb"`
	ArchivedOptions     datatypes.JSONSlice[optionDocument] `gorm:"column:archived_options;type:jsonb"`
	WinningOptionID     *string                             `gorm:"column:winning_option_id"`
	FinalizedAt         *time.Time                          `gorm:"column:finalized_at;index"`
	CreatedAt           time.Time                           `gorm:"column:created_at;index:idx_polls_status_created,priority:2"`
	UpdatedAt           time.Time                           `gorm:"column:updated_at"`
}

func (pollModel) TableName() string {
	return "polls"
}

func pollModelFromEntity(poll entities.Poll) pollModel {
	row := pollModel{
		ID:                  strings.TrimSpace(poll.PollID),
		HangoutID:           strings.TrimSpace(poll.HangoutID),
		CreatorID:           strings.TrimSpace(poll.CreatorID),
		Status:              string(poll.Status),
		AllowMultiple:       poll.Config.AllowMultiple,
		IsAnonymous:         poll.Config.IsAnonymous,
		AllowAbstention:     poll.Config.AllowAbstention,
		AllowAddOptions:     poll.Config.AllowAddOptions,
		RequireMandatory:    poll.Config.RequireMandatory,
		ConsensusType:       string(poll.Config.ConsensusType),
		ConsensusThreshold:  poll.Config.ConsensusThreshold,
		MinimumParticipants: poll.Config.MinimumParticipants,
		ExpiresAt:           normalizeOptionalTime(poll.Config.ExpiresAt),
		Options:             optionDocuments(poll.Options),
		ArchivedOptions:     optionDocuments(poll.ArchivedOptions),
		FinalizedAt:         normalizeOptionalTime(poll.FinalizedAt),
		CreatedAt:           poll.CreatedAt.UTC(),
		UpdatedAt:           poll.UpdatedAt.UTC(),
	}
	if winner := strings.TrimSpace(poll.WinningOptionID); winner != "" {
		row.WinningOptionID = &winner
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m pollModel) toEntity() entities.Poll {
	winner := ""
	if m.WinningOptionID != nil {
		winner = strings.TrimSpace(*m.WinningOptionID)
	}
	poll := entities.Poll{
		PollID:    m.ID,
		HangoutID: m.HangoutID,
		CreatorID: m.CreatorID,
		Config: entities.PollConfig{
			AllowMultiple:       m.AllowMultiple,
			IsAnonymous:         m.IsAnonymous,
			AllowAbstention:     m.AllowAbstention,
			AllowAddOptions:     m.AllowAddOptions,
			RequireMandatory:    m.RequireMandatory,
			ConsensusType:       entities.ConsensusType(m.ConsensusType),
			ConsensusThreshold:  m.ConsensusThreshold,
			MinimumParticipants: m.MinimumParticipants,
			ExpiresAt:           normalizeOptionalTime(m.ExpiresAt),
		},
		Status:          entities.PollStatus(m.Status),
		Options:         optionEntities(m.Options),
		WinningOptionID: winner,
		FinalizedAt:     normalizeOptionalTime(m.FinalizedAt),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
	if len(m.ArchivedOptions) > 0 {
		poll.ArchivedOptions = optionEntities(m.ArchivedOptions)
	}
	return poll
}

func optionDocuments(options []entities.Option) datatypes.JSONSlice[optionDocument] {
	items := make(datatypes.JSONSlice[optionDocument], 0, len(options))
	for _, option := range options {
		items = append(items, optionDocument{
			OptionID:    strings.TrimSpace(option.OptionID),
			Title:       option.Title,
			Description: option.Description,
			StartsAt:    normalizeOptionalTime(option.StartsAt),
			EndsAt:      normalizeOptionalTime(option.EndsAt),
			Location:    option.Location,
			PriceCents:  option.PriceCents,
			Currency:    option.Currency,
			Position:    option.Position,
			CreatedBy:   option.CreatedBy,
			CreatedAt:   option.CreatedAt.UTC(),
		})
	}
	return items
}

func optionEntities(documents datatypes.JSONSlice[optionDocument]) []entities.Option {
	items := make([]entities.Option, 0, len(documents))
	for _, document := range documents {
		items = append(items, entities.Option{
			OptionID:    document.OptionID,
			Title:       document.Title,
			Description: document.Description,
			StartsAt:    normalizeOptionalTime(document.StartsAt),
			EndsAt:      normalizeOptionalTime(document.EndsAt),
			Location:    document.Location,
			PriceCents:  document.PriceCents,
			Currency:    document.Currency,
			Position:    document.Position,
			CreatedBy:   document.CreatedBy,
			CreatedAt:   document.CreatedAt.UTC(),
		})
	}
	return items
}

// voteModel rows are unique per (poll, user, option). The partial index keeps
// at most one preferred row per (poll, user).
type voteModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	PollID    string    `gorm:"column:poll_id;uniqueIndex:idx_votes_identity,priority:1;uniqueIndex:idx_votes_one_preferred,priority:1,where:preferred = true"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_votes_identity,priority:2;uniqueIndex:idx_votes_one_preferred,priority:2,where:preferred = true"`
	OptionID  string    `gorm:"column:option_id;uniqueIndex:idx_votes_identity,priority:3"`
	Preferred bool      `gorm:"column:preferred;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (voteModel) TableName() string {
	return "poll_votes"
}

func voteModelFromEntity(vote entities.Vote) voteModel {
	return voteModel{
		ID:        strings.TrimSpace(vote.VoteID),
		PollID:    strings.TrimSpace(vote.PollID),
		UserID:    strings.TrimSpace(vote.UserID),
		OptionID:  strings.TrimSpace(vote.OptionID),
		Preferred: vote.Preferred,
		CreatedAt: vote.CreatedAt.UTC(),
		UpdatedAt: vote.UpdatedAt.UTC(),
	}
}

func (m voteModel) toEntity() entities.Vote {
	return entities.Vote{
		VoteID:    m.ID,
		PollID:    m.PollID,
		UserID:    m.UserID,
		OptionID:  m.OptionID,
		Preferred: m.Preferred,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

// participantModel is read-only here. The hangout roster service owns writes.
type participantModel struct {
	HangoutID   string `gorm:"column:hangout_id;primaryKey"`
	UserID      string `gorm:"column:user_id;primaryKey"`
	IsMandatory bool   `gorm:"column:is_mandatory"`
}

func (participantModel) TableName() string {
	return "hangout_participants"
}

type rsvpModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	HangoutID string    `gorm:"column:hangout_id;uniqueIndex:idx_rsvps_hangout_user,priority:1"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_rsvps_hangout_user,priority:2"`
	Status    string    `gorm:"column:status"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (rsvpModel) TableName() string {
	return "hangout_rsvps"
}

func (m rsvpModel) toEntity() entities.RSVP {
	return entities.RSVP{
		RSVPID:    m.ID,
		HangoutID: m.HangoutID,
		UserID:    m.UserID,
		Status:    entities.RSVPStatus(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
	}
}

type idempotencyModel struct {
	Key         string    `gorm:"column:key;primaryKey"`
	RequestHash string    `gorm:"column:request_hash"`
	Response    []byte    `gorm:"column:response"`
	ExpiresAt   time.Time `gorm:"column:expires_at;index"`
}

func (idempotencyModel) TableName() string {
	return "consensus_idempotency"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index:idx_consensus_outbox_pending,priority:1"`
	CreatedAt    time.Time  `gorm:"column:created_at;index:idx_consensus_outbox_pending,priority:2"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "consensus_outbox"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	normalized := value.UTC()
	return &normalized
}
