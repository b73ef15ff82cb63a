package entities

import "time"

type PollStatus string

const (
	PollStatusDraft            PollStatus = "draft"
	PollStatusActive           PollStatus = "active"
	PollStatusPaused           PollStatus = "paused"
	PollStatusConsensusReached PollStatus = "consensus_reached"
	PollStatusExpired          PollStatus = "expired"
	PollStatusCancelled        PollStatus = "cancelled"
	PollStatusClosed           PollStatus = "closed"
)

// IsTerminal reports whether the status is a sink of the poll lifecycle.
func (s PollStatus) IsTerminal() bool {
	switch s {
	case PollStatusConsensusReached, PollStatusExpired, PollStatusCancelled, PollStatusClosed:
		return true
	default:
		return false
	}
}

func (s PollStatus) Valid() bool {
	switch s {
	case PollStatusDraft, PollStatusActive, PollStatusPaused:
		return true
	default:
		return s.IsTerminal()
	}
}

type ConsensusType string

const (
	ConsensusTypePercentage ConsensusType = "percentage"
	ConsensusTypeMinimum    ConsensusType = "minimum"
)

// PollConfig is fixed when the poll is created.
type PollConfig struct {
	AllowMultiple       bool
	IsAnonymous         bool
	AllowAbstention     bool
	AllowAddOptions     bool
	RequireMandatory    bool
	ConsensusType       ConsensusType
	ConsensusThreshold  int
	MinimumParticipants int
	ExpiresAt           *time.Time
}

// Option is a candidate plan. Position records creation order and drives the
// tie-break between equally voted options.
type Option struct {
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

type Poll struct {
	PollID          string
	HangoutID       string
	CreatorID       string
	Config          PollConfig
	Status          PollStatus
	Options         []Option
	ArchivedOptions []Option
	WinningOptionID string
	FinalizedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p Poll) FindOption(optionID string) (Option, bool) {
	for _, option := range p.Options {
		if option.OptionID == optionID {
			return option, true
		}
	}
	return Option{}, false
}

// IsFinalized mirrors the cheap check other readers rely on: a confirmed poll
// carries exactly one option.
func (p Poll) IsFinalized() bool {
	return p.Status == PollStatusConsensusReached && len(p.Options) == 1
}

// WinningOption returns the single remaining option of a finalized poll.
func (p Poll) WinningOption() (Option, bool) {
	if p.Status != PollStatusConsensusReached || len(p.Options) == 0 {
		return Option{}, false
	}
	return p.Options[0], true
}

// IsOverdue reports whether the poll has an expiry strictly before now.
func (p Poll) IsOverdue(now time.Time) bool {
	return p.Config.ExpiresAt != nil && now.UTC().After(p.Config.ExpiresAt.UTC())
}

func (p Poll) NextOptionPosition() int {
	next := 0
	for _, option := range p.Options {
		if option.Position >= next {
			next = option.Position + 1
		}
	}
	for _, option := range p.ArchivedOptions {
		if option.Position >= next {
			next = option.Position + 1
		}
	}
	return next
}
