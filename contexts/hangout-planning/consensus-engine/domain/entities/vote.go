package entities

import (
	"sort"
	"time"
)

// AbstainOptionID is the reserved option id of an abstention vote.
const AbstainOptionID = "abstain"

type VoteMode string

const (
	VoteModeAdd       VoteMode = "add"
	VoteModeToggle    VoteMode = "toggle"
	VoteModeRemove    VoteMode = "remove"
	VoteModePreferred VoteMode = "preferred"
	VoteModeAbstain   VoteMode = "abstain"
)

func (m VoteMode) Valid() bool {
	switch m {
	case VoteModeAdd, VoteModeToggle, VoteModeRemove, VoteModePreferred, VoteModeAbstain:
		return true
	default:
		return false
	}
}

type Vote struct {
	VoteID    string
	PollID    string
	UserID    string
	OptionID  string
	Preferred bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (v Vote) IsAbstention() bool {
	return v.OptionID == AbstainOptionID
}

// VoteSnapshot is a point-in-time copy of a poll's ledger grouped by user.
type VoteSnapshot struct {
	PollID  string
	TakenAt time.Time
	ByUser  map[string][]Vote
}

func NewVoteSnapshot(pollID string, takenAt time.Time, votes []Vote) VoteSnapshot {
	byUser := make(map[string][]Vote)
	for _, vote := range votes {
		byUser[vote.UserID] = append(byUser[vote.UserID], vote)
	}
	for userID := range byUser {
		items := byUser[userID]
		sort.Slice(items, func(i, j int) bool {
			if items[i].CreatedAt.Equal(items[j].CreatedAt) {
				return items[i].OptionID < items[j].OptionID
			}
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
	}
	return VoteSnapshot{
		PollID:  pollID,
		TakenAt: takenAt.UTC(),
		ByUser:  byUser,
	}
}

// Votes flattens the snapshot in user then creation order.
func (s VoteSnapshot) Votes() []Vote {
	users := make([]string, 0, len(s.ByUser))
	for userID := range s.ByUser {
		users = append(users, userID)
	}
	sort.Strings(users)
	items := make([]Vote, 0, len(users))
	for _, userID := range users {
		items = append(items, s.ByUser[userID]...)
	}
	return items
}

// VotedUserCount counts users holding at least one vote.
func (s VoteSnapshot) VotedUserCount() int {
	count := 0
	for _, votes := range s.ByUser {
		if len(votes) > 0 {
			count++
		}
	}
	return count
}
