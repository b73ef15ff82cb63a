package services

import (
	"sort"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
)

// OptionTally is the number of distinct roster members voting for one option.
type OptionTally struct {
	OptionID  string
	Position  int
	Votes     int
	Preferred int
	VoterIDs  []string
}

type Evaluation struct {
	Reached          bool
	WinningOptionID  string
	VotedUserCount   int
	Quorum           int
	RosterSize       int
	Tallies          []OptionTally
	MissingMandatory []string
}

// Quorum returns the number of voters needed for the given roster size. It is
// never below one so an empty ledger cannot reach consensus.
func Quorum(config entities.PollConfig, rosterSize int) int {
	var q int
	switch config.ConsensusType {
	case entities.ConsensusTypeMinimum:
		q = config.MinimumParticipants
	default:
		threshold := config.ConsensusThreshold
		if threshold < 0 {
			threshold = 0
		}
		// ceil(roster * threshold / 100) in integer arithmetic.
		q = (rosterSize*threshold + 99) / 100
	}
	if q < 1 {
		q = 1
	}
	return q
}

// Evaluate decides whether the snapshot reaches consensus for the poll's live
// options. Only voters present in the roster are counted. It does not read
// storage or the clock.
func Evaluate(poll entities.Poll, snapshot entities.VoteSnapshot, roster []entities.Participant) Evaluation {
	members := make(map[string]entities.Participant, len(roster))
	for _, participant := range roster {
		members[participant.UserID] = participant
	}

	options := append([]entities.Option(nil), poll.Options...)
	sort.SliceStable(options, func(i, j int) bool {
		return optionBefore(options[i], options[j])
	})
	index := make(map[string]int, len(options))
	tallies := make([]OptionTally, len(options))
	for i, option := range options {
		index[option.OptionID] = i
		tallies[i] = OptionTally{OptionID: option.OptionID, Position: option.Position}
	}

	voted := make(map[string]struct{})
	for userID, votes := range snapshot.ByUser {
		if _, ok := members[userID]; !ok || len(votes) == 0 {
			continue
		}
		voted[userID] = struct{}{}
		seen := make(map[string]struct{}, len(votes))
		for _, vote := range votes {
			if vote.IsAbstention() {
				continue
			}
			i, ok := index[vote.OptionID]
			if !ok {
				continue
			}
			if _, dup := seen[vote.OptionID]; dup {
				continue
			}
			seen[vote.OptionID] = struct{}{}
			tallies[i].Votes++
			tallies[i].VoterIDs = append(tallies[i].VoterIDs, userID)
			if vote.Preferred {
				tallies[i].Preferred++
			}
		}
	}
	for i := range tallies {
		sort.Strings(tallies[i].VoterIDs)
	}

	result := Evaluation{
		VotedUserCount: len(voted),
		Quorum:         Quorum(poll.Config, len(roster)),
		RosterSize:     len(roster),
		Tallies:        tallies,
	}
	if poll.Config.RequireMandatory {
		for _, participant := range roster {
			if !participant.IsMandatory {
				continue
			}
			if _, ok := voted[participant.UserID]; !ok {
				result.MissingMandatory = append(result.MissingMandatory, participant.UserID)
			}
		}
		sort.Strings(result.MissingMandatory)
	}

	if result.VotedUserCount < result.Quorum || len(result.MissingMandatory) > 0 {
		return result
	}
	best := -1
	for i, tally := range tallies {
		if tally.Votes == 0 {
			continue
		}
		// tallies are in creation order, so strict > keeps the earliest on ties.
		if best < 0 || tally.Votes > tallies[best].Votes {
			best = i
		}
	}
	if best < 0 {
		return result
	}
	result.Reached = true
	result.WinningOptionID = tallies[best].OptionID
	return result
}

func optionBefore(a entities.Option, b entities.Option) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.OptionID < b.OptionID
}
