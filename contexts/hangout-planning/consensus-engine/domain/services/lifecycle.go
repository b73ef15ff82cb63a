package services

import "hangout/contexts/hangout-planning/consensus-engine/domain/entities"

var allowedTransitions = map[entities.PollStatus][]entities.PollStatus{
	entities.PollStatusDraft: {
		entities.PollStatusActive,
		entities.PollStatusCancelled,
	},
	entities.PollStatusActive: {
		entities.PollStatusPaused,
		entities.PollStatusExpired,
		entities.PollStatusCancelled,
		entities.PollStatusClosed,
		entities.PollStatusConsensusReached,
	},
	entities.PollStatusPaused: {
		entities.PollStatusActive,
		entities.PollStatusExpired,
		entities.PollStatusCancelled,
		entities.PollStatusClosed,
	},
}

// CanTransition reports whether from -> to is an edge of the poll lifecycle.
// Terminal states have no outgoing edges.
func CanTransition(from entities.PollStatus, to entities.PollStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// SourcesFor lists every status that may move to the given target. Storage
// adapters use it as the compare-and-swap guard.
func SourcesFor(to entities.PollStatus) []entities.PollStatus {
	order := []entities.PollStatus{
		entities.PollStatusDraft,
		entities.PollStatusActive,
		entities.PollStatusPaused,
	}
	sources := make([]entities.PollStatus, 0, len(order))
	for _, from := range order {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// CanAddOption reports whether a new option may be appended in the given state.
func CanAddOption(poll entities.Poll) bool {
	switch poll.Status {
	case entities.PollStatusDraft:
		return true
	case entities.PollStatusActive:
		return poll.Config.AllowAddOptions
	default:
		return false
	}
}
