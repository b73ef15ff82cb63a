package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/ports"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ballot struct {
	tx       *gorm.DB
	mutation ports.VoteMutation
	optionID string
	held     map[string]voteModel
}

// mutateBallot runs fn inside a transaction that holds a share lock on the
// poll row and an advisory lock on (poll, user). The share lock makes a
// concurrent finalize wait for this write, and the status check under it
// rejects writes that arrive after the poll left active.
func (r *Repository) mutateBallot(
	ctx context.Context,
	event string,
	mutation ports.VoteMutation,
	fn func(b ballot) (ports.VoteMutationResult, error),
) (ports.VoteMutationResult, error) {
	pollID := strings.TrimSpace(mutation.PollID)
	userID := strings.TrimSpace(mutation.UserID)
	var result ports.VoteMutationResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll pollModel
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "status").
			Where("id = ?", pollID).
			First(&poll).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrPollNotFound
			}
			return r.logError(event+"_lock_poll_failed", err, "poll_id", pollID)
		}
		if entities.PollStatus(poll.Status) != entities.PollStatusActive {
			return domainerrors.ErrPollNotActive
		}
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", pollID+":"+userID).Error; err != nil {
			return r.logError(event+"_lock_ballot_failed", err, "poll_id", pollID, "user_id", userID)
		}
		var rows []voteModel
		if err := tx.Where("poll_id = ? AND user_id = ?", pollID, userID).Find(&rows).Error; err != nil {
			return r.logError(event+"_load_ballot_failed", err, "poll_id", pollID, "user_id", userID)
		}
		held := make(map[string]voteModel, len(rows))
		for _, row := range rows {
			held[row.OptionID] = row
		}
		var err error
		result, err = fn(ballot{
			tx:       tx,
			mutation: mutation,
			optionID: strings.TrimSpace(mutation.OptionID),
			held:     held,
		})
		if err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			if isKnown(err) {
				return err
			}
			return r.logError(event+"_write_failed", err,
				"poll_id", pollID,
				"user_id", userID,
				"option_id", strings.TrimSpace(mutation.OptionID),
			)
		}
		return nil
	})
	if err != nil {
		return ports.VoteMutationResult{}, classify(err)
	}
	return result, nil
}

func (r *Repository) Toggle(ctx context.Context, mutation ports.VoteMutation) (ports.VoteMutationResult, error) {
	return r.mutateBallot(ctx, "consensus_repo_toggle_vote", mutation, func(b ballot) (ports.VoteMutationResult, error) {
		if existing, ok := b.held[b.optionID]; ok {
			if err := b.tx.Where("id = ?", existing.ID).Delete(&voteModel{}).Error; err != nil {
				return ports.VoteMutationResult{}, err
			}
			return ports.VoteMutationResult{Vote: existing.toEntity(), Active: false, Changed: true}, nil
		}
		return b.insert(false)
	})
}

func (r *Repository) Add(ctx context.Context, mutation ports.VoteMutation) (ports.VoteMutationResult, error) {
	return r.mutateBallot(ctx, "consensus_repo_add_vote", mutation, func(b ballot) (ports.VoteMutationResult, error) {
		if existing, ok := b.held[b.optionID]; ok {
			return ports.VoteMutationResult{Vote: existing.toEntity(), Active: true}, nil
		}
		return b.insert(false)
	})
}

func (r *Repository) Withdraw(ctx context.Context, mutation ports.VoteMutation) (ports.VoteMutationResult, error) {
	return r.mutateBallot(ctx, "consensus_repo_withdraw_vote", mutation, func(b ballot) (ports.VoteMutationResult, error) {
		existing, ok := b.held[b.optionID]
		if !ok {
			return ports.VoteMutationResult{}, nil
		}
		if err := b.tx.Where("id = ?", existing.ID).Delete(&voteModel{}).Error; err != nil {
			return ports.VoteMutationResult{}, err
		}
		return ports.VoteMutationResult{Vote: existing.toEntity(), Changed: true}, nil
	})
}

// MarkPreferred clears the flag on the user's other votes before setting it,
// so the partial unique index never sees two preferred rows.
func (r *Repository) MarkPreferred(ctx context.Context, mutation ports.VoteMutation) (ports.VoteMutationResult, error) {
	return r.mutateBallot(ctx, "consensus_repo_mark_preferred", mutation, func(b ballot) (ports.VoteMutationResult, error) {
		now := b.at()
		result := ports.VoteMutationResult{Active: true}
		cleared := b.tx.Model(&voteModel{}).
			Where("poll_id = ? AND user_id = ?", strings.TrimSpace(b.mutation.PollID), strings.TrimSpace(b.mutation.UserID)).
			Where("option_id <> ?", b.optionID).
			Where("preferred = ?", true).
			Updates(map[string]any{"preferred": false, "updated_at": now})
		if cleared.Error != nil {
			return ports.VoteMutationResult{}, cleared.Error
		}
		if cleared.RowsAffected > 0 {
			result.Changed = true
		}

		existing, ok := b.held[b.optionID]
		if !ok {
			created, err := b.insert(true)
			if err != nil {
				return ports.VoteMutationResult{}, err
			}
			created.ImplicitlyCreated = true
			return created, nil
		}
		if !existing.Preferred {
			if err := b.tx.Model(&voteModel{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{"preferred": true, "updated_at": now}).Error; err != nil {
				return ports.VoteMutationResult{}, err
			}
			existing.Preferred = true
			existing.UpdatedAt = now
			result.Changed = true
		}
		result.Vote = existing.toEntity()
		return result, nil
	})
}

// Snapshot reads every vote of the poll in one statement, which Postgres
// serves from a single consistent view.
func (r *Repository) Snapshot(ctx context.Context, pollID string) (entities.VoteSnapshot, error) {
	pollID = strings.TrimSpace(pollID)
	if err := r.ensurePollExists(r.db.WithContext(ctx), pollID); err != nil {
		return entities.VoteSnapshot{}, classify(err)
	}
	var rows []voteModel
	if err := r.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return entities.VoteSnapshot{}, classify(r.logError("consensus_repo_snapshot_failed", err, "poll_id", pollID))
	}
	votes := make([]entities.Vote, 0, len(rows))
	for _, row := range rows {
		votes = append(votes, row.toEntity())
	}
	return entities.NewVoteSnapshot(pollID, time.Now().UTC(), votes), nil
}

func (b ballot) insert(preferred bool) (ports.VoteMutationResult, error) {
	if conflictsWithHeld(b.held, b.optionID, b.mutation.AllowMultiple) {
		return ports.VoteMutationResult{}, domainerrors.ErrMultipleVotesDisallowed
	}
	now := b.at()
	row := voteModel{
		ID:        strings.TrimSpace(b.mutation.VoteID),
		PollID:    strings.TrimSpace(b.mutation.PollID),
		UserID:    strings.TrimSpace(b.mutation.UserID),
		OptionID:  b.optionID,
		Preferred: preferred,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if err := b.tx.Create(&row).Error; err != nil {
		return ports.VoteMutationResult{}, err
	}
	return ports.VoteMutationResult{Vote: row.toEntity(), Active: true, Changed: true}, nil
}

func (b ballot) at() time.Time {
	if b.mutation.At.IsZero() {
		return time.Now().UTC()
	}
	return b.mutation.At.UTC()
}

// conflictsWithHeld applies the single-vote rule. An abstention never shares
// a user's ballot with another option.
func conflictsWithHeld(held map[string]voteModel, optionID string, allowMultiple bool) bool {
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

func isKnown(err error) bool {
	for _, sentinel := range domainSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

var _ ports.VoteLedger = (*Repository)(nil)
