package postgresadapter

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	"hangout/contexts/hangout-planning/consensus-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates every table the engine owns, plus the roster
// table it reads, so a fresh database can serve local runs.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(
		&pollModel{},
		&voteModel{},
		&participantModel{},
		&rsvpModel{},
		&idempotencyModel{},
		&outboxModel{},
	); err != nil {
		return r.logError("consensus_repo_migrate_failed", err)
	}
	return nil
}

func (r *Repository) CreatePoll(ctx context.Context, poll entities.Poll, event *ports.EventEnvelope) error {
	row := pollModelFromEntity(poll)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return r.logError("consensus_repo_create_poll_failed", err,
				"poll_id", row.ID,
				"hangout_id", row.HangoutID,
			)
		}
		return r.appendOutboxTx(tx, event)
	})
	return classify(err)
}

func (r *Repository) GetPoll(ctx context.Context, pollID string) (entities.Poll, error) {
	var row pollModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(pollID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, domainerrors.ErrPollNotFound
		}
		return entities.Poll{}, classify(r.logError("consensus_repo_get_poll_failed", err, "poll_id", strings.TrimSpace(pollID)))
	}
	return row.toEntity(), nil
}

func (r *Repository) GetPollByHangout(ctx context.Context, hangoutID string) (entities.Poll, error) {
	var row pollModel
	err := r.db.WithContext(ctx).
		Where("hangout_id = ?", strings.TrimSpace(hangoutID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, domainerrors.ErrPollNotFound
		}
		return entities.Poll{}, classify(r.logError("consensus_repo_get_poll_by_hangout_failed", err,
			"hangout_id", strings.TrimSpace(hangoutID),
		))
	}
	return row.toEntity(), nil
}

func (r *Repository) TransitionStatus(ctx context.Context, transition ports.StatusTransition) (bool, error) {
	pollID := strings.TrimSpace(transition.PollID)
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&pollModel{}).
			Where("id = ?", pollID).
			Where("status IN ?", statusStrings(transition.From)).
			Updates(map[string]any{
				"status":     string(transition.To),
				"updated_at": transition.At.UTC(),
			})
		if update.Error != nil {
			return r.logError("consensus_repo_transition_status_failed", update.Error,
				"poll_id", pollID,
				"to", string(transition.To),
			)
		}
		if update.RowsAffected == 0 {
			return r.ensurePollExists(tx, pollID)
		}
		applied = true
		return r.appendOutboxTx(tx, transition.Event)
	})
	if err != nil {
		return false, classify(err)
	}
	return applied, nil
}

func (r *Repository) AppendOption(ctx context.Context, request ports.OptionAppend) (bool, error) {
	pollID := strings.TrimSpace(request.PollID)
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row pollModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", pollID).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrPollNotFound
			}
			return r.logError("consensus_repo_append_option_load_failed", err, "poll_id", pollID)
		}
		poll := row.toEntity()
		if !statusIn(poll.Status, request.From) {
			return nil
		}
		option := request.Option
		option.OptionID = strings.TrimSpace(option.OptionID)
		if _, exists := poll.FindOption(option.OptionID); exists {
			return domainerrors.ErrConflict
		}
		option.Position = poll.NextOptionPosition()
		options := append(poll.Options, option)
		if err := tx.Model(&pollModel{}).
			Where("id = ?", pollID).
			Updates(map[string]any{
				"options":    optionDocuments(options),
				"updated_at": request.At.UTC(),
			}).Error; err != nil {
			return r.logError("consensus_repo_append_option_failed", err,
				"poll_id", pollID,
				"option_id", option.OptionID,
			)
		}
		applied = true
		return r.appendOutboxTx(tx, request.Event)
	})
	if err != nil {
		return false, classify(err)
	}
	return applied, nil
}

// FinalizePoll flips an active poll to consensus_reached with a conditional
// update. Exactly one caller observes a changed row; every other caller gets
// false and must re-read the stored winner.
func (r *Repository) FinalizePoll(ctx context.Context, request ports.FinalizeRequest) (bool, error) {
	pollID := strings.TrimSpace(request.PollID)
	winnerID := strings.TrimSpace(request.WinnerID)
	finalizedAt := request.FinalizedAt.UTC()
	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&pollModel{}).
			Where("id = ?", pollID).
			Where("status = ?", string(entities.PollStatusActive)).
			Updates(map[string]any{
				"status":            string(entities.PollStatusConsensusReached),
				"winning_option_id": winnerID,
				"finalized_at":      finalizedAt,
				"updated_at":        finalizedAt,
			})
		if update.Error != nil {
			return r.logError("consensus_repo_finalize_update_failed", update.Error,
				"poll_id", pollID,
				"winning_option_id", winnerID,
			)
		}
		if update.RowsAffected != 1 {
			return r.ensurePollExists(tx, pollID)
		}

		var row pollModel
		if err := tx.Where("id = ?", pollID).First(&row).Error; err != nil {
			return r.logError("consensus_repo_finalize_reload_failed", err, "poll_id", pollID)
		}
		var kept, archived []entities.Option
		for _, option := range row.toEntity().Options {
			if option.OptionID == winnerID {
				kept = append(kept, option)
				continue
			}
			archived = append(archived, option)
		}
		if len(kept) != 1 {
			return domainerrors.ErrOptionNotFound
		}
		archived = append(row.toEntity().ArchivedOptions, archived...)
		if err := tx.Model(&pollModel{}).
			Where("id = ?", pollID).
			Updates(map[string]any{
				"options":          optionDocuments(kept),
				"archived_options": optionDocuments(archived),
			}).Error; err != nil {
			return r.logError("consensus_repo_finalize_narrow_failed", err, "poll_id", pollID)
		}
		if err := r.appendOutboxTx(tx, request.Event); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, classify(err)
	}
	return won, nil
}

func (r *Repository) ListPollsByStatus(
	ctx context.Context,
	statuses []entities.PollStatus,
	after ports.PageKey,
	limit int,
) ([]entities.Poll, error) {
	tx := r.db.WithContext(ctx).Model(&pollModel{})
	if len(statuses) > 0 {
		tx = tx.Where("status IN ?", statusStrings(statuses))
	}
	if !after.IsZero() {
		tx = tx.Where("(created_at, id) > (?, ?)", after.At.UTC(), after.PollID)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []pollModel
	if err := tx.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, classify(r.logError("consensus_repo_list_polls_by_status_failed", err, "limit", limit))
	}
	return toPollEntities(rows), nil
}

func (r *Repository) ListFinalizedSince(
	ctx context.Context,
	since time.Time,
	after ports.PageKey,
	limit int,
) ([]entities.Poll, error) {
	tx := r.db.WithContext(ctx).
		Model(&pollModel{}).
		Where("status = ?", string(entities.PollStatusConsensusReached)).
		Where("finalized_at >= ?", since.UTC())
	if !after.IsZero() {
		tx = tx.Where("(finalized_at, id) > (?, ?)", after.At.UTC(), after.PollID)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []pollModel
	if err := tx.Order("finalized_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, classify(r.logError("consensus_repo_list_finalized_since_failed", err,
			"since", since.UTC(),
			"limit", limit,
		))
	}
	return toPollEntities(rows), nil
}

func (r *Repository) ListParticipants(ctx context.Context, hangoutID string) ([]entities.Participant, error) {
	var rows []participantModel
	if err := r.db.WithContext(ctx).
		Where("hangout_id = ?", strings.TrimSpace(hangoutID)).
		Order("user_id ASC").
		Find(&rows).Error; err != nil {
		return nil, classify(r.logError("consensus_repo_list_participants_failed", err,
			"hangout_id", strings.TrimSpace(hangoutID),
		))
	}
	items := make([]entities.Participant, 0, len(rows))
	for _, row := range rows {
		items = append(items, entities.Participant{
			HangoutID:   row.HangoutID,
			UserID:      row.UserID,
			IsMandatory: row.IsMandatory,
		})
	}
	return items, nil
}

func (r *Repository) InsertMissingRSVPs(ctx context.Context, rsvps []entities.RSVP) (int, error) {
	if len(rsvps) == 0 {
		return 0, nil
	}
	rows := make([]rsvpModel, 0, len(rsvps))
	for _, rsvp := range rsvps {
		row := rsvpModel{
			ID:        strings.TrimSpace(rsvp.RSVPID),
			HangoutID: strings.TrimSpace(rsvp.HangoutID),
			UserID:    strings.TrimSpace(rsvp.UserID),
			Status:    string(rsvp.Status),
			CreatedAt: rsvp.CreatedAt.UTC(),
		}
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.Status == "" {
			row.Status = string(entities.RSVPStatusPending)
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		rows = append(rows, row)
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hangout_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&rows)
	if create.Error != nil {
		return 0, classify(r.logError("consensus_repo_insert_rsvps_failed", create.Error,
			"hangout_id", rows[0].HangoutID,
			"rows", len(rows),
		))
	}
	return int(create.RowsAffected), nil
}

func (r *Repository) ListRSVPs(ctx context.Context, hangoutID string) ([]entities.RSVP, error) {
	var rows []rsvpModel
	if err := r.db.WithContext(ctx).
		Where("hangout_id = ?", strings.TrimSpace(hangoutID)).
		Order("user_id ASC").
		Find(&rows).Error; err != nil {
		return nil, classify(r.logError("consensus_repo_list_rsvps_failed", err,
			"hangout_id", strings.TrimSpace(hangoutID),
		))
	}
	items := make([]entities.RSVP, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) Get(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, classify(r.logError("consensus_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		))
	}
	if !now.UTC().Before(row.ExpiresAt.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, classify(r.logError("consensus_repo_idempotency_expire_delete_failed", err,
				"idempotency_key", strings.TrimSpace(key),
			))
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return ports.IdempotencyRecord{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		Response:    append([]byte(nil), row.Response...),
		ExpiresAt:   row.ExpiresAt.UTC(),
	}, true, nil
}

func (r *Repository) Put(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:         strings.TrimSpace(record.Key),
		RequestHash: strings.TrimSpace(record.RequestHash),
		Response:    append([]byte(nil), record.Response...),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return classify(r.logError("consensus_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key))
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return classify(r.logError("consensus_repo_idempotency_load_existing_failed", err, "idempotency_key", row.Key))
	}
	if existing.RequestHash != row.RequestHash {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	return classify(r.appendOutboxTx(r.db.WithContext(ctx), &envelope))
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, classify(r.logError("consensus_repo_list_pending_outbox_failed", err, "limit", limit))
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return classify(r.logError("consensus_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		))
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

// appendOutboxTx writes the envelope through tx so it commits or rolls back
// with the state change that produced it. A nil envelope is a no-op.
func (r *Repository) appendOutboxTx(tx *gorm.DB, envelope *ports.EventEnvelope) error {
	if envelope == nil {
		return nil
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("consensus_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("consensus_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := tx.Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("consensus_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ensurePollExists(tx *gorm.DB, pollID string) error {
	var count int64
	if err := tx.Model(&pollModel{}).Where("id = ?", pollID).Count(&count).Error; err != nil {
		return r.logError("consensus_repo_poll_exists_failed", err, "poll_id", pollID)
	}
	if count == 0 {
		return domainerrors.ErrPollNotFound
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "hangout-planning/consensus-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("consensus repository operation failed", fields...)
	return err
}

func toPollEntities(rows []pollModel) []entities.Poll {
	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

func statusStrings(statuses []entities.PollStatus) []string {
	items := make([]string, 0, len(statuses))
	for _, status := range statuses {
		items = append(items, string(status))
	}
	return items
}

func statusIn(status entities.PollStatus, candidates []entities.PollStatus) bool {
	for _, candidate := range candidates {
		if candidate == status {
			return true
		}
	}
	return false
}

var domainSentinels = []error{
	domainerrors.ErrPollNotFound,
	domainerrors.ErrPollNotActive,
	domainerrors.ErrMultipleVotesDisallowed,
	domainerrors.ErrOptionNotFound,
	domainerrors.ErrIdempotencyConflict,
	domainerrors.ErrConflict,
	domainerrors.ErrStorageUnavailable,
}

// classify leaves domain errors untouched and reports connectivity,
// serialization and deadlock failures as ErrStorageUnavailable so callers can
// retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isKnown(err) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", domainerrors.ErrStorageUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "08"):
		return true
	case pgErr.Code == "40001", pgErr.Code == "40P01":
		return true
	case pgErr.Code == "53300", pgErr.Code == "57P01", pgErr.Code == "57P03":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.PollRepository = (*Repository)(nil)
var _ ports.RosterReader = (*Repository)(nil)
var _ ports.RSVPRepository = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
