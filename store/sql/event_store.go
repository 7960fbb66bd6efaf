package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-eventqueue/core"
)

// EventStore is the durable queue. Claiming runs as a single conditional
// update so concurrent dispatcher runs never hand the same row to two
// callers; complete/fail/progress guard on the processing status for the
// same reason.
type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
	now  func() time.Time
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *EventStore) Enqueue(ctx context.Context, input core.EnqueueInput) (core.Event, error) {
	if s == nil || s.repo == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	if err := input.Validate(); err != nil {
		return core.Event{}, err
	}

	now := s.now()
	scheduledAt := input.ScheduledAt.UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	maxRetries := input.MaxRetries
	if maxRetries <= 0 {
		maxRetries = core.DefaultMaxRetries
	}

	record := &eventRecord{
		ID:          uuid.NewString(),
		EventType:   strings.TrimSpace(input.EventType),
		Payload:     copyAnyMap(input.Payload),
		Status:      string(core.EventStatusPending),
		Priority:    input.Priority,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		MaxRetries:  maxRetries,
		UserID:      strings.TrimSpace(input.UserID),
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Event{}, err
	}
	return eventRecordToEvent(created), nil
}

func (s *EventStore) ClaimBatch(ctx context.Context, limit int) ([]core.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := s.now()

	var records []eventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM queue_events
	WHERE status = ?
	  AND scheduled_at <= ?
	ORDER BY priority DESC, created_at ASC
	LIMIT ?
)
UPDATE queue_events
SET status = ?, processing_started_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	event_type,
	payload,
	status,
	priority,
	scheduled_at,
	created_at,
	processed_at,
	retry_count,
	max_retries,
	error_message,
	user_id,
	progress,
	result,
	processing_started_at
`
		return tx.NewRaw(
			query,
			string(core.EventStatusPending),
			now,
			limit,
			string(core.EventStatusProcessing),
			now,
			string(core.EventStatusPending),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	events := make([]core.Event, 0, len(records))
	for i := range records {
		events = append(events, eventRecordToEvent(&records[i]))
	}
	return events, nil
}

func (s *EventStore) UpdateProgress(ctx context.Context, eventID string, progress int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("%w: %s", core.ErrEventNotFound, eventID)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	// Progress only moves forward and only while the row is processing.
	_, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("progress = ?", progress).
		Where("id = ?", eventID).
		Where("status = ?", string(core.EventStatusProcessing)).
		Where("progress < ?", progress).
		Exec(ctx)
	return err
}

func (s *EventStore) Complete(ctx context.Context, eventID string, result map[string]any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("%w: %s", core.ErrEventNotFound, eventID)
	}

	update := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(core.EventStatusCompleted)).
		Set("processed_at = ?", s.now()).
		Set("progress = ?", 100).
		Set("error_message = ?", "").
		Where("id = ?", eventID).
		Where("status = ?", string(core.EventStatusProcessing))
	if result != nil {
		update = update.Set("result = ?", bunJSON(result))
	}
	_, err := update.Exec(ctx)
	return err
}

func (s *EventStore) Fail(ctx context.Context, eventID string, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("%w: %s", core.ErrEventNotFound, eventID)
	}
	now := s.now()
	message = strings.TrimSpace(message)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &eventRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("id = ?", eventID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", core.ErrEventNotFound, eventID)
		}
		if err != nil {
			return err
		}
		if record.Status != string(core.EventStatusProcessing) {
			return nil
		}

		retryCount := record.RetryCount + 1
		update := tx.NewUpdate().
			Model((*eventRecord)(nil)).
			Set("retry_count = ?", retryCount).
			Set("error_message = ?", message).
			Where("id = ?", eventID).
			Where("status = ?", string(core.EventStatusProcessing))
		if retryCount < record.MaxRetries {
			update = update.
				Set("status = ?", string(core.EventStatusPending)).
				Set("scheduled_at = ?", now.Add(core.RetryBackoffDelay(retryCount))).
				Set("processing_started_at = NULL").
				Set("progress = ?", 0)
		} else {
			update = update.
				Set("status = ?", string(core.EventStatusFailed)).
				Set("processed_at = ?", now)
		}
		_, err = update.Exec(ctx)
		return err
	})
}

func (s *EventStore) Get(ctx context.Context, eventID string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.Event{}, fmt.Errorf("%w: %s", core.ErrEventNotFound, eventID)
	}

	record := &eventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("id = ?", eventID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Event{}, fmt.Errorf("%w: %s", core.ErrEventNotFound, eventID)
	}
	if err != nil {
		return core.Event{}, err
	}
	return eventRecordToEvent(record), nil
}

func eventRecordToEvent(record *eventRecord) core.Event {
	if record == nil {
		return core.Event{}
	}
	event := core.Event{
		ID:           record.ID,
		EventType:    record.EventType,
		Payload:      copyAnyMap(record.Payload),
		Status:       core.EventStatus(record.Status),
		Priority:     record.Priority,
		ScheduledAt:  record.ScheduledAt,
		CreatedAt:    record.CreatedAt,
		RetryCount:   record.RetryCount,
		MaxRetries:   record.MaxRetries,
		ErrorMessage: record.ErrorMessage,
		UserID:       record.UserID,
		Progress:     record.Progress,
		Result:       copyAnyMap(record.Result),
	}
	if record.ProcessedAt != nil {
		value := record.ProcessedAt.UTC()
		event.ProcessedAt = &value
	}
	if record.ProcessingStartedAt != nil {
		value := record.ProcessingStartedAt.UTC()
		event.ProcessingStartedAt = &value
	}
	return event
}

var _ core.EventQueue = (*EventStore)(nil)
