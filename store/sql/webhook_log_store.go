package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-eventqueue/core"
)

// WebhookLogStore appends audit rows for every named delivery attempt.
type WebhookLogStore struct {
	repo repository.Repository[*webhookLogRecord]
}

func NewWebhookLogStore(db *bun.DB) (*WebhookLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookLogRecord](db, webhookLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook log repository wiring: %w", err)
		}
	}
	return &WebhookLogStore{repo: repo}, nil
}

func (s *WebhookLogStore) Append(ctx context.Context, log core.WebhookLog) (core.WebhookLog, error) {
	if s == nil || s.repo == nil {
		return core.WebhookLog{}, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	if strings.TrimSpace(log.WebhookName) == "" {
		return core.WebhookLog{}, fmt.Errorf("sqlstore: webhook log name is required")
	}

	record := &webhookLogRecord{
		ID:               strings.TrimSpace(log.ID),
		WebhookName:      strings.TrimSpace(log.WebhookName),
		RequestMethod:    strings.TrimSpace(log.RequestMethod),
		RequestHeaders:   copyStringMap(log.RequestHeaders),
		RequestBody:      log.RequestBody,
		Status:           string(log.Status),
		ErrorMessage:     log.ErrorMessage,
		ProcessingTimeMS: log.ProcessingTimeMS,
		CreatedAt:        time.Now().UTC(),
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if trimmed := strings.TrimSpace(log.WebhookID); trimmed != "" {
		record.WebhookID = &trimmed
	}
	if trimmed := strings.TrimSpace(log.SystemEventID); trimmed != "" {
		record.SystemEventID = &trimmed
	}

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.WebhookLog{}, err
	}
	return webhookLogRecordToLog(created), nil
}

func webhookLogRecordToLog(record *webhookLogRecord) core.WebhookLog {
	if record == nil {
		return core.WebhookLog{}
	}
	log := core.WebhookLog{
		ID:               record.ID,
		WebhookName:      record.WebhookName,
		RequestMethod:    record.RequestMethod,
		RequestHeaders:   copyStringMap(record.RequestHeaders),
		RequestBody:      record.RequestBody,
		Status:           core.WebhookLogStatus(record.Status),
		ErrorMessage:     record.ErrorMessage,
		ProcessingTimeMS: record.ProcessingTimeMS,
		CreatedAt:        record.CreatedAt,
	}
	if record.WebhookID != nil {
		log.WebhookID = strings.TrimSpace(*record.WebhookID)
	}
	if record.SystemEventID != nil {
		log.SystemEventID = strings.TrimSpace(*record.SystemEventID)
	}
	return log
}

var _ core.WebhookLogStore = (*WebhookLogStore)(nil)
