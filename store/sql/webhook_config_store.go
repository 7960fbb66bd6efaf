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

type WebhookConfigStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookConfigRecord]
}

func NewWebhookConfigStore(db *bun.DB) (*WebhookConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookConfigRecord](db, webhookConfigHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook config repository wiring: %w", err)
		}
	}
	return &WebhookConfigStore{db: db, repo: repo}, nil
}

func (s *WebhookConfigStore) Create(ctx context.Context, config core.WebhookConfig) (core.WebhookConfig, error) {
	if s == nil || s.repo == nil {
		return core.WebhookConfig{}, fmt.Errorf("sqlstore: webhook config store is not configured")
	}
	if err := config.Validate(); err != nil {
		return core.WebhookConfig{}, err
	}

	now := time.Now().UTC()
	record := &webhookConfigRecord{
		ID:                 strings.TrimSpace(config.ID),
		Name:               strings.TrimSpace(config.Name),
		SecretKey:          config.SecretKey,
		SignatureAlgorithm: strings.TrimSpace(config.SignatureAlgorithm),
		SignatureHeader:    strings.TrimSpace(config.SignatureHeader),
		Provider:           strings.TrimSpace(config.Provider),
		HandlerName:        strings.TrimSpace(config.HandlerName),
		EventTypePrefix:    strings.TrimSpace(config.EventTypePrefix),
		IsActive:           config.IsActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.WebhookConfig{}, err
	}
	return webhookConfigRecordToConfig(created), nil
}

func (s *WebhookConfigStore) GetActiveByName(ctx context.Context, name string) (core.WebhookConfig, error) {
	if s == nil || s.db == nil {
		return core.WebhookConfig{}, fmt.Errorf("sqlstore: webhook config store is not configured")
	}
	name = strings.TrimSpace(name)

	record := &webhookConfigRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("name = ?", name).
		Where("is_active = ?", true).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.WebhookConfig{}, fmt.Errorf("%w: %s", core.ErrWebhookConfigNotFound, name)
	}
	if err != nil {
		return core.WebhookConfig{}, err
	}
	return webhookConfigRecordToConfig(record), nil
}

func (s *WebhookConfigStore) RecordReceived(ctx context.Context, name string, at time.Time) error {
	return s.record(ctx, name, at, "received_count")
}

func (s *WebhookConfigStore) RecordFailed(ctx context.Context, name string, at time.Time) error {
	return s.record(ctx, name, at, "failed_count")
}

func (s *WebhookConfigStore) record(ctx context.Context, name string, at time.Time, counter string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook config store is not configured")
	}
	name = strings.TrimSpace(name)
	value := at.UTC()

	result, err := s.db.NewUpdate().
		Model((*webhookConfigRecord)(nil)).
		Set(counter+" = "+counter+" + 1").
		Set("last_received_at = ?", value).
		Set("updated_at = ?", value).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrWebhookConfigNotFound, name)
	}
	return nil
}

func webhookConfigRecordToConfig(record *webhookConfigRecord) core.WebhookConfig {
	if record == nil {
		return core.WebhookConfig{}
	}
	config := core.WebhookConfig{
		ID:                 record.ID,
		Name:               record.Name,
		SecretKey:          record.SecretKey,
		SignatureAlgorithm: record.SignatureAlgorithm,
		SignatureHeader:    record.SignatureHeader,
		Provider:           record.Provider,
		HandlerName:        record.HandlerName,
		EventTypePrefix:    record.EventTypePrefix,
		IsActive:           record.IsActive,
		ReceivedCount:      record.ReceivedCount,
		FailedCount:        record.FailedCount,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
	if record.LastReceivedAt != nil {
		value := record.LastReceivedAt.UTC()
		config.LastReceivedAt = &value
	}
	return config
}

var _ core.WebhookConfigStore = (*WebhookConfigStore)(nil)
