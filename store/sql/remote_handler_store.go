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

// RemoteHandlerStore maps event types to the HTTP endpoints the dispatcher
// delivers them to. One row per event type; Upsert replaces in place.
type RemoteHandlerStore struct {
	db   *bun.DB
	repo repository.Repository[*remoteHandlerRecord]
}

func NewRemoteHandlerStore(db *bun.DB) (*RemoteHandlerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*remoteHandlerRecord](db, remoteHandlerHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid remote handler repository wiring: %w", err)
		}
	}
	return &RemoteHandlerStore{db: db, repo: repo}, nil
}

func (s *RemoteHandlerStore) Upsert(ctx context.Context, config core.RemoteHandlerConfig) (core.RemoteHandlerConfig, error) {
	if s == nil || s.db == nil {
		return core.RemoteHandlerConfig{}, fmt.Errorf("sqlstore: remote handler store is not configured")
	}
	eventType := strings.TrimSpace(config.EventType)
	if eventType == "" {
		return core.RemoteHandlerConfig{}, fmt.Errorf("sqlstore: remote handler event type is required")
	}
	if strings.TrimSpace(config.HandlerFunction) == "" {
		return core.RemoteHandlerConfig{}, fmt.Errorf("sqlstore: remote handler function is required")
	}
	now := time.Now().UTC()

	var record *remoteHandlerRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &remoteHandlerRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("event_type = ?", eventType).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			record = &remoteHandlerRecord{
				ID:              uuid.NewString(),
				EventType:       eventType,
				HandlerFunction: strings.TrimSpace(config.HandlerFunction),
				IsActive:        config.IsActive,
				MaxRetries:      config.MaxRetries,
				TimeoutSeconds:  config.TimeoutSeconds,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		case err != nil:
			return err
		}

		existing.HandlerFunction = strings.TrimSpace(config.HandlerFunction)
		existing.IsActive = config.IsActive
		existing.MaxRetries = config.MaxRetries
		existing.TimeoutSeconds = config.TimeoutSeconds
		existing.UpdatedAt = now
		record = existing
		_, err = tx.NewUpdate().
			Model(existing).
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return core.RemoteHandlerConfig{}, err
	}
	return remoteHandlerRecordToConfig(record), nil
}

func (s *RemoteHandlerStore) ListActive(ctx context.Context) ([]core.RemoteHandlerConfig, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: remote handler store is not configured")
	}

	var records []remoteHandlerRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("is_active = ?", true).
		Order("event_type ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	configs := make([]core.RemoteHandlerConfig, 0, len(records))
	for i := range records {
		configs = append(configs, remoteHandlerRecordToConfig(&records[i]))
	}
	return configs, nil
}

func remoteHandlerRecordToConfig(record *remoteHandlerRecord) core.RemoteHandlerConfig {
	if record == nil {
		return core.RemoteHandlerConfig{}
	}
	return core.RemoteHandlerConfig{
		ID:              record.ID,
		EventType:       record.EventType,
		HandlerFunction: record.HandlerFunction,
		IsActive:        record.IsActive,
		MaxRetries:      record.MaxRetries,
		TimeoutSeconds:  record.TimeoutSeconds,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

var _ core.RemoteHandlerStore = (*RemoteHandlerStore)(nil)
