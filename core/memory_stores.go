package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type InMemoryWebhookConfigStore struct {
	mu      sync.Mutex
	configs map[string]*WebhookConfig
}

func NewInMemoryWebhookConfigStore() *InMemoryWebhookConfigStore {
	return &InMemoryWebhookConfigStore{configs: map[string]*WebhookConfig{}}
}

func (s *InMemoryWebhookConfigStore) Create(_ context.Context, config WebhookConfig) (WebhookConfig, error) {
	if s == nil {
		return WebhookConfig{}, fmt.Errorf("core: webhook config store is nil")
	}
	if err := config.Validate(); err != nil {
		return WebhookConfig{}, err
	}
	name := strings.TrimSpace(config.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configs[name]; exists {
		return WebhookConfig{}, fmt.Errorf("core: webhook config %q already exists", name)
	}
	now := time.Now().UTC()
	stored := config
	stored.Name = name
	if strings.TrimSpace(stored.ID) == "" {
		stored.ID = uuid.NewString()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.configs[name] = &stored
	return stored, nil
}

func (s *InMemoryWebhookConfigStore) GetActiveByName(_ context.Context, name string) (WebhookConfig, error) {
	if s == nil {
		return WebhookConfig{}, fmt.Errorf("core: webhook config store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	config, ok := s.configs[strings.TrimSpace(name)]
	if !ok || !config.IsActive {
		return WebhookConfig{}, fmt.Errorf("%w: %s", ErrWebhookConfigNotFound, name)
	}
	return *config, nil
}

func (s *InMemoryWebhookConfigStore) RecordReceived(_ context.Context, name string, at time.Time) error {
	return s.record(name, at, true)
}

func (s *InMemoryWebhookConfigStore) RecordFailed(_ context.Context, name string, at time.Time) error {
	return s.record(name, at, false)
}

func (s *InMemoryWebhookConfigStore) record(name string, at time.Time, received bool) error {
	if s == nil {
		return fmt.Errorf("core: webhook config store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	config, ok := s.configs[strings.TrimSpace(name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWebhookConfigNotFound, name)
	}
	if received {
		config.ReceivedCount++
	} else {
		config.FailedCount++
	}
	value := at.UTC()
	config.LastReceivedAt = &value
	config.UpdatedAt = value
	return nil
}

type InMemoryWebhookLogStore struct {
	mu   sync.Mutex
	logs []WebhookLog
}

func NewInMemoryWebhookLogStore() *InMemoryWebhookLogStore {
	return &InMemoryWebhookLogStore{}
}

func (s *InMemoryWebhookLogStore) Append(_ context.Context, log WebhookLog) (WebhookLog, error) {
	if s == nil {
		return WebhookLog{}, fmt.Errorf("core: webhook log store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(log.ID) == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, log)
	return log, nil
}

// Logs returns a snapshot of appended entries, newest last.
func (s *InMemoryWebhookLogStore) Logs() []WebhookLog {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WebhookLog(nil), s.logs...)
}

type InMemoryRemoteHandlerStore struct {
	mu      sync.Mutex
	configs map[string]*RemoteHandlerConfig
}

func NewInMemoryRemoteHandlerStore() *InMemoryRemoteHandlerStore {
	return &InMemoryRemoteHandlerStore{configs: map[string]*RemoteHandlerConfig{}}
}

func (s *InMemoryRemoteHandlerStore) Upsert(_ context.Context, config RemoteHandlerConfig) (RemoteHandlerConfig, error) {
	if s == nil {
		return RemoteHandlerConfig{}, fmt.Errorf("core: remote handler store is nil")
	}
	eventType := strings.TrimSpace(config.EventType)
	if eventType == "" {
		return RemoteHandlerConfig{}, fmt.Errorf("core: remote handler event type is required")
	}
	if strings.TrimSpace(config.HandlerFunction) == "" {
		return RemoteHandlerConfig{}, fmt.Errorf("core: remote handler function is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	stored := config
	stored.EventType = eventType
	stored.UpdatedAt = now
	if existing, ok := s.configs[eventType]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if strings.TrimSpace(stored.ID) == "" {
			stored.ID = uuid.NewString()
		}
		stored.CreatedAt = now
	}
	s.configs[eventType] = &stored
	return stored, nil
}

func (s *InMemoryRemoteHandlerStore) ListActive(_ context.Context) ([]RemoteHandlerConfig, error) {
	if s == nil {
		return nil, fmt.Errorf("core: remote handler store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]RemoteHandlerConfig, 0, len(s.configs))
	for _, config := range s.configs {
		if config.IsActive {
			active = append(active, *config)
		}
	}
	return active, nil
}

var (
	_ WebhookConfigStore = (*InMemoryWebhookConfigStore)(nil)
	_ WebhookLogStore    = (*InMemoryWebhookLogStore)(nil)
	_ RemoteHandlerStore = (*InMemoryRemoteHandlerStore)(nil)
)
