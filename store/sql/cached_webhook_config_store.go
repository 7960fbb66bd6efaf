package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-eventqueue/core"
)

const webhookConfigCacheKeyPrefix = "go-eventqueue::webhook_config::v1"

// CachedWebhookConfigStore fronts the durable config store with a cache on
// the gateway's hot read path. Counter updates and creates invalidate the
// entry so the next lookup sees fresh state.
type CachedWebhookConfigStore struct {
	base  core.WebhookConfigStore
	cache repositorycache.CacheService
}

func NewCachedWebhookConfigStore(
	base core.WebhookConfigStore,
	cacheService repositorycache.CacheService,
) (*CachedWebhookConfigStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook config store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook config cache service is required")
	}
	return &CachedWebhookConfigStore{base: base, cache: cacheService}, nil
}

// WebhookConfigCacheKey returns the deterministic cache key for webhook
// config reads: go-eventqueue::webhook_config::v1::<name> with the name
// URL-path escaped.
func WebhookConfigCacheKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("sqlstore: webhook name is required")
	}
	return webhookConfigCacheKeyPrefix + "::" + url.PathEscape(name), nil
}

func (s *CachedWebhookConfigStore) Create(ctx context.Context, config core.WebhookConfig) (core.WebhookConfig, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookConfig{}, fmt.Errorf("sqlstore: cached webhook config store is not configured")
	}
	created, err := s.base.Create(ctx, config)
	if err != nil {
		return core.WebhookConfig{}, err
	}
	if err := s.invalidate(ctx, created.Name); err != nil {
		return core.WebhookConfig{}, err
	}
	return created, nil
}

func (s *CachedWebhookConfigStore) GetActiveByName(ctx context.Context, name string) (core.WebhookConfig, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookConfig{}, fmt.Errorf("sqlstore: cached webhook config store is not configured")
	}
	cacheKey, err := WebhookConfigCacheKey(name)
	if err != nil {
		return core.WebhookConfig{}, err
	}

	config, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.WebhookConfig, error) {
		return s.base.GetActiveByName(ctx, name)
	})
	if err != nil {
		return core.WebhookConfig{}, err
	}
	return cloneWebhookConfig(config), nil
}

func (s *CachedWebhookConfigStore) RecordReceived(ctx context.Context, name string, at time.Time) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached webhook config store is not configured")
	}
	if err := s.base.RecordReceived(ctx, name, at); err != nil {
		return err
	}
	return s.invalidate(ctx, name)
}

func (s *CachedWebhookConfigStore) RecordFailed(ctx context.Context, name string, at time.Time) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached webhook config store is not configured")
	}
	if err := s.base.RecordFailed(ctx, name, at); err != nil {
		return err
	}
	return s.invalidate(ctx, name)
}

func (s *CachedWebhookConfigStore) invalidate(ctx context.Context, name string) error {
	cacheKey, err := WebhookConfigCacheKey(name)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneWebhookConfig(config core.WebhookConfig) core.WebhookConfig {
	cloned := config
	if config.LastReceivedAt != nil {
		value := config.LastReceivedAt.UTC()
		cloned.LastReceivedAt = &value
	}
	return cloned
}

var _ core.WebhookConfigStore = (*CachedWebhookConfigStore)(nil)
