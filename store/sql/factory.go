package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-eventqueue/core"
)

// RepositoryFactory builds the durable stores from one bun connection and
// hands them out as a bundle.
type RepositoryFactory struct {
	db *bun.DB

	eventStore         *EventStore
	webhookConfigStore *WebhookConfigStore
	webhookLogStore    *WebhookLogStore
	remoteHandlerStore *RemoteHandlerStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.eventStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) EventQueue() core.EventQueue {
	if f == nil {
		return nil
	}
	return f.eventStore
}

func (f *RepositoryFactory) WebhookConfigStore() core.WebhookConfigStore {
	if f == nil {
		return nil
	}
	return f.webhookConfigStore
}

func (f *RepositoryFactory) WebhookLogStore() core.WebhookLogStore {
	if f == nil {
		return nil
	}
	return f.webhookLogStore
}

func (f *RepositoryFactory) RemoteHandlerStore() core.RemoteHandlerStore {
	if f == nil {
		return nil
	}
	return f.remoteHandlerStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	eventStore, err := NewEventStore(f.db)
	if err != nil {
		return err
	}
	f.eventStore = eventStore

	webhookConfigStore, err := NewWebhookConfigStore(f.db)
	if err != nil {
		return err
	}
	f.webhookConfigStore = webhookConfigStore

	webhookLogStore, err := NewWebhookLogStore(f.db)
	if err != nil {
		return err
	}
	f.webhookLogStore = webhookLogStore

	remoteHandlerStore, err := NewRemoteHandlerStore(f.db)
	if err != nil {
		return err
	}
	f.remoteHandlerStore = remoteHandlerStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var (
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
