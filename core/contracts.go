package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// EventQueue is the single shared mutable resource of the system. All
// status mutation goes through ClaimBatch/Complete/Fail so that concurrent
// dispatcher runs cannot double-claim or lose updates.
type EventQueue interface {
	Enqueue(ctx context.Context, input EnqueueInput) (Event, error)
	// ClaimBatch atomically moves up to limit due pending events to
	// processing, ordered by (priority DESC, created_at ASC). No event is
	// ever returned to two concurrent callers.
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	// UpdateProgress clamps to [0,100] and is a no-op unless the event is
	// processing; progress never decreases.
	UpdateProgress(ctx context.Context, eventID string, progress int) error
	// Complete marks the event completed with processed_at and progress
	// 100, storing result. Completing twice is idempotent.
	Complete(ctx context.Context, eventID string, result map[string]any) error
	// Fail increments retry_count and either re-queues with an exponential
	// backoff delay or, once retries are exhausted, marks the event failed
	// terminally with message.
	Fail(ctx context.Context, eventID string, message string) error
	Get(ctx context.Context, eventID string) (Event, error)
}

type WebhookConfigStore interface {
	Create(ctx context.Context, config WebhookConfig) (WebhookConfig, error)
	// GetActiveByName returns ErrWebhookConfigNotFound for unknown or
	// inactive names; callers treat both the same way.
	GetActiveByName(ctx context.Context, name string) (WebhookConfig, error)
	RecordReceived(ctx context.Context, name string, at time.Time) error
	RecordFailed(ctx context.Context, name string, at time.Time) error
}

type WebhookLogStore interface {
	Append(ctx context.Context, log WebhookLog) (WebhookLog, error)
}

type RemoteHandlerStore interface {
	Upsert(ctx context.Context, config RemoteHandlerConfig) (RemoteHandlerConfig, error)
	ListActive(ctx context.Context) ([]RemoteHandlerConfig, error)
}

// WebhookContext is handed to a webhook handler alongside the parsed
// payload. DB carries application-scoped persistence access; handlers may
// perform their own side effects before returning an emit decision.
type WebhookContext struct {
	Config  WebhookConfig
	Request InboundRequest
	DB      any
}

type WebhookHandler interface {
	Handle(ctx context.Context, payload map[string]any, whctx WebhookContext) (EmitDecision, error)
}

type WebhookHandlerFunc func(ctx context.Context, payload map[string]any, whctx WebhookContext) (EmitDecision, error)

func (f WebhookHandlerFunc) Handle(ctx context.Context, payload map[string]any, whctx WebhookContext) (EmitDecision, error) {
	return f(ctx, payload, whctx)
}

// JobContext exposes job-scoped capabilities to an in-process handler.
// A retry re-invokes the handler from scratch with no partial resume, so
// handlers with external side effects must guard against duplicate effects
// themselves, e.g. with an idempotency key check.
type JobContext struct {
	JobID          string
	DB             any
	UpdateProgress func(ctx context.Context, progress int) error
}

type JobHandler interface {
	Execute(ctx context.Context, payload map[string]any, job JobContext) (map[string]any, error)
}

type JobHandlerFunc func(ctx context.Context, payload map[string]any, job JobContext) (map[string]any, error)

func (f JobHandlerFunc) Execute(ctx context.Context, payload map[string]any, job JobContext) (map[string]any, error) {
	return f(ctx, payload, job)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// StoreProvider is implemented by persistence factories that hand out the
// queue's stores as one bundle.
type StoreProvider interface {
	EventQueue() EventQueue
	WebhookConfigStore() WebhookConfigStore
	WebhookLogStore() WebhookLogStore
	RemoteHandlerStore() RemoteHandlerStore
}

// RepositoryStoreFactory builds a StoreProvider from a persistence client.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}
