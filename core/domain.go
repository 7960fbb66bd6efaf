package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidEventStatusTransition = errors.New("core: invalid event status transition")
	ErrEventNotFound                = errors.New("core: event not found")
	ErrWebhookConfigNotFound        = errors.New("core: webhook config not found")
	ErrHandlerNotRegistered         = errors.New("core: handler not registered")
)

// JobTypePrefix marks an event as a trackable job executed in process.
const JobTypePrefix = "job:"

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
	EventStatusCancelled  EventStatus = "cancelled"
)

// Event is one queued unit of work. Rows are append-only; the queue
// mutates status, retry bookkeeping, progress, and result in place but
// never deletes, so the table doubles as an audit log.
type Event struct {
	ID                  string
	EventType           string
	Payload             map[string]any
	Status              EventStatus
	Priority            int
	ScheduledAt         time.Time
	CreatedAt           time.Time
	ProcessedAt         *time.Time
	RetryCount          int
	MaxRetries          int
	ErrorMessage        string
	UserID              string
	Progress            int
	Result              map[string]any
	ProcessingStartedAt *time.Time
}

// IsJob reports whether the event routes to an in-process job handler.
func (e Event) IsJob() bool {
	return strings.HasPrefix(strings.TrimSpace(e.EventType), JobTypePrefix)
}

// JobType returns the job handler key, the event type without its prefix.
func (e Event) JobType() string {
	return strings.TrimPrefix(strings.TrimSpace(e.EventType), JobTypePrefix)
}

func (e *Event) TransitionTo(status EventStatus, now time.Time) error {
	if e == nil {
		return nil
	}
	if e.Status == status {
		return nil
	}
	if !eventTransitionAllowed(e.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidEventStatusTransition, e.Status, status)
	}
	e.Status = status
	switch status {
	case EventStatusProcessing:
		started := now.UTC()
		e.ProcessingStartedAt = &started
	case EventStatusCompleted, EventStatusFailed:
		processed := now.UTC()
		e.ProcessedAt = &processed
	}
	return nil
}

func eventTransitionAllowed(from EventStatus, to EventStatus) bool {
	switch from {
	case EventStatusPending:
		return to == EventStatusProcessing || to == EventStatusCancelled
	case EventStatusProcessing:
		// A retryable failure re-queues the row instead of terminating it.
		return to == EventStatusCompleted || to == EventStatusFailed || to == EventStatusPending
	default:
		return false
	}
}

// EnqueueInput describes a new event for the queue. Zero ScheduledAt means
// claimable immediately; zero MaxRetries takes the queue default.
type EnqueueInput struct {
	EventType   string
	Payload     map[string]any
	Priority    int
	ScheduledAt time.Time
	MaxRetries  int
	UserID      string
}

func (i EnqueueInput) Validate() error {
	if strings.TrimSpace(i.EventType) == "" {
		return fmt.Errorf("core: event type is required")
	}
	return nil
}

// DefaultMaxRetries bounds retry loops for events that do not set their own.
const DefaultMaxRetries = 3

type WebhookConfig struct {
	ID                 string
	Name               string
	SecretKey          string
	SignatureAlgorithm string
	SignatureHeader    string
	Provider           string
	HandlerName        string
	EventTypePrefix    string
	IsActive           bool
	ReceivedCount      int64
	FailedCount        int64
	LastReceivedAt     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (c WebhookConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("core: webhook name is required")
	}
	if strings.TrimSpace(c.HandlerName) == "" {
		return fmt.Errorf("core: webhook handler name is required")
	}
	return nil
}

type WebhookLogStatus string

const (
	WebhookLogStatusSuccess         WebhookLogStatus = "success"
	WebhookLogStatusNotFound        WebhookLogStatus = "not_found"
	WebhookLogStatusSignatureFailed WebhookLogStatus = "signature_failed"
	WebhookLogStatusHandlerFailed   WebhookLogStatus = "handler_failed"
)

// WebhookLog records every named delivery attempt, including ones that
// never produced an event, so rejected and misconfigured calls stay
// auditable.
type WebhookLog struct {
	ID               string
	WebhookID        string
	WebhookName      string
	RequestMethod    string
	RequestHeaders   map[string]string
	RequestBody      string
	Status           WebhookLogStatus
	ErrorMessage     string
	ProcessingTimeMS int64
	SystemEventID    string
	CreatedAt        time.Time
}

type RemoteHandlerConfig struct {
	ID              string
	EventType       string
	HandlerFunction string
	IsActive        bool
	MaxRetries      int
	TimeoutSeconds  int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Timeout returns the outbound call deadline for this handler.
func (c RemoteHandlerConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmitDecision is returned by a webhook handler to control event creation.
// The zero value emits an event named after the handler with the inbound
// payload at priority 0; Skip suppresses creation entirely.
type EmitDecision struct {
	Skip      bool
	EventName string
	Payload   map[string]any
	Priority  int
}

// InboundRequest carries one raw gateway delivery.
type InboundRequest struct {
	Method  string
	Name    string
	Headers map[string]string
	Body    []byte
}

// DispatchDetail is the per-item outcome of one dispatcher run.
type DispatchDetail struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Status    EventStatus `json:"status"`
	Handler   string      `json:"handler,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type DispatchSummary struct {
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Details   []DispatchDetail `json:"details"`
}
