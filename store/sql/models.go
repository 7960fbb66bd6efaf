package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type eventRecord struct {
	bun.BaseModel `bun:"table:queue_events,alias:qe"`

	ID                  string         `bun:"id,pk"`
	EventType           string         `bun:"event_type,notnull"`
	Payload             map[string]any `bun:"payload,type:jsonb"`
	Status              string         `bun:"status,notnull"`
	Priority            int            `bun:"priority,notnull"`
	ScheduledAt         time.Time      `bun:"scheduled_at,notnull"`
	CreatedAt           time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ProcessedAt         *time.Time     `bun:"processed_at,nullzero"`
	RetryCount          int            `bun:"retry_count,notnull"`
	MaxRetries          int            `bun:"max_retries,notnull"`
	ErrorMessage        string         `bun:"error_message"`
	UserID              string         `bun:"user_id"`
	Progress            int            `bun:"progress,notnull"`
	Result              map[string]any `bun:"result,type:jsonb"`
	ProcessingStartedAt *time.Time     `bun:"processing_started_at,nullzero"`
}

type webhookConfigRecord struct {
	bun.BaseModel `bun:"table:webhook_configs,alias:wc"`

	ID                 string     `bun:"id,pk"`
	Name               string     `bun:"name,notnull,unique"`
	SecretKey          string     `bun:"secret_key,notnull"`
	SignatureAlgorithm string     `bun:"signature_algorithm"`
	SignatureHeader    string     `bun:"signature_header,notnull"`
	Provider           string     `bun:"provider,notnull"`
	HandlerName        string     `bun:"handler_name,notnull"`
	EventTypePrefix    string     `bun:"event_type_prefix"`
	IsActive           bool       `bun:"is_active,notnull"`
	ReceivedCount      int64      `bun:"received_count,notnull"`
	FailedCount        int64      `bun:"failed_count,notnull"`
	LastReceivedAt     *time.Time `bun:"last_received_at,nullzero"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookLogRecord struct {
	bun.BaseModel `bun:"table:webhook_logs,alias:wl"`

	ID               string            `bun:"id,pk"`
	WebhookID        *string           `bun:"webhook_id"`
	WebhookName      string            `bun:"webhook_name,notnull"`
	RequestMethod    string            `bun:"request_method"`
	RequestHeaders   map[string]string `bun:"request_headers,type:jsonb"`
	RequestBody      string            `bun:"request_body"`
	Status           string            `bun:"status,notnull"`
	ErrorMessage     string            `bun:"error_message"`
	ProcessingTimeMS int64             `bun:"processing_time_ms,notnull"`
	SystemEventID    *string           `bun:"system_event_id"`
	CreatedAt        time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type remoteHandlerRecord struct {
	bun.BaseModel `bun:"table:remote_handler_configs,alias:rh"`

	ID              string    `bun:"id,pk"`
	EventType       string    `bun:"event_type,notnull,unique"`
	HandlerFunction string    `bun:"handler_function,notnull"`
	IsActive        bool      `bun:"is_active,notnull"`
	MaxRetries      int       `bun:"max_retries,notnull"`
	TimeoutSeconds  int       `bun:"timeout_seconds,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
