package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-eventqueue/core"
)

// GatewayResult is the outcome of one inbound delivery. StatusCode is the
// HTTP status the transport should answer with; SystemEventID is empty when
// no event was created.
type GatewayResult struct {
	StatusCode    int
	Success       bool
	WebhookLogID  string
	SystemEventID string
	Message       string
}

// GatewayConfig wires the gateway's collaborators. Configs, Logs, Handlers,
// and Queue are required; the rest default to safe no-ops.
type GatewayConfig struct {
	Configs  core.WebhookConfigStore
	Logs     core.WebhookLogStore
	Handlers *core.WebhookHandlerRegistry
	Queue    core.EventQueue
	Verifier Verifier
	DB       any
	Logger   core.Logger
	Metrics  core.MetricsRecorder
	Now      func() time.Time
}

// Gateway receives raw webhook deliveries, verifies their signatures,
// invokes the configured handler, and inserts the resulting event. Every
// attempt against a known name produces a webhook log row.
type Gateway struct {
	configs  core.WebhookConfigStore
	logs     core.WebhookLogStore
	handlers *core.WebhookHandlerRegistry
	queue    core.EventQueue
	verifier Verifier
	db       any
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Configs == nil {
		return nil, fmt.Errorf("webhooks: config store is required")
	}
	if cfg.Logs == nil {
		return nil, fmt.Errorf("webhooks: log store is required")
	}
	if cfg.Handlers == nil {
		return nil, fmt.Errorf("webhooks: handler registry is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("webhooks: event queue is required")
	}

	_, logger := glog.Resolve("webhook-gateway", nil, cfg.Logger)
	gateway := &Gateway{
		configs:  cfg.Configs,
		logs:     cfg.Logs,
		handlers: cfg.Handlers,
		queue:    cfg.Queue,
		verifier: cfg.Verifier,
		db:       cfg.DB,
		logger:   glog.Ensure(logger),
		metrics:  core.EnsureMetrics(cfg.Metrics),
		now:      cfg.Now,
	}
	if gateway.verifier == nil {
		gateway.verifier = SignatureVerifier{}
	}
	if gateway.now == nil {
		gateway.now = time.Now
	}
	return gateway, nil
}

// Handle runs the full ingress flow for one delivery. The returned error is
// reserved for infrastructure failures; rejected deliveries come back as a
// non-success result with the matching status code.
func (g *Gateway) Handle(ctx context.Context, req core.InboundRequest) (GatewayResult, error) {
	startedAt := g.now().UTC()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		// Nothing to attach a log row to.
		return GatewayResult{
			StatusCode: http.StatusBadRequest,
			Message:    "webhook name is required",
		}, nil
	}

	config, err := g.configs.GetActiveByName(ctx, name)
	if err != nil {
		result := GatewayResult{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("webhook %q not found", name),
		}
		result.WebhookLogID = g.appendLog(ctx, core.WebhookLog{
			WebhookName:  name,
			Status:       core.WebhookLogStatusNotFound,
			ErrorMessage: result.Message,
		}, req, startedAt)
		g.observe(ctx, startedAt, name, string(core.WebhookLogStatusNotFound), core.ErrWebhookConfigNotFound)
		return result, nil
	}

	signature := headerValue(req.Headers, config.SignatureHeader)
	if !g.verifier.Verify(req.Body, signature, config.SecretKey, config.SignatureAlgorithm, config.Provider) {
		result := GatewayResult{
			StatusCode: http.StatusUnauthorized,
			Message:    "signature verification failed",
		}
		result.WebhookLogID = g.appendLog(ctx, core.WebhookLog{
			WebhookID:    config.ID,
			WebhookName:  name,
			Status:       core.WebhookLogStatusSignatureFailed,
			ErrorMessage: result.Message,
		}, req, startedAt)
		g.recordFailed(ctx, name)
		g.observe(ctx, startedAt, name, string(core.WebhookLogStatusSignatureFailed), fmt.Errorf("signature verification failed"))
		return result, nil
	}

	handler, ok := g.handlers.Resolve(config.HandlerName)
	if !ok {
		// Configuration defect, not a caller error; failed_count stays
		// untouched so it keeps measuring delivery failures.
		result := GatewayResult{
			StatusCode: http.StatusInternalServerError,
			Message:    fmt.Sprintf("handler %q is not registered", config.HandlerName),
		}
		result.WebhookLogID = g.appendLog(ctx, core.WebhookLog{
			WebhookID:    config.ID,
			WebhookName:  name,
			Status:       core.WebhookLogStatusHandlerFailed,
			ErrorMessage: result.Message,
		}, req, startedAt)
		g.observe(ctx, startedAt, name, string(core.WebhookLogStatusHandlerFailed), core.ErrHandlerNotRegistered)
		return result, nil
	}

	payload, err := parsePayload(req.Body)
	if err == nil {
		var decision core.EmitDecision
		decision, err = g.invokeHandler(ctx, handler, payload, config, req)
		if err == nil {
			return g.finishDelivery(ctx, config, decision, payload, req, startedAt)
		}
	}

	result := GatewayResult{
		StatusCode: http.StatusInternalServerError,
		Message:    err.Error(),
	}
	result.WebhookLogID = g.appendLog(ctx, core.WebhookLog{
		WebhookID:    config.ID,
		WebhookName:  name,
		Status:       core.WebhookLogStatusHandlerFailed,
		ErrorMessage: err.Error(),
	}, req, startedAt)
	g.recordFailed(ctx, name)
	g.observe(ctx, startedAt, name, string(core.WebhookLogStatusHandlerFailed), err)
	return result, nil
}

func (g *Gateway) finishDelivery(
	ctx context.Context,
	config core.WebhookConfig,
	decision core.EmitDecision,
	payload map[string]any,
	req core.InboundRequest,
	startedAt time.Time,
) (GatewayResult, error) {
	result := GatewayResult{
		StatusCode: http.StatusOK,
		Success:    true,
	}

	if !decision.Skip {
		eventPayload := decision.Payload
		if eventPayload == nil {
			eventPayload = payload
		}
		event, err := g.queue.Enqueue(ctx, core.EnqueueInput{
			EventType: eventType(config, decision),
			Payload:   eventPayload,
			Priority:  decision.Priority,
		})
		if err != nil {
			reject := GatewayResult{
				StatusCode: http.StatusInternalServerError,
				Message:    err.Error(),
			}
			reject.WebhookLogID = g.appendLog(ctx, core.WebhookLog{
				WebhookID:    config.ID,
				WebhookName:  config.Name,
				Status:       core.WebhookLogStatusHandlerFailed,
				ErrorMessage: err.Error(),
			}, req, startedAt)
			g.recordFailed(ctx, config.Name)
			g.observe(ctx, startedAt, config.Name, string(core.WebhookLogStatusHandlerFailed), err)
			return reject, nil
		}
		result.SystemEventID = event.ID
	}

	result.WebhookLogID = g.appendLog(ctx, core.WebhookLog{
		WebhookID:     config.ID,
		WebhookName:   config.Name,
		Status:        core.WebhookLogStatusSuccess,
		SystemEventID: result.SystemEventID,
	}, req, startedAt)

	if err := g.configs.RecordReceived(ctx, config.Name, g.now().UTC()); err != nil {
		g.logger.Error("record received failed", "webhook_name", config.Name, "error", err)
	}
	g.observe(ctx, startedAt, config.Name, string(core.WebhookLogStatusSuccess), nil)
	return result, nil
}

func (g *Gateway) invokeHandler(
	ctx context.Context,
	handler core.WebhookHandler,
	payload map[string]any,
	config core.WebhookConfig,
	req core.InboundRequest,
) (decision core.EmitDecision, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("webhooks: handler %q panicked: %v", config.HandlerName, recovered)
		}
	}()
	return handler.Handle(ctx, payload, core.WebhookContext{
		Config:  config,
		Request: req,
		DB:      g.db,
	})
}

// appendLog never fails the delivery; a lost audit row is logged and the
// caller proceeds with an empty log id.
func (g *Gateway) appendLog(ctx context.Context, entry core.WebhookLog, req core.InboundRequest, startedAt time.Time) string {
	entry.RequestMethod = req.Method
	entry.RequestHeaders = req.Headers
	entry.RequestBody = string(req.Body)
	entry.ProcessingTimeMS = g.now().UTC().Sub(startedAt).Milliseconds()

	saved, err := g.logs.Append(ctx, entry)
	if err != nil {
		g.logger.Error("webhook log append failed",
			"webhook_name", entry.WebhookName,
			"status", string(entry.Status),
			"error", err,
		)
		return ""
	}
	return saved.ID
}

func (g *Gateway) recordFailed(ctx context.Context, name string) {
	if err := g.configs.RecordFailed(ctx, name, g.now().UTC()); err != nil {
		g.logger.Error("record failed delivery failed", "webhook_name", name, "error", err)
	}
}

func (g *Gateway) observe(ctx context.Context, startedAt time.Time, name string, outcome string, err error) {
	core.ObserveOperation(ctx, g.logger, g.metrics, startedAt, "webhook_receive", err, map[string]any{
		"webhook_name": name,
		"outcome":      outcome,
	})
}

func eventType(config core.WebhookConfig, decision core.EmitDecision) string {
	name := strings.TrimSpace(decision.EventName)
	if name == "" {
		name = strings.TrimSpace(config.HandlerName)
	}
	prefix := strings.TrimSpace(config.EventTypePrefix)
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}

func parsePayload(body []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}, nil
	}
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("webhooks: invalid payload: %w", err)
	}
	return payload, nil
}

func headerValue(headers map[string]string, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || len(headers) == 0 {
		return ""
	}
	if value, ok := headers[name]; ok {
		return value
	}
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}
