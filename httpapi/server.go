// Package httpapi exposes the webhook ingress and the dispatcher trigger
// over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-eventqueue/core"
	"github.com/goliatone/go-eventqueue/dispatch"
	"github.com/goliatone/go-eventqueue/webhooks"
)

const maxWebhookBodyBytes = 1 << 20

type ServerConfig struct {
	Gateway    *webhooks.Gateway
	Dispatcher *dispatch.Dispatcher
	Logger     core.Logger
}

// Server routes the two external operations: webhook ingress and the
// scheduler-facing dispatch trigger.
type Server struct {
	gateway    *webhooks.Gateway
	dispatcher *dispatch.Dispatcher
	logger     core.Logger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("httpapi: gateway is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("httpapi: dispatcher is required")
	}
	_, logger := glog.Resolve("httpapi", nil, cfg.Logger)
	return &Server{
		gateway:    cfg.Gateway,
		dispatcher: cfg.Dispatcher,
		logger:     glog.Ensure(logger),
	}, nil
}

// Handler returns the route table. Webhook senders get standard HTTP
// semantics so their redelivery logic behaves correctly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook-receiver", s.handleWebhookReceiver)
	mux.HandleFunc("POST /process-events", s.handleProcessEvents)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

type webhookResponse struct {
	Success       bool   `json:"success"`
	WebhookLogID  string `json:"webhook_log_id,omitempty"`
	SystemEventID string `json:"system_event_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type processEventsResponse struct {
	Success bool                 `json:"success"`
	Summary core.DispatchSummary `json:"summary"`
}

func (s *Server) handleWebhookReceiver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "request body read failed"})
		return
	}

	result, err := s.gateway.Handle(r.Context(), core.InboundRequest{
		Method:  r.Method,
		Name:    r.URL.Query().Get("name"),
		Headers: flattenHeader(r.Header),
		Body:    body,
	})
	if err != nil {
		s.renderError(w, r.Context(), err)
		return
	}

	response := webhookResponse{
		Success:       result.Success,
		WebhookLogID:  result.WebhookLogID,
		SystemEventID: result.SystemEventID,
	}
	if !result.Success {
		response.Error = result.Message
	}
	writeJSON(w, result.StatusCode, response)
}

func (s *Server) handleProcessEvents(w http.ResponseWriter, r *http.Request) {
	summary, err := s.dispatcher.Run(r.Context())
	if err != nil {
		s.renderError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, processEventsResponse{
		Success: true,
		Summary: summary,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) renderError(w http.ResponseWriter, ctx context.Context, err error) {
	mapped := core.MapError(err)
	status := http.StatusInternalServerError
	message := "internal error"
	textCode := core.QueueErrorInternal
	if mapped != nil {
		if mapped.Code > 0 {
			status = mapped.Code
		}
		message = mapped.Message
		textCode = mapped.TextCode
	}
	s.logger.WithContext(ctx).Error("request failed", "status", status, "error", err)
	writeJSON(w, status, map[string]any{
		"success": false,
		"error": map[string]any{
			"message":   message,
			"text_code": textCode,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func flattenHeader(header http.Header) map[string]string {
	flattened := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		flattened[key] = values[0]
	}
	return flattened
}
