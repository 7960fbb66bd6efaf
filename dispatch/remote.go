package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-eventqueue/core"
)

// HTTPDoer is the slice of *http.Client the remote caller needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteCaller delivers a claimed event to its configured remote handler.
type RemoteCaller interface {
	Call(ctx context.Context, config core.RemoteHandlerConfig, event core.Event) error
}

type remotePayload struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	UserID    string         `json:"user_id,omitempty"`
}

// HTTPRemoteCaller posts the event envelope to the handler's URL and treats
// any non-2xx answer or a deadline hit as a delivery failure.
type HTTPRemoteCaller struct {
	Client HTTPDoer
}

func NewHTTPRemoteCaller(client HTTPDoer) *HTTPRemoteCaller {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPRemoteCaller{Client: client}
}

func (c *HTTPRemoteCaller) Call(ctx context.Context, config core.RemoteHandlerConfig, event core.Event) error {
	if c == nil || c.Client == nil {
		return fmt.Errorf("dispatch: remote caller is not configured")
	}
	endpoint := strings.TrimSpace(config.HandlerFunction)
	if endpoint == "" {
		return fmt.Errorf("dispatch: remote handler for %q has no endpoint", config.EventType)
	}

	body, err := json.Marshal(remotePayload{
		EventID:   event.ID,
		EventType: event.EventType,
		Payload:   event.Payload,
		UserID:    event.UserID,
	})
	if err != nil {
		return fmt.Errorf("dispatch: encode remote payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, config.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: build remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: remote call to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf(
			"dispatch: remote handler %s answered %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(detail)),
		)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

var _ RemoteCaller = (*HTTPRemoteCaller)(nil)
