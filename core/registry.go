package core

import (
	"fmt"
	"strings"
	"sync"
)

// JobHandlerRegistry maps job-type strings to in-process handlers. It is
// constructed at startup and passed by reference into the dispatcher, so
// tests can substitute fakes. An unmatched key is an explicit miss, never
// an error.
type JobHandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

func NewJobHandlerRegistry() *JobHandlerRegistry {
	return &JobHandlerRegistry{handlers: map[string]JobHandler{}}
}

func (r *JobHandlerRegistry) Register(jobType string, handler JobHandler) error {
	if r == nil {
		return fmt.Errorf("core: job handler registry is nil")
	}
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return fmt.Errorf("core: job type is required")
	}
	if handler == nil {
		return fmt.Errorf("core: job handler is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("core: job handler already registered for %q", jobType)
	}
	r.handlers[jobType] = handler
	return nil
}

func (r *JobHandlerRegistry) Resolve(jobType string) (JobHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[strings.TrimSpace(jobType)]
	return handler, ok
}

func (r *JobHandlerRegistry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for jobType := range r.handlers {
		types = append(types, jobType)
	}
	return types
}

// WebhookHandlerRegistry maps handler names from webhook configs to the
// transform functions that turn a verified delivery into an emit decision.
type WebhookHandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]WebhookHandler
}

func NewWebhookHandlerRegistry() *WebhookHandlerRegistry {
	return &WebhookHandlerRegistry{handlers: map[string]WebhookHandler{}}
}

func (r *WebhookHandlerRegistry) Register(name string, handler WebhookHandler) error {
	if r == nil {
		return fmt.Errorf("core: webhook handler registry is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("core: webhook handler name is required")
	}
	if handler == nil {
		return fmt.Errorf("core: webhook handler is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("core: webhook handler already registered for %q", name)
	}
	r.handlers[name] = handler
	return nil
}

func (r *WebhookHandlerRegistry) Resolve(name string) (WebhookHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[strings.TrimSpace(name)]
	return handler, ok
}
