package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryEventQueue implements EventQueue behind a mutex. It backs tests
// and embedded deployments; durable installs use the bun-backed store.
type InMemoryEventQueue struct {
	mu     sync.Mutex
	events map[string]*Event
	seq    int
	Now    func() time.Time
}

func NewInMemoryEventQueue() *InMemoryEventQueue {
	return &InMemoryEventQueue{
		events: map[string]*Event{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (q *InMemoryEventQueue) Enqueue(_ context.Context, input EnqueueInput) (Event, error) {
	if q == nil {
		return Event{}, fmt.Errorf("core: event queue is nil")
	}
	if err := input.Validate(); err != nil {
		return Event{}, err
	}

	now := q.now()
	scheduledAt := input.ScheduledAt.UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	maxRetries := input.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	event := &Event{
		ID:          uuid.NewString(),
		EventType:   strings.TrimSpace(input.EventType),
		Payload:     copyAnyMap(input.Payload),
		Status:      EventStatusPending,
		Priority:    input.Priority,
		ScheduledAt: scheduledAt,
		// Bump by the insert sequence so same-instant rows keep a stable
		// claim order.
		CreatedAt:  now.Add(time.Duration(q.seq) * time.Nanosecond),
		MaxRetries: maxRetries,
		UserID:     strings.TrimSpace(input.UserID),
	}
	q.events[event.ID] = event
	return cloneEvent(event), nil
}

func (q *InMemoryEventQueue) ClaimBatch(_ context.Context, limit int) ([]Event, error) {
	if q == nil {
		return nil, fmt.Errorf("core: event queue is nil")
	}
	if limit <= 0 {
		limit = 1
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]*Event, 0, limit)
	for _, event := range q.events {
		if event.Status == EventStatusPending && !event.ScheduledAt.After(now) {
			due = append(due, event)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Event, 0, len(due))
	for _, event := range due {
		if err := event.TransitionTo(EventStatusProcessing, now); err != nil {
			return nil, err
		}
		claimed = append(claimed, cloneEvent(event))
	}
	return claimed, nil
}

func (q *InMemoryEventQueue) UpdateProgress(_ context.Context, eventID string, progress int) error {
	if q == nil {
		return fmt.Errorf("core: event queue is nil")
	}
	progress = clampProgress(progress)

	q.mu.Lock()
	defer q.mu.Unlock()
	event, ok := q.events[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if event.Status != EventStatusProcessing {
		return nil
	}
	if progress > event.Progress {
		event.Progress = progress
	}
	return nil
}

func (q *InMemoryEventQueue) Complete(_ context.Context, eventID string, result map[string]any) error {
	if q == nil {
		return fmt.Errorf("core: event queue is nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	event, ok := q.events[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if event.Status != EventStatusProcessing {
		// Completing twice is a no-op; the first outcome stands.
		return nil
	}
	if err := event.TransitionTo(EventStatusCompleted, q.now()); err != nil {
		return err
	}
	event.Progress = 100
	event.ErrorMessage = ""
	if result != nil {
		event.Result = copyAnyMap(result)
	}
	return nil
}

func (q *InMemoryEventQueue) Fail(_ context.Context, eventID string, message string) error {
	if q == nil {
		return fmt.Errorf("core: event queue is nil")
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	event, ok := q.events[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if event.Status != EventStatusProcessing {
		return nil
	}
	event.RetryCount++
	event.ErrorMessage = strings.TrimSpace(message)
	if event.RetryCount < event.MaxRetries {
		if err := event.TransitionTo(EventStatusPending, now); err != nil {
			return err
		}
		event.ScheduledAt = now.Add(RetryBackoffDelay(event.RetryCount))
		event.ProcessingStartedAt = nil
		event.Progress = 0
		return nil
	}
	return event.TransitionTo(EventStatusFailed, now)
}

func (q *InMemoryEventQueue) Get(_ context.Context, eventID string) (Event, error) {
	if q == nil {
		return Event{}, fmt.Errorf("core: event queue is nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	event, ok := q.events[strings.TrimSpace(eventID)]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	return cloneEvent(event), nil
}

func (q *InMemoryEventQueue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

// RetryBackoffDelay returns the re-queue delay after the given failed
// attempt count: 2^retryCount seconds, capped to keep the queue from
// parking a row in the far future.
func RetryBackoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	const maxBackoff = 5 * time.Minute
	delay := time.Duration(math.Pow(2, float64(retryCount))) * time.Second
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

func copyAnyMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	copied := make(map[string]any, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return copied
}

func cloneEvent(event *Event) Event {
	if event == nil {
		return Event{}
	}
	cloned := *event
	cloned.Payload = copyAnyMap(event.Payload)
	cloned.Result = copyAnyMap(event.Result)
	if event.ProcessedAt != nil {
		value := *event.ProcessedAt
		cloned.ProcessedAt = &value
	}
	if event.ProcessingStartedAt != nil {
		value := *event.ProcessingStartedAt
		cloned.ProcessingStartedAt = &value
	}
	return cloned
}

var _ EventQueue = (*InMemoryEventQueue)(nil)
