package core

import (
	"errors"
	"testing"
	"time"
)

func TestEventTransitions(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name    string
		from    EventStatus
		to      EventStatus
		allowed bool
	}{
		{name: "pending to processing", from: EventStatusPending, to: EventStatusProcessing, allowed: true},
		{name: "pending to cancelled", from: EventStatusPending, to: EventStatusCancelled, allowed: true},
		{name: "pending to completed", from: EventStatusPending, to: EventStatusCompleted, allowed: false},
		{name: "processing to completed", from: EventStatusProcessing, to: EventStatusCompleted, allowed: true},
		{name: "processing to failed", from: EventStatusProcessing, to: EventStatusFailed, allowed: true},
		{name: "processing back to pending", from: EventStatusProcessing, to: EventStatusPending, allowed: true},
		{name: "completed is terminal", from: EventStatusCompleted, to: EventStatusProcessing, allowed: false},
		{name: "failed is terminal", from: EventStatusFailed, to: EventStatusPending, allowed: false},
		{name: "cancelled is terminal", from: EventStatusCancelled, to: EventStatusProcessing, allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := &Event{Status: tc.from}
			err := event.TransitionTo(tc.to, now)
			if tc.allowed && err != nil {
				t.Fatalf("expected transition %s -> %s to be allowed: %v", tc.from, tc.to, err)
			}
			if !tc.allowed {
				if err == nil {
					t.Fatalf("expected transition %s -> %s to be rejected", tc.from, tc.to)
				}
				if !errors.Is(err, ErrInvalidEventStatusTransition) {
					t.Fatalf("expected ErrInvalidEventStatusTransition, got %v", err)
				}
			}
		})
	}
}

func TestEventTransitionSideEffects(t *testing.T) {
	now := time.Now().UTC()

	event := &Event{Status: EventStatusPending}
	if err := event.TransitionTo(EventStatusProcessing, now); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if event.ProcessingStartedAt == nil {
		t.Fatalf("expected processing_started_at")
	}
	if err := event.TransitionTo(EventStatusCompleted, now); err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if event.ProcessedAt == nil {
		t.Fatalf("expected processed_at")
	}
}

func TestEventJobHelpers(t *testing.T) {
	job := Event{EventType: "job:process-payment"}
	if !job.IsJob() {
		t.Fatalf("expected job-typed event to be a job")
	}
	if job.JobType() != "process-payment" {
		t.Fatalf("unexpected job type %q", job.JobType())
	}

	plain := Event{EventType: "github:push"}
	if plain.IsJob() {
		t.Fatalf("expected plain event not to be a job")
	}
}

func TestRemoteHandlerConfigTimeout(t *testing.T) {
	if got := (RemoteHandlerConfig{TimeoutSeconds: 5}).Timeout(); got != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", got)
	}
	if got := (RemoteHandlerConfig{}).Timeout(); got != 30*time.Second {
		t.Fatalf("expected default timeout, got %s", got)
	}
}

func TestRetryBackoffDelay(t *testing.T) {
	if got := RetryBackoffDelay(1); got != 2*time.Second {
		t.Fatalf("expected 2s for first retry, got %s", got)
	}
	if got := RetryBackoffDelay(3); got != 8*time.Second {
		t.Fatalf("expected 8s for third retry, got %s", got)
	}
	if got := RetryBackoffDelay(30); got != 5*time.Minute {
		t.Fatalf("expected cap at 5m, got %s", got)
	}
}
