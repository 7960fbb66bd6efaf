package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryEventQueue_ClaimOrdersByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	queue := NewInMemoryEventQueue()

	low, err := queue.Enqueue(ctx, EnqueueInput{EventType: "order.created", Priority: 0})
	if err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	high, err := queue.Enqueue(ctx, EnqueueInput{EventType: "order.refunded", Priority: 5})
	if err != nil {
		t.Fatalf("enqueue high: %v", err)
	}
	second, err := queue.Enqueue(ctx, EnqueueInput{EventType: "order.updated", Priority: 0})
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	claimed, err := queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed events, got %d", len(claimed))
	}
	if claimed[0].ID != high.ID {
		t.Fatalf("expected high priority event first, got %s", claimed[0].EventType)
	}
	if claimed[1].ID != low.ID || claimed[2].ID != second.ID {
		t.Fatalf("expected same-priority events in creation order")
	}
	for _, event := range claimed {
		if event.Status != EventStatusProcessing {
			t.Fatalf("expected claimed event %s to be processing, got %s", event.ID, event.Status)
		}
		if event.ProcessingStartedAt == nil {
			t.Fatalf("expected processing_started_at on claimed event %s", event.ID)
		}
	}
}

func TestInMemoryEventQueue_ScheduledEventsAreNotClaimable(t *testing.T) {
	ctx := context.Background()
	queue := NewInMemoryEventQueue()

	if _, err := queue.Enqueue(ctx, EnqueueInput{
		EventType:   "report.generate",
		ScheduledAt: time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no claimable events, got %d", len(claimed))
	}
}

func TestInMemoryEventQueue_ConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	queue := NewInMemoryEventQueue()

	const pending = 25
	for i := 0; i < pending; i++ {
		if _, err := queue.Enqueue(ctx, EnqueueInput{EventType: fmt.Sprintf("evt.%d", i)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	const claimers = 8
	var wg sync.WaitGroup
	results := make([][]Event, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			claimed, err := queue.ClaimBatch(ctx, 10)
			if err != nil {
				t.Errorf("claim batch %d: %v", slot, err)
				return
			}
			results[slot] = claimed
		}(i)
	}
	wg.Wait()

	seen := map[string]int{}
	total := 0
	for _, batch := range results {
		for _, event := range batch {
			seen[event.ID]++
			total++
		}
	}
	for id, count := range seen {
		if count > 1 {
			t.Fatalf("event %s claimed %d times", id, count)
		}
	}
	if total > pending {
		t.Fatalf("claimed %d events from a pending set of %d", total, pending)
	}
}

func TestInMemoryEventQueue_CompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	queue := NewInMemoryEventQueue()

	event, err := queue.Enqueue(ctx, EnqueueInput{EventType: "job:export"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := queue.ClaimBatch(ctx, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := queue.Complete(ctx, event.ID, map[string]any{"total": 100}); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if err := queue.Complete(ctx, event.ID, map[string]any{"total": 999}); err != nil {
		t.Fatalf("second complete: %v", err)
	}

	stored, err := queue.Get(ctx, event.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != EventStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if stored.Progress != 100 {
		t.Fatalf("expected progress=100, got %d", stored.Progress)
	}
	if stored.Result["total"] != 100 {
		t.Fatalf("second complete must not overwrite result, got %v", stored.Result)
	}
	if stored.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}
}

func TestInMemoryEventQueue_ProgressClampsAndNeverDecreases(t *testing.T) {
	ctx := context.Background()
	queue := NewInMemoryEventQueue()

	event, err := queue.Enqueue(ctx, EnqueueInput{EventType: "job:resize"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Progress before claiming is a no-op: the row is not processing.
	if err := queue.UpdateProgress(ctx, event.ID, 40); err != nil {
		t.Fatalf("progress on pending: %v", err)
	}
	stored, _ := queue.Get(ctx, event.ID)
	if stored.Progress != 0 {
		t.Fatalf("expected pending row progress to stay 0, got %d", stored.Progress)
	}

	if _, err := queue.ClaimBatch(ctx, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	steps := []struct {
		in   int
		want int
	}{
		{in: 25, want: 25},
		{in: 75, want: 75},
		{in: 50, want: 75},
		{in: 150, want: 100},
		{in: -5, want: 100},
	}
	for _, step := range steps {
		if err := queue.UpdateProgress(ctx, event.ID, step.in); err != nil {
			t.Fatalf("update progress %d: %v", step.in, err)
		}
		stored, _ = queue.Get(ctx, event.ID)
		if stored.Progress != step.want {
			t.Fatalf("progress after %d: expected %d, got %d", step.in, step.want, stored.Progress)
		}
	}
}

func TestInMemoryEventQueue_FailRequeuesWithBackoffUntilExhausted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	queue := NewInMemoryEventQueue()
	queue.Now = func() time.Time { return now }

	event, err := queue.Enqueue(ctx, EnqueueInput{EventType: "order.sync", MaxRetries: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, claimErr := queue.ClaimBatch(ctx, 10)
		if claimErr != nil {
			t.Fatalf("claim attempt %d: %v", attempt, claimErr)
		}
		if len(claimed) != 1 {
			t.Fatalf("attempt %d: expected 1 claimable event, got %d", attempt, len(claimed))
		}
		if failErr := queue.Fail(ctx, event.ID, "boom"); failErr != nil {
			t.Fatalf("fail attempt %d: %v", attempt, failErr)
		}

		stored, getErr := queue.Get(ctx, event.ID)
		if getErr != nil {
			t.Fatalf("get attempt %d: %v", attempt, getErr)
		}
		if stored.RetryCount != attempt {
			t.Fatalf("attempt %d: expected retry_count=%d, got %d", attempt, attempt, stored.RetryCount)
		}
		if attempt < 3 {
			if stored.Status != EventStatusPending {
				t.Fatalf("attempt %d: expected requeue to pending, got %s", attempt, stored.Status)
			}
			wantDelay := RetryBackoffDelay(attempt)
			if got := stored.ScheduledAt.Sub(now); got != wantDelay {
				t.Fatalf("attempt %d: expected backoff %s, got %s", attempt, wantDelay, got)
			}
			// Advance the clock past the backoff so the next claim sees it.
			now = stored.ScheduledAt.Add(time.Second)
		} else {
			if stored.Status != EventStatusFailed {
				t.Fatalf("expected terminal failed after exhausting retries, got %s", stored.Status)
			}
			if stored.ErrorMessage != "boom" {
				t.Fatalf("expected error message, got %q", stored.ErrorMessage)
			}
		}
	}

	// A further run must not reattempt the terminally failed event.
	claimed, err := queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no claimable events after terminal failure, got %d", len(claimed))
	}
}

func TestInMemoryEventQueue_FailedRequeueRespectsBackoffWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	queue := NewInMemoryEventQueue()
	queue.Now = func() time.Time { return now }

	event, err := queue.Enqueue(ctx, EnqueueInput{EventType: "order.sync", MaxRetries: 5})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := queue.ClaimBatch(ctx, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := queue.Fail(ctx, event.ID, "transient"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Inside the backoff window the row is not claimable.
	claimed, err := queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim inside window: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected backoff to defer the retry, got %d claims", len(claimed))
	}

	now = now.Add(RetryBackoffDelay(1) + time.Second)
	claimed, err = queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim after window: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected retry to become claimable, got %d", len(claimed))
	}
}
