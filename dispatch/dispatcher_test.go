package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-eventqueue/core"
)

func jsonDecode(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

type dispatchFixture struct {
	queue   *core.InMemoryEventQueue
	jobs    *core.JobHandlerRegistry
	remotes *core.InMemoryRemoteHandlerStore
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newDispatchFixture() *dispatchFixture {
	clock := newFakeClock()
	queue := core.NewInMemoryEventQueue()
	queue.Now = clock.Now
	return &dispatchFixture{
		queue:   queue,
		jobs:    core.NewJobHandlerRegistry(),
		remotes: core.NewInMemoryRemoteHandlerStore(),
		clock:   clock,
	}
}

func (f *dispatchFixture) dispatcher(t *testing.T, caller RemoteCaller) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Queue:   f.queue,
		Jobs:    f.jobs,
		Remotes: f.remotes,
		Caller:  caller,
		Now:     f.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return dispatcher
}

func (f *dispatchFixture) enqueue(t *testing.T, input core.EnqueueInput) core.Event {
	t.Helper()
	event, err := f.queue.Enqueue(context.Background(), input)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return event
}

func TestDispatcherEmptyQueue(t *testing.T) {
	fixture := newDispatchFixture()
	dispatcher := fixture.dispatcher(t, nil)

	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 0 || summary.Completed != 0 || summary.Failed != 0 {
		t.Fatalf("expected an empty summary, got %+v", summary)
	}
}

func TestDispatcherJobProgressAndResult(t *testing.T) {
	fixture := newDispatchFixture()
	if err := fixture.jobs.Register("sum-amounts", core.JobHandlerFunc(
		func(ctx context.Context, payload map[string]any, job core.JobContext) (map[string]any, error) {
			if amount, _ := payload["amount"].(float64); amount != 100 {
				if amount, _ := payload["amount"].(int); amount != 100 {
					t.Errorf("unexpected payload: %+v", payload)
				}
			}
			if err := job.UpdateProgress(ctx, 50); err != nil {
				return nil, err
			}
			return map[string]any{"total": 100}, nil
		},
	)); err != nil {
		t.Fatalf("register job handler: %v", err)
	}
	event := fixture.enqueue(t, core.EnqueueInput{
		EventType: "job:sum-amounts",
		Payload:   map[string]any{"amount": 100},
	})

	dispatcher := fixture.dispatcher(t, nil)
	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 1 || summary.Completed != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	final, err := fixture.queue.Get(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("load event: %v", err)
	}
	if final.Status != core.EventStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", final.Progress)
	}
	if total, _ := final.Result["total"].(int); total != 100 {
		t.Fatalf("expected result total 100, got %+v", final.Result)
	}
	if final.ProcessedAt == nil {
		t.Fatal("expected processed_at to be set")
	}
}

func TestDispatcherJobWithoutHandlerCompletes(t *testing.T) {
	fixture := newDispatchFixture()
	event := fixture.enqueue(t, core.EnqueueInput{EventType: "job:unmapped"})

	dispatcher := fixture.dispatcher(t, nil)
	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("expected the unmapped job to complete, got %+v", summary)
	}
	final, _ := fixture.queue.Get(context.Background(), event.ID)
	if final.Status != core.EventStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}

func TestDispatcherRetriesUntilTerminalFailure(t *testing.T) {
	fixture := newDispatchFixture()
	if err := fixture.jobs.Register("always-broken", core.JobHandlerFunc(
		func(context.Context, map[string]any, core.JobContext) (map[string]any, error) {
			return nil, fmt.Errorf("boom")
		},
	)); err != nil {
		t.Fatalf("register job handler: %v", err)
	}
	event := fixture.enqueue(t, core.EnqueueInput{
		EventType:  "job:always-broken",
		MaxRetries: 3,
	})

	dispatcher := fixture.dispatcher(t, nil)
	for run := 1; run <= 3; run++ {
		summary, err := dispatcher.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if summary.Total != 1 || summary.Failed != 1 {
			t.Fatalf("run %d: expected one failed item, got %+v", run, summary)
		}
		current, _ := fixture.queue.Get(context.Background(), event.ID)
		if current.RetryCount != run {
			t.Fatalf("run %d: expected retry_count %d, got %d", run, run, current.RetryCount)
		}
		fixture.clock.Advance(core.RetryBackoffDelay(run) + time.Second)
	}

	final, _ := fixture.queue.Get(context.Background(), event.ID)
	if final.Status != core.EventStatusFailed {
		t.Fatalf("expected terminal failed, got %s", final.Status)
	}
	if final.RetryCount != 3 {
		t.Fatalf("expected retry_count 3, got %d", final.RetryCount)
	}
	if final.ErrorMessage != "boom" {
		t.Fatalf("expected error message to survive, got %q", final.ErrorMessage)
	}

	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("fourth run: %v", err)
	}
	if summary.Total != 0 {
		t.Fatalf("expected a terminal row to stay unclaimed, got %+v", summary)
	}
}

func TestDispatcherJobPanicBecomesFailure(t *testing.T) {
	fixture := newDispatchFixture()
	if err := fixture.jobs.Register("panicky", core.JobHandlerFunc(
		func(context.Context, map[string]any, core.JobContext) (map[string]any, error) {
			panic("index out of range")
		},
	)); err != nil {
		t.Fatalf("register job handler: %v", err)
	}
	event := fixture.enqueue(t, core.EnqueueInput{EventType: "job:panicky", MaxRetries: 1})

	dispatcher := fixture.dispatcher(t, nil)
	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected the panic to count as a failure, got %+v", summary)
	}
	final, _ := fixture.queue.Get(context.Background(), event.ID)
	if final.Status != core.EventStatusFailed {
		t.Fatalf("expected terminal failed with max_retries=1, got %s", final.Status)
	}
}

func TestDispatcherFailureNeverBlocksSiblings(t *testing.T) {
	fixture := newDispatchFixture()
	if err := fixture.jobs.Register("broken", core.JobHandlerFunc(
		func(context.Context, map[string]any, core.JobContext) (map[string]any, error) {
			return nil, fmt.Errorf("boom")
		},
	)); err != nil {
		t.Fatalf("register broken handler: %v", err)
	}
	if err := fixture.jobs.Register("healthy", core.JobHandlerFunc(
		func(context.Context, map[string]any, core.JobContext) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	)); err != nil {
		t.Fatalf("register healthy handler: %v", err)
	}
	broken := fixture.enqueue(t, core.EnqueueInput{EventType: "job:broken"})
	healthy := fixture.enqueue(t, core.EnqueueInput{EventType: "job:healthy"})

	dispatcher := fixture.dispatcher(t, nil)
	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 2 || summary.Completed != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if final, _ := fixture.queue.Get(context.Background(), healthy.ID); final.Status != core.EventStatusCompleted {
		t.Fatalf("expected the healthy job to complete, got %s", final.Status)
	}
	if final, _ := fixture.queue.Get(context.Background(), broken.ID); final.Status != core.EventStatusPending {
		t.Fatalf("expected the broken job re-queued, got %s", final.Status)
	}
}

func TestDispatcherRemoteSuccess(t *testing.T) {
	fixture := newDispatchFixture()
	var received remotePayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := jsonDecode(r, &received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if _, err := fixture.remotes.Upsert(context.Background(), core.RemoteHandlerConfig{
		EventType:       "order.created",
		HandlerFunction: server.URL,
		IsActive:        true,
		TimeoutSeconds:  5,
	}); err != nil {
		t.Fatalf("upsert remote config: %v", err)
	}
	event := fixture.enqueue(t, core.EnqueueInput{
		EventType: "order.created",
		Payload:   map[string]any{"order_id": "ord-1"},
		UserID:    "user-9",
	})

	dispatcher := fixture.dispatcher(t, NewHTTPRemoteCaller(server.Client()))
	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("expected completed remote delivery, got %+v", summary)
	}
	if received.EventID != event.ID || received.EventType != "order.created" || received.UserID != "user-9" {
		t.Fatalf("unexpected remote payload: %+v", received)
	}
	if final, _ := fixture.queue.Get(context.Background(), event.ID); final.Status != core.EventStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}

func TestDispatcherRemoteNon2xxFails(t *testing.T) {
	fixture := newDispatchFixture()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "downstream unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := fixture.remotes.Upsert(context.Background(), core.RemoteHandlerConfig{
		EventType:       "order.created",
		HandlerFunction: server.URL,
		IsActive:        true,
	}); err != nil {
		t.Fatalf("upsert remote config: %v", err)
	}
	event := fixture.enqueue(t, core.EnqueueInput{EventType: "order.created"})

	dispatcher := fixture.dispatcher(t, NewHTTPRemoteCaller(server.Client()))
	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected a failed delivery, got %+v", summary)
	}
	final, _ := fixture.queue.Get(context.Background(), event.ID)
	if final.Status != core.EventStatusPending {
		t.Fatalf("expected re-queued for retry, got %s", final.Status)
	}
	if final.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", final.RetryCount)
	}
}

func TestDispatcherRemoteTimeoutFails(t *testing.T) {
	fixture := newDispatchFixture()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	if _, err := fixture.remotes.Upsert(context.Background(), core.RemoteHandlerConfig{
		EventType:       "order.created",
		HandlerFunction: server.URL,
		IsActive:        true,
		TimeoutSeconds:  1,
	}); err != nil {
		t.Fatalf("upsert remote config: %v", err)
	}
	event := fixture.enqueue(t, core.EnqueueInput{EventType: "order.created"})

	dispatcher := fixture.dispatcher(t, NewHTTPRemoteCaller(server.Client()))
	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected a timed out delivery to fail, got %+v", summary)
	}
	final, _ := fixture.queue.Get(context.Background(), event.ID)
	if final.ErrorMessage == "" {
		t.Fatal("expected a timeout error message on the row")
	}
}

func TestDispatcherRemoteWithoutConfigCompletes(t *testing.T) {
	fixture := newDispatchFixture()
	event := fixture.enqueue(t, core.EnqueueInput{EventType: "order.untracked"})

	dispatcher := fixture.dispatcher(t, nil)
	summary, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("expected no-op completion, got %+v", summary)
	}
	if final, _ := fixture.queue.Get(context.Background(), event.ID); final.Status != core.EventStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}

type failingRemoteStore struct{}

func (failingRemoteStore) Upsert(context.Context, core.RemoteHandlerConfig) (core.RemoteHandlerConfig, error) {
	return core.RemoteHandlerConfig{}, fmt.Errorf("remote handler store is unavailable")
}

func (failingRemoteStore) ListActive(context.Context) ([]core.RemoteHandlerConfig, error) {
	return nil, fmt.Errorf("remote handler store is unavailable")
}

func TestDispatcherReleasesClaimedBatchWhenConfigLoadFails(t *testing.T) {
	fixture := newDispatchFixture()
	event := fixture.enqueue(t, core.EnqueueInput{EventType: "order.created"})

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Queue:   fixture.queue,
		Jobs:    fixture.jobs,
		Remotes: failingRemoteStore{},
		Now:     fixture.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	if _, err := dispatcher.Run(context.Background()); err == nil {
		t.Fatal("expected the run to surface the config load failure")
	}

	after, err := fixture.queue.Get(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != core.EventStatusPending {
		t.Fatalf("expected the claimed event back in pending, got %s", after.Status)
	}
	if after.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", after.RetryCount)
	}
	if after.ErrorMessage == "" {
		t.Fatal("expected an error message on the released row")
	}

	fixture.clock.Advance(core.RetryBackoffDelay(after.RetryCount) + time.Second)
	reclaimed, err := fixture.queue.ClaimBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != event.ID {
		t.Fatalf("expected the released event to be claimable again, got %+v", reclaimed)
	}
}
