package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-eventqueue/core"
)

const DefaultBatchSize = 10

// DispatcherConfig wires the dispatcher's collaborators. Queue and Jobs are
// required; Remotes and Caller may be nil when no remote handlers exist.
type DispatcherConfig struct {
	Queue     core.EventQueue
	Jobs      *core.JobHandlerRegistry
	Remotes   core.RemoteHandlerStore
	Caller    RemoteCaller
	DB        any
	BatchSize int
	Logger    core.Logger
	Metrics   core.MetricsRecorder
	Now       func() time.Time
}

// Dispatcher claims due events and resolves each one independently. A
// single bad payload or handler failure becomes a fail() call on that item
// and never aborts its siblings; overlapping runs are safe because claiming
// is atomic at the queue.
type Dispatcher struct {
	queue     core.EventQueue
	jobs      *core.JobHandlerRegistry
	remotes   core.RemoteHandlerStore
	caller    RemoteCaller
	db        any
	batchSize int
	logger    core.Logger
	metrics   core.MetricsRecorder
	now       func() time.Time
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("dispatch: event queue is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("dispatch: job handler registry is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	_, logger := glog.Resolve("dispatcher", nil, cfg.Logger)
	dispatcher := &Dispatcher{
		queue:     cfg.Queue,
		jobs:      cfg.Jobs,
		remotes:   cfg.Remotes,
		caller:    cfg.Caller,
		db:        cfg.DB,
		batchSize: cfg.BatchSize,
		logger:    glog.Ensure(logger),
		metrics:   core.EnsureMetrics(cfg.Metrics),
		now:       cfg.Now,
	}
	if dispatcher.caller == nil {
		dispatcher.caller = NewHTTPRemoteCaller(nil)
	}
	if dispatcher.now == nil {
		dispatcher.now = time.Now
	}
	return dispatcher, nil
}

// Run executes one dispatch pass and reports the per-item outcomes. The
// returned error covers claim or config loading failures only; item-level
// failures land in the summary and in queue state.
func (d *Dispatcher) Run(ctx context.Context) (core.DispatchSummary, error) {
	if d == nil || d.queue == nil {
		return core.DispatchSummary{}, fmt.Errorf("dispatch: dispatcher is not configured")
	}
	startedAt := d.now().UTC()

	events, err := d.queue.ClaimBatch(ctx, d.batchSize)
	if err != nil {
		core.ObserveOperation(ctx, d.logger, d.metrics, startedAt, "dispatch_run", err, nil)
		return core.DispatchSummary{}, err
	}
	summary := core.DispatchSummary{Total: len(events)}
	if len(events) == 0 {
		return summary, nil
	}

	remoteConfigs, err := d.loadRemoteConfigs(ctx)
	if err != nil {
		// The batch is already claimed; hand every item back to the
		// retry state machine instead of stranding it in processing.
		d.releaseClaimed(ctx, events, err)
		core.ObserveOperation(ctx, d.logger, d.metrics, startedAt, "dispatch_run", err, nil)
		return core.DispatchSummary{}, err
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	summary.Details = make([]core.DispatchDetail, 0, len(events))
	for _, event := range events {
		wg.Add(1)
		go func(event core.Event) {
			defer wg.Done()
			detail := d.dispatchOne(ctx, event, remoteConfigs)

			mu.Lock()
			defer mu.Unlock()
			if detail.Status == core.EventStatusCompleted {
				summary.Completed++
			} else {
				summary.Failed++
			}
			summary.Details = append(summary.Details, detail)
		}(event)
	}
	wg.Wait()

	core.ObserveOperation(ctx, d.logger, d.metrics, startedAt, "dispatch_run", nil, map[string]any{
		"total":     summary.Total,
		"completed": summary.Completed,
		"failed":    summary.Failed,
	})
	return summary, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, event core.Event, remoteConfigs map[string]core.RemoteHandlerConfig) core.DispatchDetail {
	detail := core.DispatchDetail{
		EventID:   event.ID,
		EventType: event.EventType,
	}

	var (
		result  map[string]any
		handler string
		err     error
	)
	if event.IsJob() {
		result, handler, err = d.runJob(ctx, event)
	} else {
		handler, err = d.runRemote(ctx, event, remoteConfigs)
	}
	detail.Handler = handler

	if err != nil {
		detail.Status = core.EventStatusFailed
		detail.Error = err.Error()
		if failErr := d.queue.Fail(ctx, event.ID, err.Error()); failErr != nil {
			d.logger.Error("fail event", "event_id", event.ID, "error", failErr)
		}
		return detail
	}

	if completeErr := d.queue.Complete(ctx, event.ID, result); completeErr != nil {
		detail.Status = core.EventStatusFailed
		detail.Error = completeErr.Error()
		d.logger.Error("complete event", "event_id", event.ID, "error", completeErr)
		return detail
	}
	detail.Status = core.EventStatusCompleted
	return detail
}

func (d *Dispatcher) runJob(ctx context.Context, event core.Event) (result map[string]any, handlerName string, err error) {
	jobType := event.JobType()
	handler, ok := d.jobs.Resolve(jobType)
	if !ok {
		d.logger.Info("no job handler registered", "event_id", event.ID, "job_type", jobType)
		return nil, "", nil
	}
	handlerName = jobType

	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("dispatch: job handler %q panicked: %v", jobType, recovered)
		}
	}()

	result, err = handler.Execute(ctx, event.Payload, core.JobContext{
		JobID: event.ID,
		DB:    d.db,
		UpdateProgress: func(ctx context.Context, progress int) error {
			return d.queue.UpdateProgress(ctx, event.ID, progress)
		},
	})
	return result, handlerName, err
}

func (d *Dispatcher) runRemote(ctx context.Context, event core.Event, remoteConfigs map[string]core.RemoteHandlerConfig) (string, error) {
	config, ok := remoteConfigs[strings.TrimSpace(event.EventType)]
	if !ok {
		d.logger.Info("no remote handler registered", "event_id", event.ID, "event_type", event.EventType)
		return "", nil
	}
	return config.HandlerFunction, d.caller.Call(ctx, config, event)
}

func (d *Dispatcher) releaseClaimed(ctx context.Context, events []core.Event, cause error) {
	message := fmt.Sprintf("dispatch aborted before execution: %v", cause)
	for _, event := range events {
		if failErr := d.queue.Fail(ctx, event.ID, message); failErr != nil {
			d.logger.Error("release claimed event", "event_id", event.ID, "error", failErr)
		}
	}
}

func (d *Dispatcher) loadRemoteConfigs(ctx context.Context) (map[string]core.RemoteHandlerConfig, error) {
	if d.remotes == nil {
		return map[string]core.RemoteHandlerConfig{}, nil
	}
	active, err := d.remotes.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load remote handler configs: %w", err)
	}
	configs := make(map[string]core.RemoteHandlerConfig, len(active))
	for _, config := range active {
		configs[strings.TrimSpace(config.EventType)] = config
	}
	return configs, nil
}
