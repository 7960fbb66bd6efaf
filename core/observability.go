package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ObserveOperation emits the shared log line and counter/histogram pair for
// one gateway or dispatcher operation.
func ObserveOperation(
	ctx context.Context,
	logger Logger,
	metrics MetricsRecorder,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["operation"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	if metrics != nil {
		tags := map[string]string{
			"operation": operation,
			"status":    status,
		}
		for _, key := range []string{"webhook_name", "event_type", "event_id"} {
			if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
				tags[key] = value
			}
		}
		metrics.IncCounter(ctx, "eventqueue."+operation+".total", 1, cloneTags(tags))
		metrics.ObserveHistogram(
			ctx,
			"eventqueue."+operation+".duration_ms",
			float64(time.Since(startedAt).Milliseconds()),
			cloneTags(tags),
		)
	}

	if logger == nil {
		return
	}
	scoped := logger
	if ctx != nil {
		scoped = scoped.WithContext(ctx)
	}
	if fieldsLogger, ok := scoped.(FieldsLogger); ok {
		scoped = fieldsLogger.WithFields(cloneFields(contextFields))
	}
	args := flattenFields(contextFields)
	if err != nil {
		scoped.Error(operation+" failed", args...)
		return
	}
	scoped.Info(operation+" succeeded", args...)
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
