package core

import "context"

// NopMetricsRecorder discards every measurement. The gateway and dispatcher
// default to it when no recorder is injected, so counter emission around
// webhook receives and dispatch runs never needs a nil check.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// EnsureMetrics substitutes the no-op recorder for nil.
func EnsureMetrics(metrics MetricsRecorder) MetricsRecorder {
	if metrics == nil {
		return NopMetricsRecorder{}
	}
	return metrics
}

var _ MetricsRecorder = NopMetricsRecorder{}
