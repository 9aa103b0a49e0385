package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

var counters sync.Map // metric key -> *counter

type counter struct {
	mu    sync.Mutex
	total float64
	count int64
}

// Enabled reports whether span logging is on.
func Enabled() bool {
	_, cfg := current()
	return cfg.Enabled
}

// StartSpan records a span around an operation. The returned func ends it.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := current()
	start := time.Now()
	if logger != nil && cfg.Enabled {
		logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
			slog.String("component", component),
			slog.String("operation", operation),
		)
	}

	return ctx, func(err error) {
		elapsed := time.Since(start)
		labels := map[string]string{"component": component, "operation": operation}
		if err != nil {
			labels["status"] = "error"
		} else {
			labels["status"] = "ok"
		}
		RecordMetric(ctx, "span_duration_ms", float64(elapsed.Milliseconds()), labels)

		if logger == nil || !cfg.Enabled {
			return
		}
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			level = slog.LevelError
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// RecordMetric accumulates a datapoint and, when enabled, logs it.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	key := metricKey(name, labels)
	v, _ := counters.LoadOrStore(key, &counter{})
	c := v.(*counter)
	c.mu.Lock()
	c.total += value
	c.count++
	c.mu.Unlock()

	logger, cfg := current()
	if logger == nil || !cfg.Enabled {
		return
	}
	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// MetricSample is an aggregated counter.
type MetricSample struct {
	Key   string  `json:"key"`
	Total float64 `json:"total"`
	Count int64   `json:"count"`
}

// Snapshot returns all accumulated metrics sorted by key.
func Snapshot() []MetricSample {
	var out []MetricSample
	counters.Range(func(k, v any) bool {
		c := v.(*counter)
		c.mu.Lock()
		out = append(out, MetricSample{Key: k.(string), Total: c.total, Count: c.count})
		c.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ResetMetrics clears accumulated counters.
func ResetMetrics() {
	counters.Range(func(k, _ any) bool {
		counters.Delete(k)
		return true
	})
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	b.WriteString("}")
	return b.String()
}
