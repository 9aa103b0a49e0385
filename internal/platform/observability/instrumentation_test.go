package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMetric_Accumulates(t *testing.T) {
	ResetMetrics()
	ctx := context.Background()

	RecordMetric(ctx, "photos_stored", 1, map[string]string{"source": "ws"})
	RecordMetric(ctx, "photos_stored", 1, map[string]string{"source": "ws"})
	RecordMetric(ctx, "photos_stored", 1, map[string]string{"source": "mqtt"})

	samples := Snapshot()
	require.Len(t, samples, 2)
	assert.Equal(t, "photos_stored{source=mqtt}", samples[0].Key)
	assert.Equal(t, int64(1), samples[0].Count)
	assert.Equal(t, "photos_stored{source=ws}", samples[1].Key)
	assert.Equal(t, 2.0, samples[1].Total)
}

func TestStartSpan_LogsWhenEnabled(t *testing.T) {
	ResetMetrics()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	shutdown, err := Setup(context.Background(), Config{Enabled: true}, logger)
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, end := StartSpan(context.Background(), "agent", "answer")
	end(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "obs span start")
	assert.Contains(t, out, "obs span end")
	assert.Contains(t, out, "boom")

	samples := Snapshot()
	require.Len(t, samples, 1)
	assert.Equal(t, "span_duration_ms{component=agent,operation=answer,status=error}", samples[0].Key)
}

func TestStartSpan_DisabledStillCounts(t *testing.T) {
	ResetMetrics()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	shutdown, err := Setup(context.Background(), Config{Enabled: false}, logger)
	require.NoError(t, err)
	defer shutdown(context.Background())
	buf.Reset()

	_, end := StartSpan(context.Background(), "vision", "describe")
	end(nil)

	assert.Empty(t, buf.String())
	assert.Len(t, Snapshot(), 1)
	assert.False(t, Enabled())
}
