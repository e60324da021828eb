package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/visibility.report/internal/db"
	"github.com/banshee-data/visibility.report/internal/interferometer/pipeline"
	sqlite "github.com/banshee-data/visibility.report/internal/interferometer/storage/sqlite"
	"github.com/banshee-data/visibility.report/internal/testutil"
)

func setup(t *testing.T, frames int) (*db.DB, *sqlite.Capture) {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	ctx := context.Background()
	c := &sqlite.Capture{Label: "test", Channels: 3, Bins: 2}
	require.NoError(t, sqlite.NewCaptureStore(d.DB).Create(ctx, c))
	require.NoError(t, sqlite.NewPacketStore(d.DB).Append(ctx, c.CaptureID, testutil.OrderedStream(3, 2, frames, 100)))
	return d, c
}

func TestManager_Execute(t *testing.T) {
	d, c := setup(t, 7)
	m := NewManager(d.DB, 4)
	ctx := context.Background()

	run, sum, err := m.Execute(ctx, c.CaptureID, pipeline.Config{Channels: 3, Bins: 2, Depth: 2}, map[string]int{"depth": 2})
	require.NoError(t, err)

	assert.Equal(t, sqlite.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, sum.RecordsWritten)
	assert.Equal(t, int64(1), sum.Accumulation.DiscardedCycles)
	assert.Equal(t, "3", run.Attributes["accumulations"])
	assert.Equal(t, "21", run.Attributes["packets"])
	assert.Equal(t, "false", run.Attributes["truncated_analysis"])
	assert.JSONEq(t, `{"depth":2}`, string(run.Params))

	var stored pipeline.Summary
	require.NoError(t, json.Unmarshal(run.Summary, &stored))
	assert.Equal(t, int64(7), stored.Frames.FramesCompleted)

	n, err := sqlite.NewRecordStore(d.DB).Count(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, active := m.ActiveRun(c.CaptureID)
	assert.False(t, active)
}

func TestManager_GeometryMismatch(t *testing.T) {
	d, c := setup(t, 2)
	m := NewManager(d.DB, 0)
	_, _, err := m.Execute(context.Background(), c.CaptureID, pipeline.Config{Channels: 4, Bins: 2, Depth: 1}, nil)
	assert.ErrorIs(t, err, ErrGeometryMismatch)

	runs, err := sqlite.NewRunStore(d.DB).ListByCapture(context.Background(), c.CaptureID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestManager_UnknownCapture(t *testing.T) {
	d, _ := setup(t, 1)
	_, _, err := NewManager(d.DB, 0).Execute(context.Background(), "missing", pipeline.Config{Channels: 3, Bins: 2, Depth: 1}, nil)
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestManager_FailedRunIsRecorded(t *testing.T) {
	d, c := setup(t, 4)

	// Depth 0 is rejected when the pipeline is built, after the run has started.
	run, _, err := NewManager(d.DB, 0).Execute(context.Background(), c.CaptureID, pipeline.Config{Channels: 3, Bins: 2, Depth: 0}, nil)
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, sqlite.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
}

func TestAttributes(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	attrs := Attributes(pipeline.Summary{Channels: 4, Depth: 10, PacketsRead: 400, Truncated: true, RecordsWritten: 9}, at)
	assert.Equal(t, map[string]string{
		"channels":           "4",
		"packets":            "400",
		"process_date":       "2024-03-01T12:00:00Z",
		"accumulation_depth": "10",
		"truncated_analysis": "true",
		"accumulations":      "9",
	}, attrs)
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel("off", nil)
	for _, level := range []string{"off", "ops", "diag", "trace"} {
		assert.NoError(t, SetLogLevel(level, io.Discard), level)
	}
	assert.Error(t, SetLogLevel("verbose", io.Discard))
}

func TestSetLogLevel_RoutesRunnerMessages(t *testing.T) {
	defer SetLogLevel("off", nil)
	d, c := setup(t, 4)
	m := NewManager(d.DB, 0)
	failing := pipeline.Config{Channels: 3, Bins: 2, Depth: 0}

	var buf bytes.Buffer
	require.NoError(t, SetLogLevel("ops", &buf))
	_, _, err := m.Execute(context.Background(), c.CaptureID, failing, nil)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "[runner] run ")
	assert.Contains(t, buf.String(), "failed")

	buf.Reset()
	require.NoError(t, SetLogLevel("off", &buf))
	_, _, err = m.Execute(context.Background(), c.CaptureID, failing, nil)
	require.Error(t, err)
	assert.Empty(t, buf.String())
}
