// Package runner ties the correlation pipeline to the SQLite stores: it
// opens a run for a capture, streams the capture's packets through the
// pipeline into the run's records and finishes the run with its summary.
package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/visibility.report/internal/interferometer/pipeline"
	sqlite "github.com/banshee-data/visibility.report/internal/interferometer/storage/sqlite"
	"github.com/banshee-data/visibility.report/internal/version"
)

var (
	// ErrRunActive is returned when a capture already has a run in progress.
	ErrRunActive = errors.New("capture already has an active run")

	// ErrGeometryMismatch is returned when the run geometry differs from the
	// capture's recorded channels and bins.
	ErrGeometryMismatch = errors.New("run geometry does not match capture")
)

// Manager coordinates correlation runs over stored captures. It is safe for
// concurrent use; at most one run per capture is active at a time.
type Manager struct {
	captures *sqlite.CaptureStore
	packets  *sqlite.PacketStore
	runs     *sqlite.RunStore
	records  *sqlite.RecordStore
	pageSize int

	mu     sync.Mutex
	active map[string]string // capture ID -> run ID
}

// NewManager creates a Manager over db. pageSize is the packet source page
// size (0 = sqlite.DefaultPageSize).
func NewManager(db *sql.DB, pageSize int) *Manager {
	return &Manager{
		captures: sqlite.NewCaptureStore(db),
		packets:  sqlite.NewPacketStore(db),
		runs:     sqlite.NewRunStore(db),
		records:  sqlite.NewRecordStore(db),
		pageSize: pageSize,
		active:   make(map[string]string),
	}
}

// ActiveRun returns the run in progress for a capture, if any.
func (m *Manager) ActiveRun(captureID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[captureID]
	return id, ok
}

// Execute correlates a capture with cfg and stores the records under a new
// run. params is stored verbatim as the run's parameters. The returned run
// reflects its final state; a run that fails part way is marked failed and
// keeps the records written before the failure.
func (m *Manager) Execute(ctx context.Context, captureID string, cfg pipeline.Config, params any) (*sqlite.Run, pipeline.Summary, error) {
	capture, err := m.captures.Get(ctx, captureID)
	if err != nil {
		return nil, pipeline.Summary{}, err
	}
	if capture.Channels != cfg.Channels || capture.Bins != cfg.Bins {
		return nil, pipeline.Summary{}, fmt.Errorf("%w: capture is C=%d F=%d, run is C=%d F=%d",
			ErrGeometryMismatch, capture.Channels, capture.Bins, cfg.Channels, cfg.Bins)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, pipeline.Summary{}, fmt.Errorf("marshal run params: %w", err)
	}
	run := &sqlite.Run{CaptureID: captureID, Params: paramsJSON, Version: version.Version}

	m.mu.Lock()
	if id, busy := m.active[captureID]; busy {
		m.mu.Unlock()
		return nil, pipeline.Summary{}, fmt.Errorf("%w: %s", ErrRunActive, id)
	}
	if err := m.runs.Start(ctx, run); err != nil {
		m.mu.Unlock()
		return nil, pipeline.Summary{}, err
	}
	m.active[captureID] = run.RunID
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, captureID)
		m.mu.Unlock()
	}()

	diagf("started run %s for capture %s (C=%d F=%d N=%d)",
		run.RunID, captureID, cfg.Channels, cfg.Bins, cfg.Depth)

	sum, runErr := m.correlate(ctx, run, cfg)

	// Record the outcome even when the caller's context is done.
	finishCtx := context.WithoutCancel(ctx)
	if err := m.runs.SetAttributes(finishCtx, run.RunID, Attributes(sum, time.Now())); err != nil {
		return nil, sum, errors.Join(runErr, err)
	}
	if err := m.runs.Finish(finishCtx, run.RunID, sum, runErr); err != nil {
		return nil, sum, errors.Join(runErr, err)
	}
	final, err := m.runs.Get(finishCtx, run.RunID)
	if err != nil {
		return nil, sum, errors.Join(runErr, err)
	}
	if runErr != nil {
		opsf("run %s failed: %v", run.RunID, runErr)
	} else {
		diagf("run %s completed: %d records", run.RunID, sum.RecordsWritten)
	}
	return final, sum, runErr
}

func (m *Manager) correlate(ctx context.Context, run *sqlite.Run, cfg pipeline.Config) (pipeline.Summary, error) {
	src, err := m.packets.Source(ctx, run.CaptureID, m.pageSize)
	if err != nil {
		return pipeline.Summary{}, err
	}
	tracef("run %s reading %d packets from capture %s", run.RunID, src.NumPackets(), run.CaptureID)
	p, err := pipeline.New(cfg, src, m.records.Sink(run.RunID))
	if err != nil {
		return pipeline.Summary{}, err
	}
	return p.Run(ctx)
}

// Attributes describes a finished run the way the acquisition tooling
// labels its output files.
func Attributes(sum pipeline.Summary, processed time.Time) map[string]string {
	return map[string]string{
		"channels":           strconv.Itoa(sum.Channels),
		"packets":            strconv.FormatInt(sum.PacketsRead, 10),
		"process_date":       processed.UTC().Format(time.RFC3339),
		"accumulation_depth": strconv.Itoa(sum.Depth),
		"truncated_analysis": strconv.FormatBool(sum.Truncated),
		"accumulations":      strconv.Itoa(sum.RecordsWritten),
	}
}
