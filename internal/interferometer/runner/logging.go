package runner

import (
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/visibility.report/internal/interferometer/l2frames"
	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
	"github.com/banshee-data/visibility.report/internal/interferometer/pipeline"
	"github.com/banshee-data/visibility.report/internal/monitoring"
)

// SetLogLevel routes the interferometer log streams to w. "ops" enables
// actionable messages only, "diag" adds diagnostics, "trace" adds
// per-packet telemetry and "off" silences all three along with progress
// reporting.
func SetLogLevel(level string, w io.Writer) error {
	var ops, diag, trace io.Writer
	switch level {
	case "off":
	case "ops":
		ops = w
	case "diag":
		ops, diag = w, w
	case "trace":
		ops, diag, trace = w, w, w
	default:
		return fmt.Errorf("unknown log level %q (want off, ops, diag or trace)", level)
	}
	l2frames.SetLogWriters(ops, diag, trace)
	l4accumulate.SetLogWriters(ops, diag, trace)
	pipeline.SetLogWriters(ops, diag, trace)
	SetLogWriters(ops, diag, trace)
	if ops == nil {
		monitoring.SetLogger(nil)
	} else {
		monitoring.SetLogger(log.New(ops, "[progress] ", log.LstdFlags).Printf)
	}
	return nil
}
