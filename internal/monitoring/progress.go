package monitoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/visibility.report/internal/timeutil"
)

// Progress is a snapshot of a correlation run's counters.
type Progress struct {
	PacketsRead      int64
	PacketsTotal     int64
	FramesCompleted  int64
	Records          int64
	IncompleteFrames int64
	ForgottenPackets int64
	Pending          int
}

// PacketToFrameRatio returns packets read per completed frame, or 0 when no
// frame has completed yet.
func (p Progress) PacketToFrameRatio() float64 {
	if p.FramesCompleted == 0 {
		return 0
	}
	return float64(p.PacketsRead) / float64(p.FramesCompleted)
}

// ProgressReporter emits a periodic progress block through Logf.
type ProgressReporter struct {
	clock     timeutil.Clock
	interval  int64
	highWater int
	above     bool // pending count was over highWater at the last Due call
	start     time.Time
}

// NewProgressReporter returns a reporter that is due every interval packets,
// and once each time the pending count rises above highWater (0 disables that
// trigger).
// A nil clock uses the real clock.
func NewProgressReporter(clock timeutil.Clock, interval int64, highWater int) *ProgressReporter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ProgressReporter{clock: clock, interval: interval, highWater: highWater, start: clock.Now()}
}

// Restart resets the run start time and the high-water state.
func (r *ProgressReporter) Restart() {
	r.start = r.clock.Now()
	r.above = false
}

// Elapsed returns the time since the run started.
func (r *ProgressReporter) Elapsed() time.Duration { return r.clock.Since(r.start) }

// Due reports whether a progress block should be written for this snapshot.
// It must be called for every snapshot so high-water crossings are seen.
func (r *ProgressReporter) Due(p Progress) bool {
	above := r.highWater > 0 && p.Pending > r.highWater
	crossed := above && !r.above
	r.above = above
	if crossed {
		return true
	}
	return r.interval > 0 && p.PacketsRead > 0 && p.PacketsRead%r.interval == 0
}

// Remaining estimates the time left from the read rate so far.
func (r *ProgressReporter) Remaining(p Progress) time.Duration {
	elapsed := r.Elapsed()
	if p.PacketsRead <= 0 || p.PacketsTotal <= p.PacketsRead {
		return 0
	}
	perPacket := float64(elapsed) / float64(p.PacketsRead)
	return time.Duration(perPacket * float64(p.PacketsTotal-p.PacketsRead))
}

// Format renders the progress block.
func (r *ProgressReporter) Format(p Progress) string {
	var b strings.Builder
	b.WriteString("-+-+-+-+-+-+-+-+-+-+-+-+-+-\n")
	fmt.Fprintf(&b, "Run time: %.3f minutes\n", r.Elapsed().Minutes())
	fmt.Fprintf(&b, "Estimated time remaining: %.2f minutes\n", r.Remaining(p).Minutes())
	fmt.Fprintf(&b, "Packets analysed: %d/%d\n", p.PacketsRead, p.PacketsTotal)
	fmt.Fprintf(&b, "Completed frames to date: %d\n", p.FramesCompleted)
	fmt.Fprintf(&b, "Completed accumulations to date: %d\n", p.Records)
	fmt.Fprintf(&b, "Packet-to-frame ratio: %.4f\n", p.PacketToFrameRatio())
	fmt.Fprintf(&b, "Number of incomplete frames: %d\n", p.IncompleteFrames)
	fmt.Fprintf(&b, "Number of forgotten packets: %d\n", p.ForgottenPackets)
	fmt.Fprintf(&b, "Number of pending frames: %d", p.Pending)
	return b.String()
}

// Report writes the progress block through Logf.
func (r *ProgressReporter) Report(p Progress) {
	Logf("%s", r.Format(p))
}
