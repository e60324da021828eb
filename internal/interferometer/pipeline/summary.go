package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/visibility.report/internal/interferometer/l2frames"
	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
)

// Summary reports the outcome of a run.
type Summary struct {
	Channels         int
	Depth            int
	PacketsAvailable int   // NumPackets reported by the source
	PacketsRequested int   // min(cap, available)
	PacketsRead      int64 // packets actually handed to the reassembler
	Truncated        bool  // a packet cap was configured
	RecordsWritten   int
	Elapsed          time.Duration

	Frames       l2frames.ReassemblerStats
	Accumulation l4accumulate.Stats
}

// EquivalentFrames expresses forgotten packets as whole frames, rounding up.
func (s Summary) EquivalentFrames() int64 {
	if s.Channels <= 0 {
		return 0
	}
	c := int64(s.Channels)
	return (s.Frames.ForgottenPackets + c - 1) / c
}

// IdealFrameTotal is the number of frames a lossless stream would have
// completed.
func (s Summary) IdealFrameTotal() int64 {
	return s.Frames.FramesCompleted + s.EquivalentFrames()
}

// PacketToFrameRatio returns packets read per completed frame, or 0 when no
// frame completed.
func (s Summary) PacketToFrameRatio() float64 {
	if s.Frames.FramesCompleted == 0 {
		return 0
	}
	return float64(s.PacketsRead) / float64(s.Frames.FramesCompleted)
}

// String renders the end-of-run report.
func (s Summary) String() string {
	var b strings.Builder
	b.WriteString("++++++++++++++++++++++++++++++++++++++++\n")
	fmt.Fprintf(&b, "Packets analysed: %d/%d (available %d, truncated %v)\n",
		s.PacketsRead, s.PacketsRequested, s.PacketsAvailable, s.Truncated)
	fmt.Fprintf(&b, "Final completed frames: %d\n", s.Frames.FramesCompleted)
	if s.Frames.FramesCompleted != 0 {
		fmt.Fprintf(&b, "Packet-to-frame ratio: %.4f\n", s.PacketToFrameRatio())
	} else {
		b.WriteString("No completed frames!\n")
	}
	fmt.Fprintf(&b, "Number of incomplete frames: %d\n", s.Frames.IncompleteFrames)
	fmt.Fprintf(&b, "Number of forgotten packets: %d\n", s.Frames.ForgottenPackets)
	fmt.Fprintf(&b, "          Equivalent frames: %d\n", s.EquivalentFrames())
	fmt.Fprintf(&b, "Ideal frame total: %d\n", s.IdealFrameTotal())
	fmt.Fprintf(&b, "Duplicate packets: %d, rejected packets: %d, peak pending: %d\n",
		s.Frames.DuplicatePackets, s.Frames.RejectedPackets, s.Frames.PeakPending)
	fmt.Fprintf(&b, "Accumulations written (depth %d): %d\n", s.Depth, s.RecordsWritten)
	fmt.Fprintf(&b, "Discarded partial cycles: %d (%d frames)\n",
		s.Accumulation.DiscardedCycles, s.Accumulation.DiscardedFrames)
	fmt.Fprintf(&b, "Run time: %.3fs", s.Elapsed.Seconds())
	return b.String()
}
