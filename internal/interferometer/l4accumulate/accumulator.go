package l4accumulate

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/cmplxs"

	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
)

var (
	// ErrShapeMismatch is returned when a triangle does not match the
	// configured product and bin counts.
	ErrShapeMismatch = errors.New("triangle shape mismatch")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid accumulator config")
)

// PartialPolicy decides what happens to a cycle holding fewer than Depth
// frames when the stream ends.
type PartialPolicy int

const (
	// PartialDrop discards the partial cycle and counts it (default).
	PartialDrop PartialPolicy = iota
	// PartialEmit emits the partial cycle as a Record marked Partial.
	PartialEmit
)

func (p PartialPolicy) String() string {
	switch p {
	case PartialDrop:
		return "drop"
	case PartialEmit:
		return "emit"
	default:
		return fmt.Sprintf("partial(%d)", int(p))
	}
}

// ParsePartialPolicy parses "drop" or "emit". An empty string is PartialDrop.
func ParsePartialPolicy(s string) (PartialPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return PartialDrop, nil
	case "emit":
		return PartialEmit, nil
	default:
		return PartialDrop, fmt.Errorf("unknown partial cycle policy %q (want drop or emit)", s)
	}
}

// Config contains configuration for the Accumulator.
type Config struct {
	Depth    int           // frames per record (N)
	Products int           // triangle rows, C(C+1)/2
	Bins     int           // frequency bins per product
	Partial  PartialPolicy // end-of-stream handling of an unfinished cycle
}

// Record is one accumulation cycle's output. It is immutable once emitted.
type Record struct {
	StartSequenceIndex int64
	StartTimestamp     string
	Products           l3correlate.Triangle
	FrameNumbers       []uint32
	SequenceIndices    []int64
	Partial            bool // fewer than Depth frames; only with PartialEmit
}

// Depth returns the number of frames summed into the record.
func (r *Record) Depth() int { return len(r.FrameNumbers) }

// Stats are the running counters kept by an Accumulator.
type Stats struct {
	FramesAdded     int64
	RecordsEmitted  int64
	PartialRecords  int64 // emitted under PartialEmit
	DiscardedCycles int64 // dropped under PartialDrop
	DiscardedFrames int64
}

// cycle is the state of the accumulation in progress.
type cycle struct {
	sum             l3correlate.Triangle
	fill            int
	startSequence   int64
	startTimestamp  string
	frameNumbers    []uint32
	sequenceIndices []int64
}

// Accumulator sums triangles over Depth frames. It is single-writer and not
// safe for concurrent use.
type Accumulator struct {
	cfg   Config
	cur   cycle
	stats Stats
}

// New creates an Accumulator with the specified configuration.
func New(cfg Config) (*Accumulator, error) {
	if cfg.Depth <= 0 {
		return nil, fmt.Errorf("%w: depth must be positive, got %d", ErrInvalidConfig, cfg.Depth)
	}
	if cfg.Products <= 0 || cfg.Bins <= 0 {
		return nil, fmt.Errorf("%w: products=%d bins=%d", ErrInvalidConfig, cfg.Products, cfg.Bins)
	}
	if cfg.Partial != PartialDrop && cfg.Partial != PartialEmit {
		return nil, fmt.Errorf("%w: partial policy %v", ErrInvalidConfig, cfg.Partial)
	}
	a := &Accumulator{cfg: cfg}
	a.Reset()
	return a, nil
}

// Config returns the accumulator configuration.
func (a *Accumulator) Config() Config { return a.cfg }

// Add sums a frame's triangle into the current cycle. When the cycle reaches
// Depth frames it returns the finished Record and starts a new, zeroed cycle;
// otherwise the Record is nil.
func (a *Accumulator) Add(tri l3correlate.Triangle, frameNumber uint32, sequenceIndex int64, timestamp string) (*Record, error) {
	if tri.Products() != a.cfg.Products || tri.Bins() != a.cfg.Bins {
		return nil, fmt.Errorf("%w: got %d×%d, want %d×%d",
			ErrShapeMismatch, tri.Products(), tri.Bins(), a.cfg.Products, a.cfg.Bins)
	}
	for k := range tri {
		if len(tri[k]) != a.cfg.Bins {
			return nil, fmt.Errorf("%w: product %d has %d bins", ErrShapeMismatch, k, len(tri[k]))
		}
	}

	if a.cur.fill == 0 {
		a.cur.startSequence = sequenceIndex
		a.cur.startTimestamp = timestamp
	}
	for k := range tri {
		cmplxs.Add(a.cur.sum[k], tri[k])
	}
	a.cur.fill++
	a.cur.frameNumbers = append(a.cur.frameNumbers, frameNumber)
	a.cur.sequenceIndices = append(a.cur.sequenceIndices, sequenceIndex)
	a.stats.FramesAdded++

	if a.cur.fill < a.cfg.Depth {
		return nil, nil
	}
	rec := a.take(false)
	a.stats.RecordsEmitted++
	tracef("record emitted: start=%d frames=%d", rec.StartSequenceIndex, rec.Depth())
	return rec, nil
}

// Finish closes the stream. A partial cycle is either dropped and counted or
// returned as a Partial record, depending on the policy.
func (a *Accumulator) Finish() (*Record, bool) {
	if a.cur.fill == 0 {
		return nil, false
	}
	if a.cfg.Partial == PartialDrop {
		a.stats.DiscardedCycles++
		a.stats.DiscardedFrames += int64(a.cur.fill)
		diagf("dropping partial cycle of %d/%d frames starting at sequence %d",
			a.cur.fill, a.cfg.Depth, a.cur.startSequence)
		a.Reset()
		return nil, false
	}
	rec := a.take(true)
	a.stats.RecordsEmitted++
	a.stats.PartialRecords++
	opsf("emitting partial record of %d/%d frames starting at sequence %d",
		rec.Depth(), a.cfg.Depth, rec.StartSequenceIndex)
	return rec, true
}

// take hands the current cycle out as a Record and starts a fresh one.
func (a *Accumulator) take(partial bool) *Record {
	rec := &Record{
		StartSequenceIndex: a.cur.startSequence,
		StartTimestamp:     a.cur.startTimestamp,
		Products:           a.cur.sum,
		FrameNumbers:       a.cur.frameNumbers,
		SequenceIndices:    a.cur.sequenceIndices,
		Partial:            partial,
	}
	a.Reset()
	return rec
}

// Reset discards the current cycle without counting it.
func (a *Accumulator) Reset() {
	a.cur = cycle{
		sum:             l3correlate.NewTriangleShape(a.cfg.Products, a.cfg.Bins),
		frameNumbers:    make([]uint32, 0, a.cfg.Depth),
		sequenceIndices: make([]int64, 0, a.cfg.Depth),
	}
}

// FillCount returns the number of frames in the current cycle.
func (a *Accumulator) FillCount() int { return a.cur.fill }

// Sum returns a copy of the running sum of the current cycle.
func (a *Accumulator) Sum() l3correlate.Triangle {
	out := l3correlate.NewTriangleShape(a.cfg.Products, a.cfg.Bins)
	for k := range out {
		copy(out[k], a.cur.sum[k])
	}
	return out
}

// Stats returns a copy of the running counters.
func (a *Accumulator) Stats() Stats { return a.stats }
