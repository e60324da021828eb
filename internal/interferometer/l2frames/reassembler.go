package l2frames

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
)

// Eviction defaults, matching the acquisition scripts' cleaning threshold.
const (
	// DefaultEvictionAge is the age (in frames created since) beyond which an
	// incomplete pending frame is evicted.
	DefaultEvictionAge = 1000

	// DefaultEvictionInterval is the number of ingests between eviction passes.
	DefaultEvictionInterval = 1000
)

// ErrInvalidConfig is returned by NewReassembler for unusable geometry.
var ErrInvalidConfig = errors.New("invalid reassembler config")

// Outcome describes what an ingested packet did to the mailbox.
type Outcome int

const (
	// OutcomeCreated means the packet opened a new pending frame.
	OutcomeCreated Outcome = iota
	// OutcomeMatched means the packet was merged into a pending frame that is still incomplete.
	OutcomeMatched
	// OutcomeCompleted means the packet completed a frame, which left the mailbox.
	OutcomeCompleted
	// OutcomeRejected means the packet failed validation and was dropped.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeMatched:
		return "matched"
	case OutcomeCompleted:
		return "completed"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// IngestResult is returned for every ingested packet. Frame is set for
// Created, Matched and Completed outcomes; only a Completed frame is owned by
// the caller.
type IngestResult struct {
	Outcome Outcome
	Frame   *Frame
}

// ReassemblerConfig contains configuration for the Reassembler.
type ReassemblerConfig struct {
	Channels         int   // channel count C
	Bins             int   // complex bins F; packets carry 2·F samples
	EvictionAge      int64 // evict when latest sequence - frame sequence exceeds this (default: 1000)
	EvictionInterval int   // ingests between eviction passes (default: 1000)
	PendingHighWater int   // also run a pass when the mailbox exceeds this size (default: 0 = off)
}

// ReassemblerStats are the running counters kept by a Reassembler.
type ReassemblerStats struct {
	PacketsIngested  int64 // validated packets
	RejectedPackets  int64 // packets dropped by validation
	DuplicatePackets int64 // packets that overwrote an already-filled channel
	FramesCreated    int64
	FramesCompleted  int64
	FlushedComplete  int64 // complete frames found in the mailbox at end of stream
	IncompleteFrames int64 // frames evicted or flushed without every channel
	ForgottenPackets int64 // packets held by those incomplete frames
	EvictionPasses   int64 // scans of the mailbox
	EvictionSkips    int64 // due passes skipped because no frame was old enough
	PeakPending      int
}

// Reassembler matches packets to pending frames by frame number.
//
// The mailbox is an arena of frame slots with a free list, indexed by frame
// number, so matching is O(1) while eviction and flush scan the arena. A
// Reassembler is single-writer and not safe for concurrent use.
type Reassembler struct {
	channels         int
	bins             int
	payloadLen       int
	evictionAge      int64
	evictionInterval int
	highWater        int

	slots         []*Frame       // arena; nil marks a free slot
	free          []int          // free slot indices
	index         map[uint32]int // frame number -> slot
	nextSequence  int64
	oldest        int64 // lower bound on the smallest pending SequenceIndex
	sinceEviction int

	stats ReassemblerStats
}

// NewReassembler creates a Reassembler with the specified configuration.
func NewReassembler(cfg ReassemblerConfig) (*Reassembler, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidConfig, cfg.Channels)
	}
	if cfg.Bins <= 0 {
		return nil, fmt.Errorf("%w: bins must be positive, got %d", ErrInvalidConfig, cfg.Bins)
	}
	if cfg.EvictionAge < 0 || cfg.EvictionInterval < 0 || cfg.PendingHighWater < 0 {
		return nil, fmt.Errorf("%w: eviction settings must be non-negative", ErrInvalidConfig)
	}
	if cfg.EvictionAge == 0 {
		cfg.EvictionAge = DefaultEvictionAge
	}
	if cfg.EvictionInterval == 0 {
		cfg.EvictionInterval = DefaultEvictionInterval
	}

	return &Reassembler{
		channels:         cfg.Channels,
		bins:             cfg.Bins,
		payloadLen:       l1packets.PayloadLen(cfg.Bins),
		evictionAge:      cfg.EvictionAge,
		evictionInterval: cfg.EvictionInterval,
		highWater:        cfg.PendingHighWater,
		index:            make(map[uint32]int),
	}, nil
}

// Ingest routes one packet into the mailbox.
//
// An eviction pass runs first when due, so a stale frame is removed before a
// late packet could complete it; such a packet opens a fresh frame instead.
// A due pass only scans the mailbox when the oldest pending frame may have
// aged out.
// The only error is ErrStructuralMismatch, which callers must treat as fatal.
func (r *Reassembler) Ingest(pkt l1packets.Packet) (IngestResult, error) {
	if err := pkt.Validate(r.channels, r.bins); err != nil {
		r.stats.RejectedPackets++
		opsf("rejected packet frame=%08X antenna=%d: %v", pkt.FrameNumber, pkt.Antenna, err)
		return IngestResult{Outcome: OutcomeRejected}, nil
	}
	r.stats.PacketsIngested++

	r.sinceEviction++
	if r.sinceEviction >= r.evictionInterval || (r.highWater > 0 && r.Pending() > r.highWater) {
		r.sinceEviction = 0
		if r.Pending() > 0 && r.nextSequence-1-r.oldest > r.evictionAge {
			r.Evict()
		} else {
			r.stats.EvictionSkips++
		}
	}

	if slot, ok := r.index[pkt.FrameNumber]; ok {
		f := r.slots[slot]
		if f.HasChannel(pkt.Antenna) {
			r.stats.DuplicatePackets++
			tracef("duplicate packet frame=%08X antenna=%d overwrites earlier payload", pkt.FrameNumber, pkt.Antenna)
		}
		complete, err := f.Merge(pkt)
		if err != nil {
			return IngestResult{}, err
		}
		if !complete {
			return IngestResult{Outcome: OutcomeMatched, Frame: f}, nil
		}
		r.release(slot)
		r.stats.FramesCompleted++
		tracef("frame %08X complete (index=%d pending=%d)", f.FrameNumber, f.SequenceIndex, r.Pending())
		return IngestResult{Outcome: OutcomeCompleted, Frame: f}, nil
	}

	f := newFrame(r.channels, r.payloadLen, r.nextSequence, pkt)
	r.nextSequence++
	r.stats.FramesCreated++
	if f.IsComplete() {
		// Single-channel geometry: the seeding packet already completes it.
		r.stats.FramesCompleted++
		return IngestResult{Outcome: OutcomeCompleted, Frame: f}, nil
	}
	r.insert(f)
	return IngestResult{Outcome: OutcomeCreated, Frame: f}, nil
}

// Evict removes every pending frame whose age relative to the most recently
// created frame exceeds the eviction age, and returns how many were removed.
// Evicted frames are counted as incomplete and are never emitted.
func (r *Reassembler) Evict() int {
	r.stats.EvictionPasses++
	latest := r.nextSequence - 1
	evicted := 0
	r.oldest = r.nextSequence
	for slot, f := range r.slots {
		if f == nil {
			continue
		}
		if latest-f.SequenceIndex <= r.evictionAge {
			r.oldest = min(r.oldest, f.SequenceIndex)
			continue
		}
		r.stats.IncompleteFrames++
		r.stats.ForgottenPackets += int64(f.ReceivedCount())
		diagf("incomplete frame evicted:\n%s", f)
		r.release(slot)
		evicted++
	}
	if evicted > 0 {
		opsf("evicted %d incomplete frames older than %d; pending=%d", evicted, r.evictionAge, r.Pending())
	}
	return evicted
}

// Flush empties the mailbox at end of stream. Frames that happen to be
// complete are returned in sequence order; all others are counted as
// incomplete with their packets forgotten.
func (r *Reassembler) Flush() []*Frame {
	var complete []*Frame
	for _, f := range r.slots {
		if f == nil {
			continue
		}
		if f.IsComplete() {
			r.stats.FramesCompleted++
			r.stats.FlushedComplete++
			opsf("complete frame found in mailbox at end of stream:\n%s", f)
			complete = append(complete, f)
			continue
		}
		r.stats.IncompleteFrames++
		r.stats.ForgottenPackets += int64(f.ReceivedCount())
		diagf("incomplete frame at end of stream:\n%s", f)
	}
	sort.Slice(complete, func(a, b int) bool {
		return complete[a].SequenceIndex < complete[b].SequenceIndex
	})

	clear(r.slots)
	r.slots = r.slots[:0]
	r.free = r.free[:0]
	clear(r.index)
	r.oldest = r.nextSequence
	return complete
}

// Reset discards all pending frames and counters without reporting them.
// Use it when switching to an unrelated packet stream.
func (r *Reassembler) Reset() {
	clear(r.slots)
	r.slots = r.slots[:0]
	r.free = r.free[:0]
	clear(r.index)
	r.nextSequence = 0
	r.oldest = 0
	r.sinceEviction = 0
	r.stats = ReassemblerStats{}
}

// Pending returns the number of frames in the mailbox.
func (r *Reassembler) Pending() int { return len(r.index) }

// NextSequence returns the sequence index the next created frame will get.
func (r *Reassembler) NextSequence() int64 { return r.nextSequence }

// Stats returns a copy of the running counters.
func (r *Reassembler) Stats() ReassemblerStats { return r.stats }

// PendingFrames returns the frames currently in the mailbox ordered by
// sequence index. The frames remain owned by the Reassembler.
func (r *Reassembler) PendingFrames() []*Frame {
	out := make([]*Frame, 0, len(r.index))
	for _, f := range r.slots {
		if f != nil {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SequenceIndex < out[b].SequenceIndex })
	return out
}

func (r *Reassembler) insert(f *Frame) {
	if len(r.index) == 0 {
		r.oldest = f.SequenceIndex
	}
	var slot int
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[slot] = f
	} else {
		slot = len(r.slots)
		r.slots = append(r.slots, f)
	}
	r.index[f.FrameNumber] = slot
	if p := len(r.index); p > r.stats.PeakPending {
		r.stats.PeakPending = p
	}
}

func (r *Reassembler) release(slot int) {
	f := r.slots[slot]
	delete(r.index, f.FrameNumber)
	r.slots[slot] = nil
	r.free = append(r.free, slot)
}
