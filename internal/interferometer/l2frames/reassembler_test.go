package l2frames

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
)

func newTestReassembler(t *testing.T, cfg ReassemblerConfig) *Reassembler {
	t.Helper()
	r, err := NewReassembler(cfg)
	if err != nil {
		t.Fatalf("NewReassembler: %v", err)
	}
	return r
}

func mustIngest(t *testing.T, r *Reassembler, p l1packets.Packet) IngestResult {
	t.Helper()
	res, err := r.Ingest(p)
	if err != nil {
		t.Fatalf("Ingest(%v): %v", p, err)
	}
	return res
}

func TestNewReassembler_Config(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ReassemblerConfig
		wantErr bool
	}{
		{"valid", ReassemblerConfig{Channels: 4, Bins: 8}, false},
		{"zero channels", ReassemblerConfig{Bins: 8}, true},
		{"zero bins", ReassemblerConfig{Channels: 4}, true},
		{"negative age", ReassemblerConfig{Channels: 4, Bins: 8, EvictionAge: -1}, true},
		{"negative high water", ReassemblerConfig{Channels: 4, Bins: 8, PendingHighWater: -3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReassembler(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1})
	if r.evictionAge != DefaultEvictionAge || r.evictionInterval != DefaultEvictionInterval {
		t.Errorf("defaults = (%d, %d), want (%d, %d)", r.evictionAge, r.evictionInterval, DefaultEvictionAge, DefaultEvictionInterval)
	}
}

func TestReassembler_OrderedCompletion(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1})

	var completed []*Frame
	for _, p := range []l1packets.Packet{
		pkt(0, 1, 1, 1), pkt(1, 1, 1, 2),
		pkt(0, 2, 1, 3), pkt(1, 2, 1, 4),
	} {
		res := mustIngest(t, r, p)
		if res.Outcome == OutcomeCompleted {
			completed = append(completed, res.Frame)
		}
	}

	if len(completed) != 2 {
		t.Fatalf("completed %d frames, want 2", len(completed))
	}
	for i, f := range completed {
		if f.SequenceIndex != int64(i) {
			t.Errorf("frame %d SequenceIndex = %d, want %d", i, f.SequenceIndex, i)
		}
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
	st := r.Stats()
	if st.FramesCreated != 2 || st.FramesCompleted != 2 || st.PacketsIngested != 4 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReassembler_InterleavedFrames(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1})

	outcomes := []Outcome{}
	for _, p := range []l1packets.Packet{
		pkt(0, 10, 1, 0), pkt(0, 11, 1, 0), pkt(1, 11, 1, 0), pkt(1, 10, 1, 0),
	} {
		outcomes = append(outcomes, mustIngest(t, r, p).Outcome)
	}
	want := []Outcome{OutcomeCreated, OutcomeCreated, OutcomeCompleted, OutcomeCompleted}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcome[%d] = %v, want %v", i, outcomes[i], want[i])
		}
	}
	if st := r.Stats(); st.PeakPending != 2 {
		t.Errorf("PeakPending = %d, want 2", st.PeakPending)
	}
}

func TestReassembler_DuplicateCounted(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1})

	mustIngest(t, r, pkt(0, 5, 1, 1))
	res := mustIngest(t, r, pkt(0, 5, 1, 7))
	if res.Outcome != OutcomeMatched {
		t.Errorf("duplicate outcome = %v, want matched", res.Outcome)
	}
	res = mustIngest(t, r, pkt(1, 5, 1, 0))
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", res.Outcome)
	}
	if got := res.Frame.Payload(0)[0]; got != 7 {
		t.Errorf("channel 0 payload = %d, want latest duplicate 7", got)
	}
	if st := r.Stats(); st.DuplicatePackets != 1 {
		t.Errorf("DuplicatePackets = %d, want 1", st.DuplicatePackets)
	}
}

func TestReassembler_RejectsInvalidPackets(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 2})

	bad := []l1packets.Packet{
		pkt(2, 1, 2, 0),  // antenna out of range
		pkt(-1, 1, 2, 0), // negative antenna
		pkt(0, 1, 3, 0),  // wrong payload length
	}
	for _, p := range bad {
		res, err := r.Ingest(p)
		if err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		if res.Outcome != OutcomeRejected {
			t.Errorf("outcome = %v, want rejected", res.Outcome)
		}
	}
	st := r.Stats()
	if st.RejectedPackets != 3 || st.PacketsIngested != 0 || r.Pending() != 0 {
		t.Errorf("stats = %+v pending=%d", st, r.Pending())
	}
}

func TestReassembler_SingleChannelCompletesOnCreate(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 1, Bins: 1})

	res := mustIngest(t, r, pkt(0, 3, 1, 1))
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", res.Outcome)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
}

func TestReassembler_EvictionPreventsLateCompletion(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1, EvictionAge: 2, EvictionInterval: 1})

	mustIngest(t, r, pkt(0, 1, 1, 0)) // seq 0
	mustIngest(t, r, pkt(0, 2, 1, 0)) // seq 1
	mustIngest(t, r, pkt(0, 3, 1, 0)) // seq 2
	mustIngest(t, r, pkt(0, 4, 1, 0)) // seq 3; frame 1 has age 2, kept

	if r.Pending() != 4 {
		t.Fatalf("Pending = %d, want 4", r.Pending())
	}

	// Eviction runs before matching: frame 1 (age 3) leaves, and its late
	// partner opens a fresh frame instead of completing it.
	res := mustIngest(t, r, pkt(1, 1, 1, 0))
	if res.Outcome != OutcomeCreated {
		t.Fatalf("late packet outcome = %v, want created", res.Outcome)
	}
	if res.Frame.SequenceIndex != 4 {
		t.Errorf("late packet frame SequenceIndex = %d, want 4", res.Frame.SequenceIndex)
	}

	st := r.Stats()
	if st.IncompleteFrames != 1 || st.ForgottenPackets != 1 {
		t.Errorf("IncompleteFrames=%d ForgottenPackets=%d, want 1, 1", st.IncompleteFrames, st.ForgottenPackets)
	}
	if st.FramesCompleted != 0 {
		t.Errorf("FramesCompleted = %d, want 0", st.FramesCompleted)
	}
}

func TestReassembler_EvictionInterval(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1, EvictionAge: 1, EvictionInterval: 3})

	// Passes fall due at the 3rd and 6th ingest. At the 3rd the oldest frame
	// (seq 0) has age 1, so the scan is skipped; at the 6th frames 0-2 go.
	for i := uint32(0); i < 6; i++ {
		mustIngest(t, r, pkt(0, i, 1, 0))
	}
	st := r.Stats()
	if st.EvictionPasses != 1 || st.EvictionSkips != 1 {
		t.Errorf("EvictionPasses=%d EvictionSkips=%d, want 1, 1", st.EvictionPasses, st.EvictionSkips)
	}
	if st.IncompleteFrames != 3 || r.Pending() != 3 {
		t.Errorf("IncompleteFrames=%d Pending=%d, want 3, 3", st.IncompleteFrames, r.Pending())
	}
}

func TestReassembler_LossyStreamScansRarely(t *testing.T) {
	// Shipped settings: the mailbox stays above the high water mark for most
	// of the run, so a pass is due on nearly every ingest.
	r := newTestReassembler(t, ReassemblerConfig{
		Channels:         4,
		Bins:             1,
		EvictionAge:      DefaultEvictionAge,
		EvictionInterval: DefaultEvictionInterval,
		PendingHighWater: 100,
	})

	rng := rand.New(rand.NewPCG(7, 11))
	for fn := uint32(0); fn < 20000; fn++ {
		for ch := 0; ch < 4; ch++ {
			if rng.Float64() < 0.05 {
				continue
			}
			mustIngest(t, r, pkt(ch, fn, 1, 0))
		}
	}

	st := r.Stats()
	if st.IncompleteFrames == 0 {
		t.Fatal("expected evictions on a lossy stream")
	}
	// Every scan with an exact oldest bound evicts at least one frame; stale
	// bounds cost at most one extra scan per EvictionAge frames created.
	limit := st.IncompleteFrames + st.FramesCreated/DefaultEvictionAge + 1
	if st.EvictionPasses > limit {
		t.Errorf("EvictionPasses = %d, want <= %d", st.EvictionPasses, limit)
	}
	if st.EvictionPasses*10 > st.PacketsIngested {
		t.Errorf("EvictionPasses = %d for %d packets", st.EvictionPasses, st.PacketsIngested)
	}
}

func TestReassembler_HighWaterTriggersEviction(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{
		Channels: 2, Bins: 1, EvictionAge: 1, EvictionInterval: 1000, PendingHighWater: 2,
	})

	mustIngest(t, r, pkt(0, 1, 1, 0))
	mustIngest(t, r, pkt(0, 2, 1, 0))
	mustIngest(t, r, pkt(0, 3, 1, 0))
	if r.Stats().EvictionPasses != 0 {
		t.Fatal("eviction ran before the mailbox exceeded the high water mark")
	}

	mustIngest(t, r, pkt(0, 4, 1, 0))
	st := r.Stats()
	if st.EvictionPasses != 1 || st.IncompleteFrames != 1 {
		t.Errorf("EvictionPasses=%d IncompleteFrames=%d, want 1, 1", st.EvictionPasses, st.IncompleteFrames)
	}
}

func TestReassembler_SlotReuse(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1})

	for i := uint32(0); i < 50; i++ {
		mustIngest(t, r, pkt(0, i, 1, 0))
		mustIngest(t, r, pkt(1, i, 1, 0))
	}
	if len(r.slots) != 1 {
		t.Errorf("arena grew to %d slots for a single in-flight frame", len(r.slots))
	}
}

func TestReassembler_Flush(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 3, Bins: 1})

	mustIngest(t, r, pkt(0, 1, 1, 0))
	mustIngest(t, r, pkt(1, 1, 1, 0))
	mustIngest(t, r, pkt(2, 2, 1, 0))

	done := r.Flush()
	if len(done) != 0 {
		t.Errorf("Flush returned %d complete frames, want 0", len(done))
	}
	st := r.Stats()
	if st.IncompleteFrames != 2 || st.ForgottenPackets != 3 {
		t.Errorf("IncompleteFrames=%d ForgottenPackets=%d, want 2, 3", st.IncompleteFrames, st.ForgottenPackets)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending after Flush = %d", r.Pending())
	}

	// Mailbox is usable after a flush and sequence numbering continues.
	res := mustIngest(t, r, pkt(0, 9, 1, 0))
	if res.Frame.SequenceIndex != 2 {
		t.Errorf("SequenceIndex after Flush = %d, want 2", res.Frame.SequenceIndex)
	}
}

func TestReassembler_FlushReleasesFrames(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1})
	mustIngest(t, r, pkt(0, 1, 1, 0))
	mustIngest(t, r, pkt(0, 2, 1, 0))

	r.Flush()
	for i, f := range r.slots[:cap(r.slots)] {
		if f != nil {
			t.Errorf("slot %d still references frame %d after Flush", i, f.FrameNumber)
		}
	}

	mustIngest(t, r, pkt(0, 3, 1, 0))
	r.Reset()
	for i, f := range r.slots[:cap(r.slots)] {
		if f != nil {
			t.Errorf("slot %d still references frame %d after Reset", i, f.FrameNumber)
		}
	}
}

func TestReassembler_PendingFramesOrdered(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1})

	for _, fn := range []uint32{30, 10, 20} {
		mustIngest(t, r, pkt(0, fn, 1, 0))
	}
	// Free a middle slot and refill it so arena order differs from sequence order.
	mustIngest(t, r, pkt(1, 10, 1, 0))
	mustIngest(t, r, pkt(0, 40, 1, 0))

	frames := r.PendingFrames()
	want := []uint32{30, 20, 40}
	if len(frames) != len(want) {
		t.Fatalf("PendingFrames len = %d, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		if f.FrameNumber != want[i] {
			t.Errorf("PendingFrames[%d] = %d, want %d", i, f.FrameNumber, want[i])
		}
	}
}

func TestReassembler_Reset(t *testing.T) {
	r := newTestReassembler(t, ReassemblerConfig{Channels: 2, Bins: 1})
	mustIngest(t, r, pkt(0, 1, 1, 0))
	r.Reset()

	if r.Pending() != 0 || r.NextSequence() != 0 {
		t.Errorf("after Reset pending=%d next=%d", r.Pending(), r.NextSequence())
	}
	if st := r.Stats(); st != (ReassemblerStats{}) {
		t.Errorf("stats not cleared: %+v", st)
	}
}

func TestOutcome_String(t *testing.T) {
	if OutcomeCompleted.String() != "completed" {
		t.Errorf("String = %q", OutcomeCompleted.String())
	}
	if Outcome(42).String() != "outcome(42)" {
		t.Errorf("String = %q", Outcome(42).String())
	}
}
