package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
)

func TestSliceSource(t *testing.T) {
	src := &SliceSource{Packets: completeFrames(2, 1, 1)}
	if src.NumPackets() != 2 {
		t.Fatalf("NumPackets = %d, want 2", src.NumPackets())
	}
	p, err := src.ReadPacket(context.Background(), 1)
	if err != nil || p.Antenna != 1 {
		t.Errorf("ReadPacket(1) = %v, %v", p, err)
	}
	if _, err := src.ReadPacket(context.Background(), 2); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket past end: err = %v, want io.EOF", err)
	}
}

func TestMemorySink_WriteAndTruncate(t *testing.T) {
	ctx := context.Background()
	s := &MemorySink{}
	for i := 0; i < 4; i++ {
		if err := s.WriteRecord(ctx, i, &l4accumulate.Record{StartSequenceIndex: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Truncate(ctx, 2); err != nil {
		t.Fatal(err)
	}
	got := s.Records()
	if len(got) != 2 || got[1].StartSequenceIndex != 1 {
		t.Errorf("Records after Truncate = %v", got)
	}
	if err := s.WriteRecord(ctx, -1, nil); err == nil {
		t.Error("expected error for negative index")
	}
}

func TestSummary_Derived(t *testing.T) {
	var s Summary
	if s.EquivalentFrames() != 0 || s.PacketToFrameRatio() != 0 {
		t.Error("zero summary should report zero derived values")
	}
	s.Channels = 4
	s.PacketsRead = 30
	s.Frames.FramesCompleted = 6
	s.Frames.ForgottenPackets = 5
	if got := s.EquivalentFrames(); got != 2 {
		t.Errorf("EquivalentFrames = %d, want 2", got)
	}
	if got := s.IdealFrameTotal(); got != 8 {
		t.Errorf("IdealFrameTotal = %d, want 8", got)
	}
	if got := s.PacketToFrameRatio(); got != 5 {
		t.Errorf("PacketToFrameRatio = %v, want 5", got)
	}
	if s.String() == "" {
		t.Error("empty summary string")
	}
}
