package testutil

import (
	"testing"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
)

func TestOrderedStream(t *testing.T) {
	pkts := OrderedStream(3, 2, 4, 0x10)
	if len(pkts) != 12 {
		t.Fatalf("len = %d, want 12", len(pkts))
	}
	for i, p := range pkts {
		if err := p.Validate(3, 2); err != nil {
			t.Errorf("packet %d invalid: %v", i, err)
		}
		if want := uint32(0x10 + i/3); p.FrameNumber != want {
			t.Errorf("packet %d frame = %X, want %X", i, p.FrameNumber, want)
		}
		if p.Payload[0] != int8(p.Antenna+1) {
			t.Errorf("packet %d fill = %d, want %d", i, p.Payload[0], p.Antenna+1)
		}
	}
}

func TestFilledPayload(t *testing.T) {
	p := FilledPayload(3, -2)
	if len(p) != l1packets.PayloadLen(3) {
		t.Fatalf("len = %d", len(p))
	}
	for _, v := range p {
		if v != -2 {
			t.Fatalf("payload = %v", p)
		}
	}
}

func TestCompleteFrame(t *testing.T) {
	f := CompleteFrame(t, 7, 3, Samples(1, 0), Samples(0, 1))
	if !f.IsComplete() || f.Channels() != 2 || f.SequenceIndex != 3 {
		t.Errorf("frame = %s", f)
	}
	if f.Timestamp() != DefaultTimestamp {
		t.Errorf("Timestamp = %q", f.Timestamp())
	}
}

func TestNewTestRequest_Loopback(t *testing.T) {
	req := NewTestRequest("GET", "/debug/")
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("RemoteAddr = %q", req.RemoteAddr)
	}
	AssertStatusCode(t, 200, 200)
	AssertNoError(t, nil)
}
