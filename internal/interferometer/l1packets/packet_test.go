package l1packets

import (
	"errors"
	"strings"
	"testing"
)

func TestPayloadLen(t *testing.T) {
	if got := PayloadLen(DefaultBins); got != DefaultSamples {
		t.Fatalf("PayloadLen(%d) = %d, want %d", DefaultBins, got, DefaultSamples)
	}
	if got := PayloadLen(1); got != 2 {
		t.Fatalf("PayloadLen(1) = %d, want 2", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		packet  Packet
		wantErr error
	}{
		{name: "valid", packet: Packet{Antenna: 1, Payload: make([]int8, 4)}},
		{name: "negative antenna", packet: Packet{Antenna: -1, Payload: make([]int8, 4)}, wantErr: ErrAntennaOutOfRange},
		{name: "antenna equals channels", packet: Packet{Antenna: 2, Payload: make([]int8, 4)}, wantErr: ErrAntennaOutOfRange},
		{name: "short payload", packet: Packet{Antenna: 0, Payload: make([]int8, 3)}, wantErr: ErrPayloadLength},
		{name: "long payload", packet: Packet{Antenna: 0, Payload: make([]int8, 6)}, wantErr: ErrPayloadLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.packet.Validate(2, 2)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClone_DetachesPayload(t *testing.T) {
	orig := Packet{Antenna: 0, FrameNumber: 7, Payload: []int8{1, 2}, CaptureTimestamp: "t0"}
	cp := orig.Clone()
	orig.Payload[0] = 99

	if cp.Payload[0] != 1 {
		t.Fatalf("clone shares payload with original: %v", cp.Payload)
	}
	if cp.FrameNumber != 7 || cp.CaptureTimestamp != "t0" {
		t.Fatalf("clone lost header fields: %+v", cp)
	}
}

func TestString(t *testing.T) {
	s := Packet{Antenna: 3, FrameNumber: 0xAB, Payload: make([]int8, 8)}.String()
	if !strings.Contains(s, "000000AB") || !strings.Contains(s, "antenna=3") {
		t.Fatalf("unexpected packet string %q", s)
	}
}
