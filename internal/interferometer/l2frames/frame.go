package l2frames

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
)

// ErrStructuralMismatch is returned when a packet is merged into a frame with
// a different frame number. Correct matching never produces it; callers must
// treat it as fatal.
var ErrStructuralMismatch = errors.New("structural mismatch: packet frame number differs from frame")

// channelSet is a fixed-width bitset of received channel slots.
type channelSet []uint64

func newChannelSet(channels int) channelSet {
	return make(channelSet, (channels+63)/64)
}

func (s channelSet) set(ch int)      { s[ch/64] |= 1 << uint(ch%64) }
func (s channelSet) has(ch int) bool { return s[ch/64]&(1<<uint(ch%64)) != 0 }

func (s channelSet) count() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

// Frame is one synchronised multi-channel sample group sharing a frame number.
type Frame struct {
	FrameNumber   uint32 // hardware-issued group key
	SequenceIndex int64  // assigned by the Reassembler at creation

	payloads   [][]int8 // [channel][2·F] raw samples
	timestamps []string // per-channel capture timestamps
	received   channelSet
	nReceived  int
}

// newFrame creates a frame seeded with its first packet. The packet must
// already be validated against the frame geometry.
func newFrame(channels, payloadLen int, sequence int64, pkt l1packets.Packet) *Frame {
	f := &Frame{
		FrameNumber:   pkt.FrameNumber,
		SequenceIndex: sequence,
		payloads:      make([][]int8, channels),
		timestamps:    make([]string, channels),
		received:      newChannelSet(channels),
	}
	backing := make([]int8, channels*payloadLen)
	for ch := range f.payloads {
		f.payloads[ch] = backing[ch*payloadLen : (ch+1)*payloadLen : (ch+1)*payloadLen]
	}
	f.store(pkt)
	return f
}

// NewFrameFromPackets builds a frame directly from a set of packets sharing
// one frame number. It is intended for re-correlating stored frames and for
// tests; streaming callers use a Reassembler.
func NewFrameFromPackets(channels, bins int, sequence int64, pkts ...l1packets.Packet) (*Frame, error) {
	if len(pkts) == 0 {
		return nil, fmt.Errorf("frame requires at least one packet")
	}
	for _, p := range pkts {
		if err := p.Validate(channels, bins); err != nil {
			return nil, err
		}
	}
	f := newFrame(channels, l1packets.PayloadLen(bins), sequence, pkts[0])
	for _, p := range pkts[1:] {
		if _, err := f.Merge(p); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Frame) store(pkt l1packets.Packet) {
	copy(f.payloads[pkt.Antenna], pkt.Payload)
	f.timestamps[pkt.Antenna] = pkt.CaptureTimestamp
	if !f.received.has(pkt.Antenna) {
		f.received.set(pkt.Antenna)
		f.nReceived++
	}
}

// Merge writes the packet into its channel slot, overwriting any earlier
// payload for the same channel, and reports whether the frame is now complete.
func (f *Frame) Merge(pkt l1packets.Packet) (bool, error) {
	if pkt.FrameNumber != f.FrameNumber {
		return false, fmt.Errorf("%w: frame %08X, packet %08X (antenna %d)",
			ErrStructuralMismatch, f.FrameNumber, pkt.FrameNumber, pkt.Antenna)
	}
	if pkt.Antenna < 0 || pkt.Antenna >= len(f.payloads) {
		return false, fmt.Errorf("%w: antenna %d, channels %d",
			l1packets.ErrAntennaOutOfRange, pkt.Antenna, len(f.payloads))
	}
	if len(pkt.Payload) != len(f.payloads[pkt.Antenna]) {
		return false, fmt.Errorf("%w: got %d samples, want %d",
			l1packets.ErrPayloadLength, len(pkt.Payload), len(f.payloads[pkt.Antenna]))
	}
	f.store(pkt)
	return f.IsComplete(), nil
}

// Channels returns the number of channel slots in the frame.
func (f *Frame) Channels() int { return len(f.payloads) }

// IsComplete reports whether every channel slot has been filled.
func (f *Frame) IsComplete() bool { return f.nReceived == len(f.payloads) }

// ReceivedCount returns the number of filled channel slots.
func (f *Frame) ReceivedCount() int { return f.nReceived }

// HasChannel reports whether the channel slot has been filled.
func (f *Frame) HasChannel(ch int) bool {
	if ch < 0 || ch >= len(f.payloads) {
		return false
	}
	return f.received.has(ch)
}

// Payload returns the raw samples for a channel. The slice is owned by the
// frame and must not be modified.
func (f *Frame) Payload(ch int) []int8 { return f.payloads[ch] }

// ChannelTimestamp returns the capture timestamp recorded for a channel.
func (f *Frame) ChannelTimestamp(ch int) string { return f.timestamps[ch] }

// Timestamp returns the capture timestamp of channel 0, falling back to the
// lowest received channel when channel 0 is missing.
func (f *Frame) Timestamp() string {
	for ch := range f.timestamps {
		if f.received.has(ch) {
			return f.timestamps[ch]
		}
	}
	return ""
}

// ReceivedKey renders the received bitset as a string of 0/1 per channel.
func (f *Frame) ReceivedKey() string {
	var b strings.Builder
	b.Grow(len(f.payloads))
	for ch := range f.payloads {
		if f.received.has(ch) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// String returns a multi-line summary of the frame's fill state.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame index: %d\nFrame number: %X\n\tTotal number traces: %d\n\tTotal filled traces: %d\n\tReceived traces: %s",
		f.SequenceIndex, f.FrameNumber, len(f.payloads), f.nReceived, f.ReceivedKey())
}
