package l1packets

import (
	"errors"
	"fmt"
)

// Hardware defaults for the suitcase interferometer front end.
const (
	// DefaultSamples is the number of raw int8 samples carried by one packet.
	DefaultSamples = 2048

	// DefaultBins is the number of complex bins after conversion
	// (interleaved real/imaginary pairs).
	DefaultBins = DefaultSamples / 2

	// MaxChannels is the largest channel count the antenna field can address
	// (the header carries the antenna number in a nibble).
	MaxChannels = 16
)

var (
	// ErrAntennaOutOfRange is returned when a packet names a channel outside [0, C).
	ErrAntennaOutOfRange = errors.New("antenna out of range")

	// ErrPayloadLength is returned when a packet payload does not hold 2·F samples.
	ErrPayloadLength = errors.New("payload length mismatch")
)

// Packet is one antenna's sample buffer for one hardware frame.
// Packets are treated as immutable once read from a source.
type Packet struct {
	Antenna          int    // channel index in [0, C)
	FrameNumber      uint32 // hardware-issued group key (FPGA frame timestamp)
	Payload          []int8 // interleaved re/im raw samples, length 2·F
	CaptureTimestamp string // wall-clock capture time recorded by the receiver
}

// PayloadLen returns the raw sample count for the given number of complex bins.
func PayloadLen(bins int) int {
	return 2 * bins
}

// Validate checks the packet against the configured channel and bin counts.
func (p Packet) Validate(channels, bins int) error {
	if p.Antenna < 0 || p.Antenna >= channels {
		return fmt.Errorf("%w: antenna %d, channels %d", ErrAntennaOutOfRange, p.Antenna, channels)
	}
	if want := PayloadLen(bins); len(p.Payload) != want {
		return fmt.Errorf("%w: got %d samples, want %d", ErrPayloadLength, len(p.Payload), want)
	}
	return nil
}

// Clone returns a deep copy of the packet so callers can reuse read buffers.
func (p Packet) Clone() Packet {
	payload := make([]int8, len(p.Payload))
	copy(payload, p.Payload)
	p.Payload = payload
	return p
}

// String returns a short human-readable description of the packet.
func (p Packet) String() string {
	return fmt.Sprintf("packet frame=%08X antenna=%d samples=%d ts=%q",
		p.FrameNumber, p.Antenna, len(p.Payload), p.CaptureTimestamp)
}
