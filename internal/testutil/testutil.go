// Package testutil provides shared builders and assertions for
// interferometer tests: packet streams, frames and HTTP helpers.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
	"github.com/banshee-data/visibility.report/internal/interferometer/l2frames"
)

// DefaultTimestamp is the capture timestamp given to built packets.
const DefaultTimestamp = "2024-03-01 12:00:00.000000"

// Samples builds a payload from interleaved (re, im) pairs.
func Samples(pairs ...int8) []int8 {
	return append([]int8(nil), pairs...)
}

// FilledPayload returns a payload of 2·bins samples all set to v.
func FilledPayload(bins int, v int8) []int8 {
	out := make([]int8, l1packets.PayloadLen(bins))
	for i := range out {
		out[i] = v
	}
	return out
}

// Packet builds a packet with the default timestamp.
func Packet(antenna int, frameNumber uint32, payload []int8) l1packets.Packet {
	return l1packets.Packet{
		Antenna:          antenna,
		FrameNumber:      frameNumber,
		Payload:          payload,
		CaptureTimestamp: DefaultTimestamp,
	}
}

// FramePackets returns one packet per channel for frameNumber, in antenna
// order, each payload filled with fill(antenna).
func FramePackets(channels, bins int, frameNumber uint32, fill func(antenna int) int8) []l1packets.Packet {
	out := make([]l1packets.Packet, channels)
	for a := range out {
		out[a] = Packet(a, frameNumber, FilledPayload(bins, fill(a)))
	}
	return out
}

// OrderedStream returns frames consecutive frames starting at firstFrame,
// every frame complete and its packets in antenna order.
func OrderedStream(channels, bins, frames int, firstFrame uint32) []l1packets.Packet {
	out := make([]l1packets.Packet, 0, channels*frames)
	for f := 0; f < frames; f++ {
		out = append(out, FramePackets(channels, bins, firstFrame+uint32(f), func(a int) int8 {
			return int8(a + 1)
		})...)
	}
	return out
}

// CompleteFrame assembles a complete frame from one payload per channel.
func CompleteFrame(t testing.TB, frameNumber uint32, sequence int64, payloads ...[]int8) *l2frames.Frame {
	t.Helper()
	if len(payloads) == 0 {
		t.Fatal("CompleteFrame needs at least one payload")
	}
	pkts := make([]l1packets.Packet, len(payloads))
	for ch, p := range payloads {
		pkts[ch] = Packet(ch, frameNumber, p)
	}
	f, err := l2frames.NewFrameFromPackets(len(payloads), len(payloads[0])/2, sequence, pkts...)
	if err != nil {
		t.Fatalf("NewFrameFromPackets: %v", err)
	}
	return f
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request from a loopback address, which
// the debug and admin routes require.
func NewTestRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}
