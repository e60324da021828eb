package l3correlate

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/cmplxs"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
	"github.com/banshee-data/visibility.report/internal/interferometer/l2frames"
)

var (
	// ErrIncompleteFrame is returned when asked to correlate a frame that is
	// missing at least one channel.
	ErrIncompleteFrame = errors.New("frame is incomplete")

	// ErrGeometry is returned when a frame or vector set does not match the
	// correlator's channel and bin counts.
	ErrGeometry = errors.New("geometry mismatch")
)

// Triangle holds the visibility products of one frame, indexed
// [Index(i, j)][bin]. Only pairs with j <= i are stored.
type Triangle [][]complex128

// NewTriangle allocates a zeroed triangle backed by one contiguous buffer.
func NewTriangle(channels, bins int) Triangle {
	return NewTriangleShape(NumProducts(channels), bins)
}

// NewTriangleShape allocates a zeroed triangle with an explicit product count.
func NewTriangleShape(products, bins int) Triangle {
	backing := make([]complex128, products*bins)
	t := make(Triangle, products)
	for k := range t {
		t[k] = backing[k*bins : (k+1)*bins : (k+1)*bins]
	}
	return t
}

// At returns the spectrum for pair (i, j), j <= i.
func (t Triangle) At(i, j int) []complex128 { return t[Index(i, j)] }

// Products returns the number of stored pairs.
func (t Triangle) Products() int { return len(t) }

// Bins returns the number of frequency bins per product.
func (t Triangle) Bins() int {
	if len(t) == 0 {
		return 0
	}
	return len(t[0])
}

// Convert turns interleaved raw samples into complex bins, even samples
// being the real part and odd samples the imaginary part, then multiplies in
// the gain row when it is non-nil. dst is reused when it has room.
func Convert(dst []complex128, payload []int8, gain []complex128) []complex128 {
	n := len(payload) / 2
	if cap(dst) < n {
		dst = make([]complex128, n)
	}
	dst = dst[:n]
	for k := range dst {
		dst[k] = complex(float64(payload[2*k]), float64(payload[2*k+1]))
	}
	if gain != nil {
		cmplxs.Mul(dst, gain)
	}
	return dst
}

// Correlator forms visibility triangles from complete frames. It keeps
// per-channel scratch spectra, so a Correlator must not be shared between
// goroutines; results are freshly allocated and owned by the caller.
type Correlator struct {
	channels int
	bins     int
	gains    GainTable
	spectra  [][]complex128
}

// NewCorrelator creates a Correlator for the given geometry. gains may be nil.
func NewCorrelator(channels, bins int, gains GainTable) (*Correlator, error) {
	if channels <= 0 || bins <= 0 {
		return nil, fmt.Errorf("%w: channels=%d bins=%d", ErrGeometry, channels, bins)
	}
	if err := gains.Validate(channels, bins); err != nil {
		return nil, err
	}
	spectra := make([][]complex128, channels)
	for ch := range spectra {
		spectra[ch] = make([]complex128, bins)
	}
	return &Correlator{channels: channels, bins: bins, gains: gains, spectra: spectra}, nil
}

// Channels returns the configured channel count.
func (c *Correlator) Channels() int { return c.channels }

// Bins returns the configured bin count.
func (c *Correlator) Bins() int { return c.bins }

// Correlate converts every channel of a complete frame and returns its
// triangle. The same frame always yields a bit-identical result.
func (c *Correlator) Correlate(f *l2frames.Frame) (Triangle, error) {
	if f.Channels() != c.channels {
		return nil, fmt.Errorf("%w: frame has %d channels, correlator %d", ErrGeometry, f.Channels(), c.channels)
	}
	if !f.IsComplete() {
		return nil, fmt.Errorf("%w: frame %08X received %s", ErrIncompleteFrame, f.FrameNumber, f.ReceivedKey())
	}
	want := l1packets.PayloadLen(c.bins)
	for ch := range c.spectra {
		payload := f.Payload(ch)
		if len(payload) != want {
			return nil, fmt.Errorf("%w: channel %d has %d samples, want %d", ErrGeometry, ch, len(payload), want)
		}
		c.spectra[ch] = Convert(c.spectra[ch], payload, c.gains.Channel(ch))
	}
	return CorrelateVectors(c.spectra)
}

// CorrelateVectors forms the triangle for spectra that are already complex,
// such as stored or simulated channel data. All rows must share one length.
func CorrelateVectors(spectra [][]complex128) (Triangle, error) {
	if len(spectra) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrGeometry)
	}
	bins := len(spectra[0])
	for ch, s := range spectra {
		if len(s) != bins {
			return nil, fmt.Errorf("%w: channel %d has %d bins, want %d", ErrGeometry, ch, len(s), bins)
		}
	}

	t := NewTriangle(len(spectra), bins)
	k := 0
	for i := range spectra {
		for j := 0; j <= i; j++ {
			if i == j {
				autoPower(t[k], spectra[i])
			} else {
				cmplxs.MulConjTo(t[k], spectra[i], spectra[j])
			}
			k++
		}
	}
	return t, nil
}

// autoPower writes |s|² with an exactly zero imaginary part.
func autoPower(dst, s []complex128) {
	for b, v := range s {
		re, im := real(v), imag(v)
		dst[b] = complex(re*re+im*im, 0)
	}
}
