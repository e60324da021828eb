// Package synth generates synthetic multi-antenna packet streams: a common
// sky signal seen by every antenna with a per-antenna delay, plus independent
// receiver noise, quantised to int8 and delivered with loss, duplication and
// local reordering.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
)

// TimestampLayout is the receiver's capture timestamp format.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid generator config")

// Config contains configuration for the Generator.
type Config struct {
	Channels      int           // antennas (default: 4)
	Bins          int           // complex bins per packet (default: l1packets.DefaultBins)
	Frames        int           // frames to generate
	Seed          uint64        // PRNG seed; equal seeds give equal streams
	SignalLevel   float64       // sky signal std dev in sample units (default: 20)
	NoiseLevel    float64       // receiver noise std dev in sample units (default: 10)
	Delays        []float64     // per-antenna delay in samples; nil = zero
	DropRate      float64       // probability a packet is lost
	DuplicateRate float64       // probability a packet is delivered twice
	Jitter        int           // max forward displacement of a packet in the stream
	StartFrame    uint32        // first hardware frame number
	FrameStep     uint32        // frame number increment (default: 1)
	Start         time.Time     // capture time of the first frame (default: 2016-01-01 UTC)
	FramePeriod   time.Duration // capture time between frames (default: 1ms)
}

// Stats counts what the generator did to the stream.
type Stats struct {
	Frames     int
	Packets    int // packets emitted, duplicates included
	Dropped    int
	Duplicated int
}

// Generator produces deterministic synthetic packet streams.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	stats Stats
}

// New creates a Generator with the specified configuration.
func New(cfg Config) (*Generator, error) {
	if cfg.Channels == 0 {
		cfg.Channels = 4
	}
	if cfg.Bins == 0 {
		cfg.Bins = l1packets.DefaultBins
	}
	if cfg.SignalLevel == 0 {
		cfg.SignalLevel = 20
	}
	if cfg.NoiseLevel == 0 {
		cfg.NoiseLevel = 10
	}
	if cfg.FrameStep == 0 {
		cfg.FrameStep = 1
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if cfg.FramePeriod == 0 {
		cfg.FramePeriod = time.Millisecond
	}

	switch {
	case cfg.Channels < 0 || cfg.Channels > l1packets.MaxChannels:
		return nil, fmt.Errorf("%w: channels %d outside [1, %d]", ErrInvalidConfig, cfg.Channels, l1packets.MaxChannels)
	case cfg.Bins < 0 || cfg.Frames < 0 || cfg.Jitter < 0:
		return nil, fmt.Errorf("%w: bins, frames and jitter must be non-negative", ErrInvalidConfig)
	case cfg.DropRate < 0 || cfg.DropRate >= 1 || cfg.DuplicateRate < 0 || cfg.DuplicateRate >= 1:
		return nil, fmt.Errorf("%w: drop and duplicate rates must be in [0, 1)", ErrInvalidConfig)
	case cfg.Delays != nil && len(cfg.Delays) != cfg.Channels:
		return nil, fmt.Errorf("%w: %d delays for %d channels", ErrInvalidConfig, len(cfg.Delays), cfg.Channels)
	}

	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Config returns the effective configuration with defaults applied.
func (g *Generator) Config() Config { return g.cfg }

// Stats returns what the generator has done so far.
func (g *Generator) Stats() Stats { return g.stats }

// Frame returns every channel's packet for one frame, in channel order,
// before any loss or reordering.
func (g *Generator) Frame(frameNumber uint32, captured time.Time) []l1packets.Packet {
	ts := captured.Format(TimestampLayout)
	sky := make([]complex128, g.cfg.Bins)
	for b := range sky {
		sky[b] = g.normal(g.cfg.SignalLevel)
	}

	pkts := make([]l1packets.Packet, g.cfg.Channels)
	for ch := range pkts {
		payload := make([]int8, l1packets.PayloadLen(g.cfg.Bins))
		delay := 0.0
		if g.cfg.Delays != nil {
			delay = g.cfg.Delays[ch]
		}
		for b, s := range sky {
			phase := -2 * math.Pi * float64(b) * delay / float64(g.cfg.Bins)
			v := s*cmplx.Rect(1, phase) + g.normal(g.cfg.NoiseLevel)
			payload[2*b] = Quantize(real(v))
			payload[2*b+1] = Quantize(imag(v))
		}
		pkts[ch] = l1packets.Packet{
			Antenna:          ch,
			FrameNumber:      frameNumber,
			Payload:          payload,
			CaptureTimestamp: ts,
		}
	}
	return pkts
}

// Generate returns the full stream: Frames frames with loss, duplication and
// jitter applied.
func (g *Generator) Generate() []l1packets.Packet {
	var out []l1packets.Packet
	fn := g.cfg.StartFrame
	for i := 0; i < g.cfg.Frames; i++ {
		captured := g.cfg.Start.Add(time.Duration(i) * g.cfg.FramePeriod)
		for _, p := range g.Frame(fn, captured) {
			if g.rng.Float64() < g.cfg.DropRate {
				g.stats.Dropped++
				continue
			}
			out = append(out, p)
			if g.rng.Float64() < g.cfg.DuplicateRate {
				g.stats.Duplicated++
				out = append(out, p.Clone())
			}
		}
		g.stats.Frames++
		fn += g.cfg.FrameStep
	}

	if g.cfg.Jitter > 0 {
		for i := range out {
			j := i + g.rng.IntN(g.cfg.Jitter+1)
			if j < len(out) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	g.stats.Packets += len(out)
	return out
}

func (g *Generator) normal(sigma float64) complex128 {
	s := sigma / math.Sqrt2
	return complex(g.rng.NormFloat64()*s, g.rng.NormFloat64()*s)
}

// Quantize rounds to the nearest int8, saturating at the type limits.
func Quantize(v float64) int8 {
	r := math.Round(v)
	switch {
	case r > math.MaxInt8:
		return math.MaxInt8
	case r < math.MinInt8:
		return math.MinInt8
	default:
		return int8(r)
	}
}
