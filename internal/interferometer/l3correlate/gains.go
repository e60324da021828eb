package l3correlate

import (
	"errors"
	"fmt"
)

// ErrGainShape is returned when a gain table does not cover C channels × F bins.
var ErrGainShape = errors.New("gain table shape mismatch")

// GainTable holds one complex multiplier per channel and bin, indexed
// [channel][bin]. A nil table means unity gain everywhere.
type GainTable [][]complex128

// UnityGains returns a table of ones for the given geometry.
func UnityGains(channels, bins int) GainTable {
	backing := make([]complex128, channels*bins)
	for i := range backing {
		backing[i] = 1
	}
	g := make(GainTable, channels)
	for ch := range g {
		g[ch] = backing[ch*bins : (ch+1)*bins : (ch+1)*bins]
	}
	return g
}

// Validate checks that the table matches the geometry. A nil table is valid.
func (g GainTable) Validate(channels, bins int) error {
	if g == nil {
		return nil
	}
	if len(g) != channels {
		return fmt.Errorf("%w: %d channels, want %d", ErrGainShape, len(g), channels)
	}
	for ch, row := range g {
		if len(row) != bins {
			return fmt.Errorf("%w: channel %d has %d bins, want %d", ErrGainShape, ch, len(row), bins)
		}
	}
	return nil
}

// Channel returns the gain row for a channel, or nil for a nil table.
func (g GainTable) Channel(ch int) []complex128 {
	if g == nil {
		return nil
	}
	return g[ch]
}
