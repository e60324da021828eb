package l3correlate

import "fmt"

// Pair identifies one correlation product: channel I times the conjugate of
// channel J, with J <= I.
type Pair struct {
	I, J int
}

// IsAuto reports whether the pair is an autocorrelation (diagonal) product.
func (p Pair) IsAuto() bool { return p.I == p.J }

func (p Pair) String() string { return fmt.Sprintf("%d×%d*", p.I, p.J) }

// NumProducts returns C(C+1)/2, the number of products in a triangle over
// the given number of channels.
func NumProducts(channels int) int {
	return channels * (channels + 1) / 2
}

// Index returns the flat product index of (i, j). Products are ordered with
// row i outer and column j <= i inner, so (0,0), (1,0), (1,1), (2,0), ...
// It panics if j > i or either index is negative.
func Index(i, j int) int {
	if i < 0 || j < 0 || j > i {
		panic(fmt.Sprintf("l3correlate: invalid pair (%d, %d)", i, j))
	}
	return i*(i+1)/2 + j
}

// Pairs lists every pair for the channel count in flat product order.
func Pairs(channels int) []Pair {
	out := make([]Pair, 0, NumProducts(channels))
	for i := 0; i < channels; i++ {
		for j := 0; j <= i; j++ {
			out = append(out, Pair{I: i, J: j})
		}
	}
	return out
}
