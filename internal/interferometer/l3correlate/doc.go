// Package l3correlate owns Layer 3 (Correlation) of the interferometer data
// model.
//
// Responsibilities: converting raw interleaved samples to complex spectra,
// applying the precomputed per-channel gain, and forming the upper triangle of
// pairwise cross-products (visibilities) for one complete frame.
// Key types: Correlator, Triangle, GainTable, Pair.
//
// Dependency rule: L3 may depend on L1 and L2, but never on L4+.
package l3correlate
