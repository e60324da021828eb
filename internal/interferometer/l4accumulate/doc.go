// Package l4accumulate owns Layer 4 (Accumulation) of the interferometer data
// model.
//
// Responsibilities: summing per-frame visibility triangles over a fixed
// depth and emitting one Record per full cycle, with the constituent frame
// numbers and the cycle's start sequence index and timestamp.
// Key types: Accumulator, Record, Config, PartialPolicy.
//
// Dependency rule: L4 may depend on L1–L3, but never on the pipeline.
package l4accumulate
