// Package pipeline wires the interferometer layers into one streaming run:
// Source → Reassembler (L2) → Correlator (L3) → Accumulator (L4) → Sink.
//
// The core is single-writer: each packet is fully processed before the next.
// With Config.HandoffQueue set, packet reads move to a producer goroutine
// feeding a bounded queue while reassembly and accumulation stay on one
// goroutine.
package pipeline
