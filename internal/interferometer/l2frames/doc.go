// Package l2frames owns Layer 2 (Frames) of the interferometer data model.
//
// Responsibilities: reassembling per-antenna packets into synchronised
// multi-channel frames, tracking the pending-frame mailbox, and evicting
// stale incomplete frames.
// Key types: Frame, Reassembler, IngestResult.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2frames
