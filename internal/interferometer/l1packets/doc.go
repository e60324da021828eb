// Package l1packets owns Layer 1 (Packets) of the interferometer data model.
//
// Responsibilities: the per-antenna packet record handed over by the
// acquisition front end, payload sizing, and packet validation. This layer
// produces the packets consumed by L2 (Frames).
//
// Dependency rule: L1 has no inward dependencies on higher layers.
package l1packets
