package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
)

// Source is an indexable packet store read strictly in increasing index
// order. ReadPacket returns io.EOF when the store holds fewer packets than
// NumPackets reported; the run then ends early without error.
type Source interface {
	NumPackets() int
	ReadPacket(ctx context.Context, index int) (l1packets.Packet, error)
}

// Sink stores emitted records at caller-supplied write indices. Truncate is
// called once at stream end with the number of records actually written.
type Sink interface {
	WriteRecord(ctx context.Context, index int, rec *l4accumulate.Record) error
	Truncate(ctx context.Context, n int) error
}

// SliceSource serves packets from memory.
type SliceSource struct {
	Packets []l1packets.Packet
}

// NumPackets returns the number of packets held.
func (s *SliceSource) NumPackets() int { return len(s.Packets) }

// ReadPacket returns the packet at index.
func (s *SliceSource) ReadPacket(ctx context.Context, index int) (l1packets.Packet, error) {
	if err := ctx.Err(); err != nil {
		return l1packets.Packet{}, err
	}
	if index < 0 || index >= len(s.Packets) {
		return l1packets.Packet{}, io.EOF
	}
	return s.Packets[index], nil
}

// MemorySink collects records in memory. It is safe for concurrent readers.
type MemorySink struct {
	mu      sync.Mutex
	records []*l4accumulate.Record
}

// WriteRecord stores rec at index, growing the slice as needed.
func (s *MemorySink) WriteRecord(_ context.Context, index int, rec *l4accumulate.Record) error {
	if index < 0 {
		return fmt.Errorf("invalid write index %d", index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.records) <= index {
		s.records = append(s.records, nil)
	}
	s.records[index] = rec
	return nil
}

// Truncate drops every record at index n and above.
func (s *MemorySink) Truncate(_ context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.records) {
		clear(s.records[n:])
		s.records = s.records[:n]
	}
	return nil
}

// Records returns a copy of the stored record list.
func (s *MemorySink) Records() []*l4accumulate.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*l4accumulate.Record, len(s.records))
	copy(out, s.records)
	return out
}
