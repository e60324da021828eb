package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
)

// DefaultPageSize is the number of packets a PacketSource reads per query.
const DefaultPageSize = 512

// PacketStore provides persistence for captured packets. Packets keep the
// order they were appended in; packet_index is dense from 0.
type PacketStore struct {
	db *sql.DB
}

// NewPacketStore creates a new PacketStore.
func NewPacketStore(db *sql.DB) *PacketStore {
	return &PacketStore{db: db}
}

// Append stores packets after any already in the capture, in one
// transaction. Payloads are LZ4 block-compressed when that shrinks them.
func (s *PacketStore) Append(ctx context.Context, captureID string, pkts []l1packets.Packet) error {
	if len(pkts) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var next int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(packet_index) + 1, 0) FROM packets WHERE capture_id = ?`,
			captureID).Scan(&next); err != nil {
			return fmt.Errorf("next packet index: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO packets (capture_id, packet_index, antenna, frame_number, capture_timestamp, codec, payload_len, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, p := range pkts {
			codec, blob, err := encodePayload(p.Payload)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, captureID, next+int64(i), p.Antenna, int64(p.FrameNumber),
				p.CaptureTimestamp, codec, len(p.Payload), blob); err != nil {
				return fmt.Errorf("insert packet %d: %w", next+int64(i), err)
			}
		}
		return tx.Commit()
	})
}

// Count returns the number of packets stored for the capture.
func (s *PacketStore) Count(ctx context.Context, captureID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets WHERE capture_id = ?`, captureID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count packets: %w", err)
	}
	return n, nil
}

// Range returns packets with index in [from, from+limit).
func (s *PacketStore) Range(ctx context.Context, captureID string, from, limit int) ([]l1packets.Packet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT packet_index, antenna, frame_number, capture_timestamp, codec, payload_len, payload
		FROM packets
		WHERE capture_id = ? AND packet_index >= ? AND packet_index < ?
		ORDER BY packet_index`, captureID, from, from+limit)
	if err != nil {
		return nil, fmt.Errorf("query packets: %w", err)
	}
	defer rows.Close()

	var out []l1packets.Packet
	for rows.Next() {
		var (
			p       l1packets.Packet
			index   int64
			frame   int64
			codec   string
			samples int
			blob    []byte
		)
		if err := rows.Scan(&index, &p.Antenna, &frame, &p.CaptureTimestamp, &codec, &samples, &blob); err != nil {
			return nil, err
		}
		p.FrameNumber = uint32(frame)
		if p.Payload, err = decodePayload(codec, blob, samples); err != nil {
			return nil, fmt.Errorf("packet %d: %w", index, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Source returns a pipeline source over the capture's packets.
func (s *PacketStore) Source(ctx context.Context, captureID string, pageSize int) (*PacketSource, error) {
	n, err := s.Count(ctx, captureID)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PacketSource{store: s, captureID: captureID, count: n, pageSize: pageSize}, nil
}

// PacketSource reads a capture's packets page by page in index order.
type PacketSource struct {
	store     *PacketStore
	captureID string
	count     int
	pageSize  int

	page     []l1packets.Packet
	pageFrom int
}

// NumPackets returns the packet count taken when the source was opened.
func (s *PacketSource) NumPackets() int { return s.count }

// ReadPacket returns the packet at index, loading the page that holds it.
// It returns io.EOF past the end of the stored stream.
func (s *PacketSource) ReadPacket(ctx context.Context, index int) (l1packets.Packet, error) {
	if index < s.pageFrom || index >= s.pageFrom+len(s.page) {
		page, err := s.store.Range(ctx, s.captureID, index, s.pageSize)
		if err != nil {
			return l1packets.Packet{}, err
		}
		s.page, s.pageFrom = page, index
	}
	if index >= s.pageFrom+len(s.page) {
		return l1packets.Packet{}, io.EOF
	}
	return s.page[index-s.pageFrom], nil
}
