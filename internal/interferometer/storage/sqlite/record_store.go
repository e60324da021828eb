package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
)

// RecordStore provides persistence for accumulated visibility records.
// Products are stored zstd-compressed; frame numbers and sequence indices
// as JSON arrays.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Put stores rec at index for the run, replacing any record already there.
func (s *RecordStore) Put(ctx context.Context, runID string, index int, rec *l4accumulate.Record) error {
	frames, err := json.Marshal(rec.FrameNumbers)
	if err != nil {
		return err
	}
	seqs, err := json.Marshal(rec.SequenceIndices)
	if err != nil {
		return err
	}
	blob := encodeProducts(rec.Products)
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO records (run_id, record_index, start_sequence_index, start_timestamp,
				products, bins, products_blob, frame_numbers_json, sequence_indices_json, partial)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, index, rec.StartSequenceIndex, rec.StartTimestamp,
			rec.Products.Products(), rec.Products.Bins(), blob, string(frames), string(seqs), rec.Partial)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", index, err)
		}
		return nil
	})
}

// Truncate deletes every record of the run at index n and above.
func (s *RecordStore) Truncate(ctx context.Context, runID string, n int) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE run_id = ? AND record_index >= ?`, runID, n)
		return err
	})
}

// Count returns the number of records stored for the run.
func (s *RecordStore) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

const recordColumns = `record_index, start_sequence_index, start_timestamp, products, bins,
	products_blob, frame_numbers_json, sequence_indices_json, partial`

// Get returns the record at index for the run.
func (s *RecordStore) Get(ctx context.Context, runID string, index int) (*l4accumulate.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+`
		FROM records WHERE run_id = ? AND record_index = ?`, runID, index)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d of run %s: %w", index, runID, ErrNotFound)
	}
	return rec, err
}

// List returns up to limit records of the run starting at index from, in
// index order. A limit of 0 or less returns all of them.
func (s *RecordStore) List(ctx context.Context, runID string, from, limit int) ([]*l4accumulate.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`
		FROM records WHERE run_id = ? AND record_index >= ?
		ORDER BY record_index LIMIT ?`, runID, from, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*l4accumulate.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row rowScanner) (*l4accumulate.Record, error) {
	var (
		rec      l4accumulate.Record
		index    int
		products int
		bins     int
		blob     []byte
		frames   string
		seqs     string
	)
	if err := row.Scan(&index, &rec.StartSequenceIndex, &rec.StartTimestamp, &products, &bins,
		&blob, &frames, &seqs, &rec.Partial); err != nil {
		return nil, err
	}
	tri, err := decodeProducts(blob, products, bins)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", index, err)
	}
	rec.Products = tri
	if err := json.Unmarshal([]byte(frames), &rec.FrameNumbers); err != nil {
		return nil, fmt.Errorf("record %d frame numbers: %w", index, err)
	}
	if err := json.Unmarshal([]byte(seqs), &rec.SequenceIndices); err != nil {
		return nil, fmt.Errorf("record %d sequence indices: %w", index, err)
	}
	return &rec, nil
}

// Sink returns a pipeline sink writing records for the run.
func (s *RecordStore) Sink(runID string) *RecordSink {
	return &RecordSink{store: s, runID: runID}
}

// RecordSink writes a run's records to a RecordStore.
type RecordSink struct {
	store *RecordStore
	runID string
}

// WriteRecord stores rec at index.
func (k *RecordSink) WriteRecord(ctx context.Context, index int, rec *l4accumulate.Record) error {
	return k.store.Put(ctx, k.runID, index, rec)
}

// Truncate removes records at index n and above left by an earlier run
// with the same ID.
func (k *RecordSink) Truncate(ctx context.Context, n int) error {
	return k.store.Truncate(ctx, k.runID, n)
}
