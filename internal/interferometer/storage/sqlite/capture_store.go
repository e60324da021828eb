package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a capture, run or record does not exist.
var ErrNotFound = errors.New("not found")

// Capture describes one recorded packet stream and its acquisition
// attributes (site, sample rate, receiver settings and so on).
type Capture struct {
	CaptureID  string            `json:"capture_id"`
	Label      string            `json:"label"`
	Channels   int               `json:"channels"`
	Bins       int               `json:"bins"`
	CreatedAt  int64             `json:"created_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// CaptureStore provides persistence for captures.
type CaptureStore struct {
	db *sql.DB
}

// NewCaptureStore creates a new CaptureStore.
func NewCaptureStore(db *sql.DB) *CaptureStore {
	return &CaptureStore{db: db}
}

// Create persists a capture. If CaptureID is empty, a UUID is generated.
func (s *CaptureStore) Create(ctx context.Context, c *Capture) error {
	if c.Channels <= 0 || c.Bins <= 0 {
		return fmt.Errorf("capture needs positive channels and bins, got %d and %d", c.Channels, c.Bins)
	}
	if c.CaptureID == "" {
		c.CaptureID = uuid.New().String()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixNano()
	}
	attrs, err := json.Marshal(nonNilMap(c.Attributes))
	if err != nil {
		return fmt.Errorf("marshal capture attributes: %w", err)
	}
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO captures (capture_id, label, channels, bins, created_unix_nanos, attributes_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.CaptureID, c.Label, c.Channels, c.Bins, c.CreatedAt, string(attrs))
		return err
	})
}

// Get returns a capture by ID.
func (s *CaptureStore) Get(ctx context.Context, captureID string) (*Capture, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT capture_id, label, channels, bins, created_unix_nanos, attributes_json
		FROM captures WHERE capture_id = ?`, captureID)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("capture %s: %w", captureID, ErrNotFound)
	}
	return c, err
}

// List returns all captures, newest first.
func (s *CaptureStore) List(ctx context.Context) ([]*Capture, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT capture_id, label, channels, bins, created_unix_nanos, attributes_json
		FROM captures ORDER BY created_unix_nanos DESC`)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var out []*Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a capture with its packets, runs and records.
func (s *CaptureStore) Delete(ctx context.Context, captureID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE capture_id = ?`, captureID)
	if err != nil {
		return fmt.Errorf("delete capture %s: %w", captureID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("capture %s: %w", captureID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(row rowScanner) (*Capture, error) {
	var c Capture
	var attrs string
	if err := row.Scan(&c.CaptureID, &c.Label, &c.Channels, &c.Bins, &c.CreatedAt, &attrs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &c.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of capture %s: %w", c.CaptureID, err)
	}
	return &c, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
