// Package diagnostics keeps a persistent journal of serial frames that
// failed checksum validation, for post-mortem inspection of line noise
// and wiring faults.
package diagnostics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/sensorgw/internal/xbee"
)

// Page limits for Recent.
const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// typeOffset is the position of the API identifier in a raw frame.
const typeOffset = 3

// ErrInvalidFrame is returned when an empty frame is recorded.
var ErrInvalidFrame = errors.New("diagnostics: empty frame")

// DroppedFrame is one journal entry.
type DroppedFrame struct {
	ID         int64
	ReceivedAt time.Time
	Raw        []byte

	// FrameType is the API identifier byte, valid when HasType is true.
	// Frames with an empty payload carry none.
	FrameType xbee.FrameType
	HasType   bool
}

// Journal stores dropped frames in the dropped_frames table.
//
// When maxEntries is positive the oldest rows beyond it are pruned on
// every insert.
type Journal struct {
	db         *sql.DB
	maxEntries int
}

// NewJournal returns a journal over an open, migrated database.
func NewJournal(db *sql.DB, maxEntries int) *Journal {
	return &Journal{db: db, maxEntries: maxEntries}
}

// RecordDroppedFrame appends a checksum-failed frame to the journal.
func (j *Journal) RecordDroppedFrame(ctx context.Context, raw []byte, at time.Time) error {
	if len(raw) == 0 {
		return ErrInvalidFrame
	}
	if at.IsZero() {
		at = time.Now()
	}

	var frameType any
	if len(raw) > typeOffset+1 {
		frameType = int64(raw[typeOffset])
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting journal transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dropped_frames (received_at, length, frame_type, raw) VALUES (?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339Nano), len(raw), frameType, raw,
	); err != nil {
		return fmt.Errorf("inserting dropped frame: %w", err)
	}

	if j.maxEntries > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM dropped_frames WHERE id NOT IN (
				SELECT id FROM dropped_frames ORDER BY id DESC LIMIT ?
			)`,
			j.maxEntries,
		); err != nil {
			return fmt.Errorf("pruning dropped frames: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dropped frame: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
// A non-positive limit selects the default page size.
func (j *Journal) Recent(ctx context.Context, limit int) ([]DroppedFrame, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, received_at, frame_type, raw FROM dropped_frames ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying dropped frames: %w", err)
	}
	defer rows.Close()

	var frames []DroppedFrame
	for rows.Next() {
		var (
			f          DroppedFrame
			receivedAt string
			frameType  sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &receivedAt, &frameType, &f.Raw); err != nil {
			return nil, fmt.Errorf("scanning dropped frame: %w", err)
		}
		f.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt) //nolint:errcheck // Format is controlled
		if frameType.Valid {
			f.FrameType = xbee.FrameType(frameType.Int64)
			f.HasType = true
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dropped frames: %w", err)
	}
	return frames, nil
}

// Count returns the number of journal entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dropped_frames").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dropped frames: %w", err)
	}
	return n, nil
}
