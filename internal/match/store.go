package match

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crowdsight/crowdsight/internal/database"
)

const movementCols = `id, entry_camera, entry_zone, entry_track, entry_ts,
	exit_camera, exit_zone, exit_track, exit_ts,
	similarity, confidence, duration_s, created_at`

// Store persists cross-camera movements
type Store struct {
	db *database.DB
}

// NewStore creates a movement store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts a movement. An existing record for the same
// (entry camera, entry track, exit camera, exit track) tuple is replaced
// only when the new similarity is strictly higher. Reports whether the
// row was written.
func (s *Store) Upsert(ctx context.Context, m *Movement) (bool, error) {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO movements (id, entry_camera, entry_zone, entry_track, entry_ts,
		                       exit_camera, exit_zone, exit_track, exit_ts,
		                       similarity, confidence, duration_s, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_camera, entry_track, exit_camera, exit_track) DO UPDATE SET
			entry_zone = excluded.entry_zone,
			entry_ts = excluded.entry_ts,
			exit_zone = excluded.exit_zone,
			exit_ts = excluded.exit_ts,
			similarity = excluded.similarity,
			confidence = excluded.confidence,
			duration_s = excluded.duration_s,
			updated_at = excluded.updated_at
		WHERE excluded.similarity > movements.similarity
	`,
		m.ID, m.EntryCameraID, nullString(m.EntryZoneID), m.EntryTrackID, m.EntryTime.UnixMilli(),
		m.ExitCameraID, nullString(m.ExitZoneID), m.ExitTrackID, m.ExitTime.UnixMilli(),
		m.Similarity, m.Confidence, m.DurationS, m.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert movement: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Filter selects movements. Since bounds the exit side, Until the entry
// side, so a movement matches when its whole exit-to-entry span lies
// inside the window.
type Filter struct {
	EntryCameraID string
	ExitCameraID  string
	Since         time.Time
	Until         time.Time
	Limit         int
}

// List retrieves movements matching the filter, newest entries first
func (s *Store) List(ctx context.Context, filter Filter) ([]*Movement, error) {
	query := `SELECT ` + movementCols + ` FROM movements WHERE 1=1`
	args := []interface{}{}

	if filter.EntryCameraID != "" {
		query += " AND entry_camera = ?"
		args = append(args, filter.EntryCameraID)
	}
	if filter.ExitCameraID != "" {
		query += " AND exit_camera = ?"
		args = append(args, filter.ExitCameraID)
	}
	query, args = appendWindow(query, args, filter.Since, filter.Until)
	query, args = appendOrderLimit(query, args, filter.Limit)

	return s.selectMovements(ctx, query, args...)
}

// ByCamera lists movements touching the camera as either endpoint
func (s *Store) ByCamera(ctx context.Context, cameraID string, since, until time.Time, limit int) ([]*Movement, error) {
	query := `SELECT ` + movementCols + ` FROM movements
		WHERE (entry_camera = ? OR exit_camera = ?)`
	args := []interface{}{cameraID, cameraID}

	query, args = appendWindow(query, args, since, until)
	query, args = appendOrderLimit(query, args, limit)

	return s.selectMovements(ctx, query, args...)
}

// ByPair lists movements between two cameras in either direction
func (s *Store) ByPair(ctx context.Context, cameraA, cameraB string, since, until time.Time, limit int) ([]*Movement, error) {
	query := `SELECT ` + movementCols + ` FROM movements
		WHERE ((entry_camera = ? AND exit_camera = ?) OR (entry_camera = ? AND exit_camera = ?))`
	args := []interface{}{cameraA, cameraB, cameraB, cameraA}

	query, args = appendWindow(query, args, since, until)
	query, args = appendOrderLimit(query, args, limit)

	return s.selectMovements(ctx, query, args...)
}

// Statistics aggregates the stored movements in the window
func (s *Store) Statistics(ctx context.Context, since, until time.Time) (*Statistics, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(DISTINCT entry_camera || '|' || exit_camera),
		       COALESCE(AVG(duration_s), 0),
		       COALESCE(AVG(similarity), 0),
		       COALESCE(SUM(CASE WHEN confidence = 'high' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN confidence = 'medium' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN confidence = 'low' THEN 1 ELSE 0 END), 0)
		FROM movements WHERE 1=1`
	args := []interface{}{}
	query, args = appendWindow(query, args, since, until)

	stats := &Statistics{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalMovements, &stats.UniqueCameraPairs,
		&stats.AvgDurationS, &stats.AvgSimilarity,
		&stats.HighConfidence, &stats.MediumConfidence, &stats.LowConfidence,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate movements: %w", err)
	}
	return stats, nil
}

func (s *Store) selectMovements(ctx context.Context, query string, args ...interface{}) ([]*Movement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []*Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func appendWindow(query string, args []interface{}, since, until time.Time) (string, []interface{}) {
	if !since.IsZero() {
		query += " AND exit_ts >= ?"
		args = append(args, since.UnixMilli())
	}
	if !until.IsZero() {
		query += " AND entry_ts <= ?"
		args = append(args, until.UnixMilli())
	}
	return query, args
}

func appendOrderLimit(query string, args []interface{}, limit int) (string, []interface{}) {
	query += " ORDER BY entry_ts DESC LIMIT ?"
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return query, append(args, limit)
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMovement(row scanner) (*Movement, error) {
	m := &Movement{}
	var entryZone, exitZone sql.NullString
	var entryTS, exitTS, createdAt int64

	err := row.Scan(
		&m.ID, &m.EntryCameraID, &entryZone, &m.EntryTrackID, &entryTS,
		&m.ExitCameraID, &exitZone, &m.ExitTrackID, &exitTS,
		&m.Similarity, &m.Confidence, &m.DurationS, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	m.EntryTime = time.UnixMilli(entryTS).UTC()
	m.ExitTime = time.UnixMilli(exitTS).UTC()
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	if entryZone.Valid {
		m.EntryZoneID = entryZone.String
	}
	if exitZone.Valid {
		m.ExitZoneID = exitZone.String
	}
	return m, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
