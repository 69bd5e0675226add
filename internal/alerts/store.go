package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crowdsight/crowdsight/internal/database"
)

// ErrNotFound is returned when an alert does not exist
var ErrNotFound = errors.New("alert not found")

// activeWindow bounds how far back the active listing reaches.
const activeWindow = 24 * time.Hour

// Store persists alerts
type Store struct {
	db *database.DB
}

// NewStore creates an alert store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Insert persists a new alert
func (s *Store) Insert(ctx context.Context, alert *Alert) error {
	var ackedAt interface{}
	if alert.AcknowledgedAt != nil {
		ackedAt = alert.AcknowledgedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, camera_id, kind, severity, risk_score, message,
		                    timestamp, acknowledged, acknowledged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID, alert.CameraID, alert.Kind, alert.Severity, alert.RiskScore,
		alert.Message, alert.Timestamp.UnixMilli(), alert.Acknowledged, ackedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by ID
func (s *Store) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, camera_id, kind, severity, risk_score, message,
		       timestamp, acknowledged, acknowledged_at
		FROM alerts WHERE id = ?
	`, id)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// Filter narrows the active alert listing
type Filter struct {
	CameraID string
	Severity string
	Limit    int
}

// Active lists unacknowledged alerts from the last 24 hours, newest first
func (s *Store) Active(ctx context.Context, f Filter) ([]*Alert, error) {
	query := `
		SELECT id, camera_id, kind, severity, risk_score, message,
		       timestamp, acknowledged, acknowledged_at
		FROM alerts WHERE acknowledged = 0 AND timestamp >= ?`
	args := []interface{}{time.Now().Add(-activeWindow).UnixMilli()}

	if f.CameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, f.CameraID)
	}
	if f.Severity != "" {
		query += " AND severity = ?"
		args = append(args, strings.ToUpper(f.Severity))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []*Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// Acknowledge marks an alert as acknowledged and returns its state. Calling
// it again on an acknowledged alert keeps the original acknowledgement time.
func (s *Store) Acknowledge(ctx context.Context, id string) (*Alert, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET acknowledged = 1,
		    acknowledged_at = COALESCE(acknowledged_at, ?)
		WHERE id = ?
	`, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return s.Get(ctx, id)
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*Alert, error) {
	var (
		alert   Alert
		ts      int64
		ackedAt sql.NullInt64
	)
	err := row.Scan(&alert.ID, &alert.CameraID, &alert.Kind, &alert.Severity,
		&alert.RiskScore, &alert.Message, &ts, &alert.Acknowledged, &ackedAt)
	if err != nil {
		return nil, err
	}

	alert.Timestamp = time.UnixMilli(ts).UTC()
	if ackedAt.Valid {
		t := time.UnixMilli(ackedAt.Int64).UTC()
		alert.AcknowledgedAt = &t
	}
	return &alert, nil
}
