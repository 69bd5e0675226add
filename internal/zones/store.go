package zones

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/crowdsight/crowdsight/internal/database"
)

// ErrNotFound is returned when a zone does not exist
var ErrNotFound = errors.New("zone not found")

// Store persists zones and entry/exit events
type Store struct {
	db *database.DB
}

// NewStore creates a zone store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new zone
func (s *Store) Create(ctx context.Context, zone *Zone) error {
	polygonJSON, err := json.Marshal(zone.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode polygon: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO zones (id, camera_id, name, zone_type, polygon, max_capacity,
		                   current_occupancy, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		zone.ID, zone.CameraID, zone.Name, string(zone.Type), string(polygonJSON),
		zone.MaxCapacity, zone.CurrentOccupancy, zone.Status,
		zone.CreatedAt.UnixMilli(), zone.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create zone: %w", err)
	}
	return nil
}

// Get retrieves a zone by ID
func (s *Store) Get(ctx context.Context, id string) (*Zone, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, camera_id, name, zone_type, polygon, max_capacity,
		       current_occupancy, status, created_at, updated_at
		FROM zones WHERE id = ?
	`, id)

	zone, err := scanZone(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return zone, nil
}

// List retrieves zones, optionally filtered by camera
func (s *Store) List(ctx context.Context, cameraID string) ([]*Zone, error) {
	query := `
		SELECT id, camera_id, name, zone_type, polygon, max_capacity,
		       current_occupancy, status, created_at, updated_at
		FROM zones WHERE 1=1`
	args := []interface{}{}

	if cameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	zones := []*Zone{}
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}
	return zones, rows.Err()
}

// Update replaces a zone's mutable fields
func (s *Store) Update(ctx context.Context, zone *Zone) error {
	polygonJSON, err := json.Marshal(zone.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode polygon: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE zones
		SET name = ?, zone_type = ?, polygon = ?, max_capacity = ?,
		    current_occupancy = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		zone.Name, string(zone.Type), string(polygonJSON), zone.MaxCapacity,
		zone.CurrentOccupancy, zone.Status, zone.UpdatedAt.UnixMilli(), zone.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update zone: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, zone.ID)
	}
	return nil
}

// UpdateOccupancy writes the current occupancy counter for a zone
func (s *Store) UpdateOccupancy(ctx context.Context, id string, occupancy int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE zones SET current_occupancy = ?, updated_at = ? WHERE id = ?`,
		occupancy, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update zone occupancy: %w", err)
	}
	return nil
}

// Delete removes a zone and its events
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM zone_events WHERE zone_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete zone events: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM zones WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete zone: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

// InsertEvent persists one entry/exit event
func (s *Store) InsertEvent(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zone_events (id, camera_id, zone_id, track_id, kind, timestamp, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.CameraID, event.ZoneID, event.TrackID, event.Kind,
		event.Timestamp.UnixMilli(), encodeEmbedding(event.Embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to insert zone event: %w", err)
	}
	return nil
}

// EventFilter selects zone events
type EventFilter struct {
	CameraID        string
	ExcludeCameraID string
	ZoneID          string
	Kind            string
	Since           time.Time
	Until           time.Time
	Limit           int
	WithEmbeddings  bool
}

// ListEvents retrieves events matching the filter, newest first
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	cols := "e.id, e.camera_id, e.zone_id, z.name, e.track_id, e.kind, e.timestamp"
	if filter.WithEmbeddings {
		cols += ", e.embedding"
	}
	query := `SELECT ` + cols + `
		FROM zone_events e
		LEFT JOIN zones z ON z.id = e.zone_id
		WHERE 1=1`
	args := []interface{}{}

	if filter.CameraID != "" {
		query += " AND e.camera_id = ?"
		args = append(args, filter.CameraID)
	}
	if filter.ExcludeCameraID != "" {
		query += " AND e.camera_id != ?"
		args = append(args, filter.ExcludeCameraID)
	}
	if filter.ZoneID != "" {
		query += " AND e.zone_id = ?"
		args = append(args, filter.ZoneID)
	}
	if filter.Kind != "" {
		query += " AND e.kind = ?"
		args = append(args, filter.Kind)
	}
	if !filter.Since.IsZero() {
		query += " AND e.timestamp >= ?"
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		query += " AND e.timestamp <= ?"
		args = append(args, filter.Until.UnixMilli())
	}

	query += " ORDER BY e.timestamp DESC"

	limit := 100
	if filter.Limit > 0 && filter.Limit <= 1000 {
		limit = filter.Limit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var zoneName sql.NullString
		var timestamp int64
		var blob []byte

		dest := []interface{}{
			&event.ID, &event.CameraID, &event.ZoneID, &zoneName,
			&event.TrackID, &event.Kind, &timestamp,
		}
		if filter.WithEmbeddings {
			dest = append(dest, &blob)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		event.Timestamp = time.UnixMilli(timestamp).UTC()
		if zoneName.Valid {
			event.ZoneName = zoneName.String
		}
		if filter.WithEmbeddings {
			event.Embedding = decodeEmbedding(blob)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// EventCounts returns entry and exit totals for a camera in a time range
func (s *Store) EventCounts(ctx context.Context, cameraID string, since, until time.Time) (entries, exits int, err error) {
	query := `
		SELECT kind, COUNT(*)
		FROM zone_events
		WHERE camera_id = ?`
	args := []interface{}{cameraID}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since.UnixMilli())
	}
	if !until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, until.UnixMilli())
	}
	query += " GROUP BY kind"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return 0, 0, err
		}
		switch kind {
		case EventEntry:
			entries = count
		case EventExit:
			exits = count
		}
	}
	return entries, exits, rows.Err()
}

// scanner abstracts over sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanZone(row scanner) (*Zone, error) {
	zone := &Zone{}
	var zoneType, polygonJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&zone.ID, &zone.CameraID, &zone.Name, &zoneType, &polygonJSON,
		&zone.MaxCapacity, &zone.CurrentOccupancy, &zone.Status,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	zone.Type = ZoneType(zoneType)
	zone.CreatedAt = time.UnixMilli(createdAt).UTC()
	zone.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if err := json.Unmarshal([]byte(polygonJSON), &zone.Polygon); err != nil {
		return nil, fmt.Errorf("failed to decode polygon for zone %s: %w", zone.ID, err)
	}
	return zone, nil
}

// encodeEmbedding packs an embedding as little-endian float64 bytes
func encodeEmbedding(emb []float64) []byte {
	if len(emb) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(emb))
	for i, v := range emb {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding unpacks little-endian float64 bytes
func decodeEmbedding(blob []byte) []float64 {
	if len(blob) == 0 || len(blob)%8 != 0 {
		return nil
	}
	emb := make([]float64, len(blob)/8)
	for i := range emb {
		emb[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return emb
}
