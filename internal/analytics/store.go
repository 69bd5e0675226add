package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/crowdsight/crowdsight/internal/database"
	"github.com/crowdsight/crowdsight/internal/models"
)

// Position is one track center observation, kept for heatmap rendering
type Position struct {
	CameraID  string
	TrackID   uint64
	X         float64
	Y         float64
	Width     int
	Height    int
	Timestamp time.Time
}

// Bucket is one aggregated interval of historical samples
type Bucket struct {
	Timestamp   time.Time `json:"timestamp"`
	PeopleCount int       `json:"people_count"`
	Density     float64   `json:"density"`
	AvgSpeed    float64   `json:"avg_speed"`
	RiskScore   float64   `json:"risk_score"`
}

// MarshalJSON renders the timestamp in the wire format
func (b Bucket) MarshalJSON() ([]byte, error) {
	type alias Bucket
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{alias(b), models.FormatTime(b.Timestamp)})
}

// Store persists analytics samples and track positions, and keeps the
// latest sample per camera in memory for cheap reads.
type Store struct {
	db *database.DB

	mu     sync.RWMutex
	latest map[string]*Sample
}

// NewStore creates an analytics store
func NewStore(db *database.DB) *Store {
	return &Store{
		db:     db,
		latest: make(map[string]*Sample),
	}
}

// SetLatest replaces the in-memory latest sample for a camera
func (s *Store) SetLatest(sample *Sample) {
	s.mu.Lock()
	s.latest[sample.CameraID] = sample
	s.mu.Unlock()
}

// Latest returns the most recent sample for a camera, or nil
func (s *Store) Latest(cameraID string) *Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[cameraID]
}

// InsertSamples writes a batch of samples in one transaction
func (s *Store) InsertSamples(ctx context.Context, samples []*Sample) error {
	if len(samples) == 0 {
		return nil
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO analytics_samples (camera_id, timestamp, people_count, density,
			                               avg_speed, flow_x, flow_y, congestion,
			                               risk_score, risk_level)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare sample insert: %w", err)
		}
		defer stmt.Close()

		for _, sample := range samples {
			_, err := stmt.ExecContext(ctx,
				sample.CameraID, sample.Timestamp.UnixMilli(), sample.PeopleCount,
				sample.Density, sample.AvgSpeed, sample.Flow.X, sample.Flow.Y,
				sample.Congestion, sample.RiskScore, sample.RiskLevel,
			)
			if err != nil {
				return fmt.Errorf("failed to insert sample: %w", err)
			}
		}
		return nil
	})
}

// InsertPositions writes a batch of track positions in one transaction
func (s *Store) InsertPositions(ctx context.Context, positions []*Position) error {
	if len(positions) == 0 {
		return nil
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO track_positions (camera_id, track_id, x, y, width, height, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare position insert: %w", err)
		}
		defer stmt.Close()

		for _, pos := range positions {
			_, err := stmt.ExecContext(ctx,
				pos.CameraID, pos.TrackID, pos.X, pos.Y,
				pos.Width, pos.Height, pos.Timestamp.UnixMilli(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert position: %w", err)
			}
		}
		return nil
	})
}

// History aggregates samples for a camera into interval-second buckets.
// Buckets with no samples are omitted.
func (s *Store) History(ctx context.Context, cameraID string, start, end time.Time, interval int) ([]Bucket, error) {
	if interval <= 0 {
		interval = 60
	}
	startMS := start.UnixMilli()
	intervalMS := int64(interval) * 1000

	rows, err := s.db.QueryContext(ctx, `
		SELECT (timestamp - ?) / ?, AVG(people_count), AVG(density), AVG(avg_speed), AVG(risk_score)
		FROM analytics_samples
		WHERE camera_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY 1
		ORDER BY 1
	`, startMS, intervalMS, cameraID, startMS, end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := []Bucket{}
	for rows.Next() {
		var idx int64
		var people, density, speed, risk float64
		if err := rows.Scan(&idx, &people, &density, &speed, &risk); err != nil {
			return nil, err
		}
		buckets = append(buckets, Bucket{
			Timestamp:   time.UnixMilli(startMS + idx*intervalMS).UTC(),
			PeopleCount: int(people),
			Density:     density,
			AvgSpeed:    speed,
			RiskScore:   risk,
		})
	}
	return buckets, rows.Err()
}

// Positions returns track positions for a camera in a time range
func (s *Store) Positions(ctx context.Context, cameraID string, since, until time.Time) ([]*Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT camera_id, track_id, x, y, width, height, timestamp
		FROM track_positions
		WHERE camera_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, cameraID, since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []*Position{}
	for rows.Next() {
		pos := &Position{}
		var ts int64
		if err := rows.Scan(&pos.CameraID, &pos.TrackID, &pos.X, &pos.Y, &pos.Width, &pos.Height, &ts); err != nil {
			return nil, err
		}
		pos.Timestamp = time.UnixMilli(ts).UTC()
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Prune deletes samples and positions older than the cutoff
func (s *Store) Prune(ctx context.Context, cutoff time.Time) error {
	ms := cutoff.UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analytics_samples WHERE timestamp < ?`, ms); err != nil {
		return fmt.Errorf("failed to prune samples: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM track_positions WHERE timestamp < ?`, ms); err != nil {
		return fmt.Errorf("failed to prune positions: %w", err)
	}
	return nil
}
