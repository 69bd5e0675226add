package cameras

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crowdsight/crowdsight/internal/database"
)

// Registry errors
var (
	ErrNotFound     = errors.New("camera not found")
	ErrEdgeMismatch = errors.New("camera registered by another edge node")
)

const cameraCols = "id, edge_node_id, location, width, height, fps, status, registered_at, last_frame_time"

// Store persists the camera registry
type Store struct {
	db *database.DB
}

// NewStore creates a camera store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Register inserts a camera or refreshes an existing registration from the
// same edge node, reactivating it. A camera id owned by a different edge
// node is a conflict.
func (s *Store) Register(ctx context.Context, cam *Camera) (*Camera, error) {
	if cam.Resolution.Width <= 0 {
		cam.Resolution.Width = DefaultWidth
	}
	if cam.Resolution.Height <= 0 {
		cam.Resolution.Height = DefaultHeight
	}
	if cam.FPS <= 0 {
		cam.FPS = DefaultFPS
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO cameras (id, edge_node_id, location, width, height, fps, status, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			location = excluded.location,
			width = excluded.width,
			height = excluded.height,
			fps = excluded.fps,
			status = excluded.status
		WHERE cameras.edge_node_id = excluded.edge_node_id
	`,
		cam.ID, cam.EdgeNodeID, cam.Location,
		cam.Resolution.Width, cam.Resolution.Height, cam.FPS,
		StatusActive, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register camera: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEdgeMismatch, cam.ID)
	}

	return s.Get(ctx, cam.ID)
}

// Get retrieves a camera by ID
func (s *Store) Get(ctx context.Context, id string) (*Camera, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cameraCols+` FROM cameras WHERE id = ?`, id)

	cam, err := scanCamera(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return cam, nil
}

// List retrieves cameras, optionally filtered by status
func (s *Store) List(ctx context.Context, status string) ([]*Camera, error) {
	query := `SELECT ` + cameraCols + ` FROM cameras WHERE 1=1`
	args := []interface{}{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cameras := []*Camera{}
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, cam)
	}
	return cameras, rows.Err()
}

// TouchFrame records frame arrival, reactivating an idle camera
func (s *Store) TouchFrame(ctx context.Context, id string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cameras SET last_frame_time = ?, status = ? WHERE id = ?
	`, ts.UnixMilli(), StatusActive, id)
	if err != nil {
		return fmt.Errorf("failed to touch camera: %w", err)
	}
	return nil
}

// SweepIdle marks active cameras inactive when nothing has been seen from
// them since the cutoff. Cameras that never sent a frame age out from their
// registration time. Returns the ids that changed.
func (s *Store) SweepIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM cameras
			WHERE status = ? AND COALESCE(last_frame_time, registered_at) < ?
		`, StatusActive, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE cameras SET status = ? WHERE status = ? AND COALESCE(last_frame_time, registered_at) < ?
		`, StatusInactive, StatusActive, cutoff.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sweep idle cameras: %w", err)
	}
	return ids, nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row scanner) (*Camera, error) {
	cam := &Camera{}
	var registeredAt int64
	var lastFrame sql.NullInt64

	err := row.Scan(
		&cam.ID, &cam.EdgeNodeID, &cam.Location,
		&cam.Resolution.Width, &cam.Resolution.Height, &cam.FPS,
		&cam.Status, &registeredAt, &lastFrame,
	)
	if err != nil {
		return nil, err
	}

	cam.RegisteredAt = time.UnixMilli(registeredAt).UTC()
	if lastFrame.Valid {
		t := time.UnixMilli(lastFrame.Int64).UTC()
		cam.LastFrameTime = &t
	}
	return cam, nil
}

// Sweeper periodically marks cameras inactive after an idle period.
type Sweeper struct {
	store    *Store
	idle     time.Duration
	interval time.Duration
	logger   *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a liveness sweeper. Cameras silent for idle are marked
// inactive; the check runs every interval.
func NewSweeper(store *Store, idle, interval time.Duration) *Sweeper {
	if idle <= 0 {
		idle = 30 * time.Second
	}
	if interval <= 0 {
		interval = idle / 2
	}
	return &Sweeper{
		store:    store,
		idle:     idle,
		interval: interval,
		logger:   slog.Default().With("component", "camera_sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				ids, err := s.store.SweepIdle(ctx, time.Now().Add(-s.idle))
				cancel()
				if err != nil {
					s.logger.Warn("liveness sweep failed", "error", err)
					continue
				}
				for _, id := range ids {
					s.logger.Info("camera marked inactive", "camera_id", id, "idle", s.idle)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
