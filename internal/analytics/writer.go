package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WriterConfig holds async writer settings
type WriterConfig struct {
	// MaxRows caps the buffered rows per camera; the oldest rows are
	// dropped when a camera's buffer is full.
	MaxRows int
	// FlushInterval is how often buffered rows are written out.
	FlushInterval time.Duration
	// OnDrop, if set, is called with the camera and number of rows lost.
	OnDrop func(cameraID string, rows int)
}

// Writer batches analytics rows and writes them to the store off the
// pipeline's hot path. Store failures keep rows buffered up to MaxRows per
// camera, after which the oldest rows are dropped.
type Writer struct {
	store  *Store
	cfg    WriterConfig
	logger *slog.Logger

	mu        sync.Mutex
	samples   map[string][]*Sample
	positions map[string][]*Position

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWriter creates an async analytics writer
func NewWriter(store *Store, cfg WriterConfig) *Writer {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	return &Writer{
		store:     store,
		cfg:       cfg,
		logger:    slog.Default().With("component", "analytics_writer"),
		samples:   make(map[string][]*Sample),
		positions: make(map[string][]*Position),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Add buffers one frame's sample and track positions
func (w *Writer) Add(sample *Sample, positions []*Position) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cam := sample.CameraID
	w.samples[cam] = append(w.samples[cam], sample)
	if over := len(w.samples[cam]) - w.cfg.MaxRows; over > 0 {
		w.samples[cam] = w.samples[cam][over:]
		w.drop(cam, over)
	}

	if len(positions) == 0 {
		return
	}
	w.positions[cam] = append(w.positions[cam], positions...)
	if over := len(w.positions[cam]) - w.cfg.MaxRows; over > 0 {
		w.positions[cam] = w.positions[cam][over:]
		w.drop(cam, over)
	}
}

// Start launches the flush loop
func (w *Writer) Start() {
	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.Flush(context.Background())
			case <-w.stop:
				// Final drain.
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				w.Flush(ctx)
				cancel()
				return
			}
		}
	}()
}

// Stop flushes remaining rows and stops the loop
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Flush writes all buffered rows. Rows that fail to write are put back at
// the front of their buffer and age out by the drop-oldest policy.
func (w *Writer) Flush(ctx context.Context) {
	w.mu.Lock()
	samples := w.samples
	positions := w.positions
	w.samples = make(map[string][]*Sample)
	w.positions = make(map[string][]*Position)
	w.mu.Unlock()

	for cam, rows := range samples {
		if err := w.store.InsertSamples(ctx, rows); err != nil {
			w.logger.Warn("sample flush failed, rebuffering", "camera_id", cam, "rows", len(rows), "error", err)
			w.rebufferSamples(cam, rows)
		}
	}
	for cam, rows := range positions {
		if err := w.store.InsertPositions(ctx, rows); err != nil {
			w.logger.Warn("position flush failed, rebuffering", "camera_id", cam, "rows", len(rows), "error", err)
			w.rebufferPositions(cam, rows)
		}
	}
}

func (w *Writer) rebufferSamples(cam string, rows []*Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	merged := append(rows, w.samples[cam]...)
	if over := len(merged) - w.cfg.MaxRows; over > 0 {
		merged = merged[over:]
		w.drop(cam, over)
	}
	w.samples[cam] = merged
}

func (w *Writer) rebufferPositions(cam string, rows []*Position) {
	w.mu.Lock()
	defer w.mu.Unlock()

	merged := append(rows, w.positions[cam]...)
	if over := len(merged) - w.cfg.MaxRows; over > 0 {
		merged = merged[over:]
		w.drop(cam, over)
	}
	w.positions[cam] = merged
}

// drop is called with w.mu held
func (w *Writer) drop(cam string, rows int) {
	if w.cfg.OnDrop != nil {
		w.cfg.OnDrop(cam, rows)
	}
}
