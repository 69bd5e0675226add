package analytics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func countSamples(t *testing.T, store *Store, cameraID string) int {
	t.Helper()
	var n int
	err := store.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM analytics_samples WHERE camera_id = ?", cameraID).Scan(&n)
	if err != nil {
		t.Fatalf("failed to count samples: %v", err)
	}
	return n
}

func TestWriterFlushPersists(t *testing.T) {
	store := openTestStore(t)
	writer := NewWriter(store, WriterConfig{})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	writer.Add(sampleAt(base, 2, 0.2), []*Position{
		{CameraID: "cam-1", TrackID: 1, X: 10, Y: 20, Width: 40, Height: 80, Timestamp: base},
	})
	writer.Add(sampleAt(base.Add(time.Second), 3, 0.3), nil)

	writer.Flush(context.Background())

	if got := countSamples(t, store, "cam-1"); got != 2 {
		t.Errorf("persisted %d samples, want 2", got)
	}
	positions, err := store.Positions(context.Background(), "cam-1", base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Errorf("persisted %d positions, want 1", len(positions))
	}

	// A second flush with empty buffers is a no-op.
	writer.Flush(context.Background())
	if got := countSamples(t, store, "cam-1"); got != 2 {
		t.Errorf("second flush changed row count to %d", got)
	}
}

func TestWriterDropsOldestWhenFull(t *testing.T) {
	store := openTestStore(t)

	var dropped atomic.Int64
	writer := NewWriter(store, WriterConfig{
		MaxRows: 5,
		OnDrop: func(cameraID string, rows int) {
			dropped.Add(int64(rows))
		},
	})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		writer.Add(sampleAt(base.Add(time.Duration(i)*time.Second), i, 0.1), nil)
	}

	if got := dropped.Load(); got != 3 {
		t.Errorf("dropped %d rows, want 3", got)
	}

	writer.Flush(context.Background())
	if got := countSamples(t, store, "cam-1"); got != 5 {
		t.Errorf("persisted %d samples, want 5", got)
	}

	// The oldest three were evicted, so the earliest surviving sample is i=3.
	buckets, err := store.History(context.Background(), "cam-1", base, base.Add(time.Minute), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) == 0 || !buckets[0].Timestamp.Equal(base.Add(3*time.Second)) {
		t.Errorf("earliest surviving sample = %+v, want timestamp %v", buckets, base.Add(3*time.Second))
	}
}

func TestWriterStartStopDrains(t *testing.T) {
	store := openTestStore(t)
	writer := NewWriter(store, WriterConfig{FlushInterval: time.Hour})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	writer.Start()
	writer.Add(sampleAt(base, 4, 0.4), nil)
	writer.Stop()

	if got := countSamples(t, store, "cam-1"); got != 1 {
		t.Errorf("Stop() left %d samples persisted, want 1", got)
	}

	// Stop is idempotent.
	writer.Stop()
}
