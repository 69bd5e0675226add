package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/crowdsight/crowdsight/internal/database"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(&database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return NewStore(db)
}

func sampleAt(ts time.Time, people int, density float64) *Sample {
	return &Sample{
		CameraID:    "cam-1",
		Timestamp:   ts,
		PeopleCount: people,
		Density:     density,
		AvgSpeed:    50,
		Flow:        Flow{X: 1, Y: 0},
		Congestion:  CongestionFor(density),
		RiskScore:   density * 0.3,
		RiskLevel:   LevelNormal,
	}
}

func TestStoreLatest(t *testing.T) {
	store := openTestStore(t)

	if got := store.Latest("cam-1"); got != nil {
		t.Fatalf("Latest() before any sample = %+v, want nil", got)
	}

	sample := sampleAt(time.Now(), 3, 0.2)
	store.SetLatest(sample)
	if got := store.Latest("cam-1"); got != sample {
		t.Errorf("Latest() = %+v, want the set sample", got)
	}
	if got := store.Latest("cam-2"); got != nil {
		t.Errorf("Latest(cam-2) = %+v, want nil", got)
	}
}

func TestStoreHistoryBuckets(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := []*Sample{
		sampleAt(base, 2, 0.2),
		sampleAt(base.Add(30*time.Second), 4, 0.4),
		// Nothing between +60s and +120s.
		sampleAt(base.Add(130*time.Second), 6, 0.6),
	}
	if err := store.InsertSamples(ctx, samples); err != nil {
		t.Fatalf("InsertSamples() error = %v", err)
	}

	buckets, err := store.History(ctx, "cam-1", base, base.Add(3*time.Minute), 60)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("History() returned %d buckets, want 2 (empty bucket omitted)", len(buckets))
	}

	first := buckets[0]
	if !first.Timestamp.Equal(base) {
		t.Errorf("bucket[0] timestamp = %v, want %v", first.Timestamp, base)
	}
	if first.PeopleCount != 3 {
		t.Errorf("bucket[0] people = %d, want 3 (avg of 2 and 4)", first.PeopleCount)
	}
	if first.Density < 0.299 || first.Density > 0.301 {
		t.Errorf("bucket[0] density = %v, want 0.3", first.Density)
	}

	second := buckets[1]
	if !second.Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("bucket[1] timestamp = %v, want %v", second.Timestamp, base.Add(2*time.Minute))
	}
	if second.PeopleCount != 6 {
		t.Errorf("bucket[1] people = %d, want 6", second.PeopleCount)
	}
}

func TestStorePositions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	positions := []*Position{
		{CameraID: "cam-1", TrackID: 1, X: 100, Y: 200, Width: 40, Height: 80, Timestamp: base},
		{CameraID: "cam-1", TrackID: 2, X: 300, Y: 220, Width: 42, Height: 78, Timestamp: base.Add(time.Second)},
		{CameraID: "cam-2", TrackID: 9, X: 10, Y: 10, Width: 40, Height: 80, Timestamp: base},
	}
	if err := store.InsertPositions(ctx, positions); err != nil {
		t.Fatalf("InsertPositions() error = %v", err)
	}

	got, err := store.Positions(ctx, "cam-1", base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Positions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Positions() returned %d rows, want 2", len(got))
	}
	if got[0].TrackID != 1 || got[0].X != 100 || got[0].Y != 200 {
		t.Errorf("Positions()[0] = %+v", got[0])
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("timestamp round trip = %v, want %v", got[0].Timestamp, base)
	}
}

func TestStorePrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.InsertSamples(ctx, []*Sample{
		sampleAt(base, 1, 0.1),
		sampleAt(base.Add(time.Hour), 2, 0.2),
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertPositions(ctx, []*Position{
		{CameraID: "cam-1", TrackID: 1, X: 1, Y: 1, Timestamp: base},
		{CameraID: "cam-1", TrackID: 1, X: 2, Y: 2, Timestamp: base.Add(time.Hour)},
	}); err != nil {
		t.Fatal(err)
	}

	if err := store.Prune(ctx, base.Add(30*time.Minute)); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	buckets, err := store.History(ctx, "cam-1", base.Add(-time.Minute), base.Add(2*time.Hour), 60)
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 1 {
		t.Errorf("expected 1 surviving sample bucket, got %d", len(buckets))
	}

	positions, err := store.Positions(ctx, "cam-1", base.Add(-time.Minute), base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 || positions[0].X != 2 {
		t.Errorf("expected only the newer position to survive, got %+v", positions)
	}
}
