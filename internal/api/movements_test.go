package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crowdsight/crowdsight/internal/match"
)

// seedMovements stores two movements: one person walking cam-1 to cam-2 ten
// minutes ago, another cam-2 to cam-3 five minutes ago.
func seedMovements(t *testing.T, env *testEnv) {
	t.Helper()
	now := time.Now().UTC()
	movements := []*match.Movement{
		{
			ID:            uuid.New().String(),
			EntryCameraID: "cam-2",
			EntryTrackID:  11,
			EntryTime:     now.Add(-9 * time.Minute),
			ExitCameraID:  "cam-1",
			ExitTrackID:   4,
			ExitTime:      now.Add(-10 * time.Minute),
			Similarity:    0.91,
			Confidence:    match.ConfidenceHigh,
			DurationS:     60,
		},
		{
			ID:            uuid.New().String(),
			EntryCameraID: "cam-3",
			EntryTrackID:  21,
			EntryTime:     now.Add(-4 * time.Minute),
			ExitCameraID:  "cam-2",
			ExitTrackID:   11,
			ExitTime:      now.Add(-5 * time.Minute),
			Similarity:    0.78,
			Confidence:    match.ConfidenceMedium,
			DurationS:     60,
		},
	}
	for _, m := range movements {
		written, err := env.deps.Movements.Upsert(context.Background(), m)
		if err != nil {
			t.Fatalf("failed to seed movement: %v", err)
		}
		if !written {
			t.Fatal("seed movement was not written")
		}
	}
}

type movementList struct {
	Movements []map[string]interface{} `json:"movements"`
	Total     int                      `json:"total"`
}

func TestListMovements(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/movements")
	wantStatus(t, resp, http.StatusOK)
	var body movementList
	decodeJSON(t, resp, &body)
	if body.Total != 0 || body.Movements == nil {
		t.Errorf("empty listing = %+v", body)
	}

	seedMovements(t, env)

	resp = env.get(t, "/movements")
	decodeJSON(t, resp, &body)
	if body.Total != 2 {
		t.Fatalf("total = %d, want 2", body.Total)
	}
	// Newest entry first.
	if body.Movements[0]["entry_camera_id"] != "cam-3" {
		t.Errorf("first movement entry camera = %v, want cam-3", body.Movements[0]["entry_camera_id"])
	}

	resp = env.get(t, "/movements?entry_camera_id=cam-2")
	decodeJSON(t, resp, &body)
	if body.Total != 1 || body.Movements[0]["exit_camera_id"] != "cam-1" {
		t.Errorf("entry filter = %+v", body)
	}

	resp = env.get(t, "/movements?exit_camera_id=cam-2")
	decodeJSON(t, resp, &body)
	if body.Total != 1 || body.Movements[0]["entry_camera_id"] != "cam-3" {
		t.Errorf("exit filter = %+v", body)
	}
}

func TestMovementsByCamera(t *testing.T) {
	env := newTestEnv(t)
	seedMovements(t, env)

	var body movementList

	// cam-2 is the entry endpoint of one movement and the exit endpoint of
	// the other.
	resp := env.get(t, "/movements/camera/cam-2")
	wantStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &body)
	if body.Total != 2 {
		t.Errorf("both directions total = %d, want 2", body.Total)
	}

	resp = env.get(t, "/movements/camera/cam-2?direction=entry")
	decodeJSON(t, resp, &body)
	if body.Total != 1 || body.Movements[0]["exit_camera_id"] != "cam-1" {
		t.Errorf("entry direction = %+v", body)
	}

	resp = env.get(t, "/movements/camera/cam-2?direction=exit")
	decodeJSON(t, resp, &body)
	if body.Total != 1 || body.Movements[0]["entry_camera_id"] != "cam-3" {
		t.Errorf("exit direction = %+v", body)
	}

	resp = env.get(t, "/movements/camera/cam-2?direction=sideways")
	wantDetail(t, resp, http.StatusBadRequest, "direction must be one of entry, exit, both")
}

func TestMovementsBetween(t *testing.T) {
	env := newTestEnv(t)
	seedMovements(t, env)

	var body movementList
	resp := env.get(t, "/movements/pair/cam-1/cam-2")
	wantStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &body)
	if body.Total != 1 {
		t.Fatalf("pair total = %d, want 1", body.Total)
	}
	if body.Movements[0]["similarity_score"].(float64) != 0.91 {
		t.Errorf("similarity = %v, want 0.91", body.Movements[0]["similarity_score"])
	}

	// The pair is unordered.
	resp = env.get(t, "/movements/pair/cam-2/cam-1")
	decodeJSON(t, resp, &body)
	if body.Total != 1 {
		t.Errorf("reversed pair total = %d, want 1", body.Total)
	}

	resp = env.get(t, "/movements/pair/cam-1/cam-3")
	decodeJSON(t, resp, &body)
	if body.Total != 0 {
		t.Errorf("unrelated pair total = %d, want 0", body.Total)
	}
}

func TestMovementStatistics(t *testing.T) {
	env := newTestEnv(t)
	seedMovements(t, env)

	resp := env.get(t, "/movements/statistics")
	wantStatus(t, resp, http.StatusOK)

	var stats match.Statistics
	decodeJSON(t, resp, &stats)
	if stats.TotalMovements != 2 {
		t.Errorf("total_movements = %d, want 2", stats.TotalMovements)
	}
	if stats.UniqueCameraPairs != 2 {
		t.Errorf("unique_camera_pairs = %d, want 2", stats.UniqueCameraPairs)
	}
	if stats.HighConfidence != 1 || stats.MediumConfidence != 1 || stats.LowConfidence != 0 {
		t.Errorf("confidence counts = %d/%d/%d", stats.HighConfidence, stats.MediumConfidence, stats.LowConfidence)
	}
	if stats.AvgDurationS != 60 {
		t.Errorf("avg_duration_seconds = %v, want 60", stats.AvgDurationS)
	}
}
