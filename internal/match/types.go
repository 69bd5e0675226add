// Package match links zone exits on one camera to zone entries on another
// using appearance-embedding similarity, producing cross-camera movement
// records.
package match

import (
	"encoding/json"
	"time"

	"github.com/crowdsight/crowdsight/internal/models"
)

// Match confidence bands
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ConfidenceFor maps a cosine similarity to a confidence band.
func ConfidenceFor(similarity float64) string {
	switch {
	case similarity >= 0.85:
		return ConfidenceHigh
	case similarity >= 0.75:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Movement records one person leaving the view of one camera and appearing
// on another. The exit happens first; the entry is where they re-appeared.
type Movement struct {
	ID            string    `json:"id"`
	EntryCameraID string    `json:"entry_camera_id"`
	EntryZoneID   string    `json:"entry_zone_id,omitempty"`
	EntryTrackID  uint64    `json:"entry_track_id"`
	EntryTime     time.Time `json:"entry_timestamp"`
	ExitCameraID  string    `json:"exit_camera_id"`
	ExitZoneID    string    `json:"exit_zone_id,omitempty"`
	ExitTrackID   uint64    `json:"exit_track_id"`
	ExitTime      time.Time `json:"exit_timestamp"`
	Similarity    float64   `json:"similarity_score"`
	Confidence    string    `json:"match_confidence"`
	DurationS     float64   `json:"duration_seconds"`
	CreatedAt     time.Time `json:"created_at"`
}

// MarshalJSON emits wire timestamps in ISO-8601 UTC with milliseconds.
func (m Movement) MarshalJSON() ([]byte, error) {
	type alias Movement
	return json.Marshal(struct {
		alias
		EntryTime string `json:"entry_timestamp"`
		ExitTime  string `json:"exit_timestamp"`
		CreatedAt string `json:"created_at"`
	}{
		alias:     alias(m),
		EntryTime: models.FormatTime(m.EntryTime),
		ExitTime:  models.FormatTime(m.ExitTime),
		CreatedAt: models.FormatTime(m.CreatedAt),
	})
}

// Statistics summarizes the stored movements.
type Statistics struct {
	TotalMovements    int     `json:"total_movements"`
	UniqueCameraPairs int     `json:"unique_camera_pairs"`
	AvgDurationS      float64 `json:"avg_duration_seconds"`
	AvgSimilarity     float64 `json:"avg_similarity"`
	HighConfidence    int     `json:"high_confidence_count"`
	MediumConfidence  int     `json:"medium_confidence_count"`
	LowConfidence     int     `json:"low_confidence_count"`
}
