// Package detection provides the per-camera vision stages: person
// detection, multi-object tracking, and appearance re-identification.
package detection

import (
	"image"
	"math"
	"time"
)

// ClassPerson is the only object class the pipeline keeps.
const ClassPerson = "person"

// BoundingBox represents a rectangular region in pixel coordinates
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounding box
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y) + float64(b.Height)/2
}

// BottomCenter returns the bottom-center point of the bounding box.
// Zone membership is evaluated at this point (a person's feet).
func (b BoundingBox) BottomCenter() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y + b.Height)
}

// Area returns the area of the bounding box in pixels
func (b BoundingBox) Area() float64 {
	return float64(b.Width) * float64(b.Height)
}

// IoU calculates the intersection over union with another box
func (b BoundingBox) IoU(other BoundingBox) float64 {
	x1 := math.Max(float64(b.X), float64(other.X))
	y1 := math.Max(float64(b.Y), float64(other.Y))
	x2 := math.Min(float64(b.X+b.Width), float64(other.X+other.Width))
	y2 := math.Min(float64(b.Y+b.Height), float64(other.Y+other.Height))

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b.Area() + other.Area() - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

// Clamp restricts the box to the given frame dimensions
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	if b.X < 0 {
		b.Width += b.X
		b.X = 0
	}
	if b.Y < 0 {
		b.Height += b.Y
		b.Y = 0
	}
	if b.X > width {
		b.X = width
	}
	if b.Y > height {
		b.Y = height
	}
	if b.X+b.Width > width {
		b.Width = width - b.X
	}
	if b.Y+b.Height > height {
		b.Height = height - b.Y
	}
	if b.Width < 0 {
		b.Width = 0
	}
	if b.Height < 0 {
		b.Height = 0
	}
	return b
}

// Detection represents a single detected person in a frame
type Detection struct {
	Box        BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Class      string      `json:"class"`
	// Embedding is the optional appearance vector supplied by the
	// detector backend, consumed by the re-id stage.
	Embedding []float64 `json:"embedding,omitempty"`
}

// Frame represents a single decoded video frame moving through the pipeline
type Frame struct {
	CameraID  string
	FrameID   uint64
	Timestamp time.Time
	Image     image.Image
	Data      []byte // original JPEG bytes
	Width     int
	Height    int
}

// TrackState represents the lifecycle state of a track
type TrackState string

const (
	TrackTentative  TrackState = "tentative"
	TrackConfirmed  TrackState = "confirmed"
	TrackLost       TrackState = "lost"
	TrackTerminated TrackState = "terminated"
)

// Track represents a persistent identity across frames on one camera
type Track struct {
	ID            uint64     `json:"track_id"`
	CameraID      string     `json:"camera_id"`
	State         TrackState `json:"state"`
	Box           BoundingBox `json:"bbox"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	TotalFrames   int        `json:"total_frames"`
	AvgConfidence float64    `json:"avg_confidence"`
	Misses        int        `json:"-"`

	// Embedding is the track's appearance vector, updated by EMA on
	// each confirmed emission.
	Embedding []float64 `json:"-"`

	// Velocity in pixels per second, derived from consecutive matched
	// positions. Speed is its magnitude; PrevSpeed the value one frame
	// earlier (used for sudden-movement scoring).
	VX        float64 `json:"-"`
	VY        float64 `json:"-"`
	Speed     float64 `json:"-"`
	PrevSpeed float64 `json:"-"`
}

// Confirmed reports whether the track has met the confirmation threshold
func (t *Track) Confirmed() bool {
	return t.State == TrackConfirmed
}
