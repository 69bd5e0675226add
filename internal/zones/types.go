package zones

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crowdsight/crowdsight/internal/models"
)

// ZoneType categorizes what a zone is used for
type ZoneType string

const (
	ZoneEntry      ZoneType = "entry"
	ZoneExit       ZoneType = "exit"
	ZoneMonitor    ZoneType = "monitor"
	ZoneRestricted ZoneType = "restricted"
)

// ValidZoneType reports whether t is a known zone type
func ValidZoneType(t ZoneType) bool {
	switch t {
	case ZoneEntry, ZoneExit, ZoneMonitor, ZoneRestricted:
		return true
	}
	return false
}

// Zone status values
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Point represents a 2D pixel coordinate on the camera image
type Point struct {
	X float64
	Y float64
}

// Polygon is a series of points forming a closed shape. On the wire it is
// a list of [x, y] pairs.
type Polygon []Point

// MarshalJSON encodes the polygon as [[x,y], ...]
func (p Polygon) MarshalJSON() ([]byte, error) {
	pairs := make([][2]float64, len(p))
	for i, pt := range p {
		pairs[i] = [2]float64{pt.X, pt.Y}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes a polygon from [[x,y], ...]
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var pairs [][2]float64
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("polygon must be a list of [x, y] pairs: %w", err)
	}
	out := make(Polygon, len(pairs))
	for i, pair := range pairs {
		out[i] = Point{X: pair[0], Y: pair[1]}
	}
	*p = out
	return nil
}

// Valid reports whether the polygon has enough points to enclose an area
func (p Polygon) Valid() bool {
	return len(p) >= 3
}

// ContainsPoint checks if a point is inside the polygon using ray casting
func (p Polygon) ContainsPoint(pt Point) bool {
	if len(p) < 3 {
		return false
	}

	n := len(p)
	inside := false

	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := p[i].X, p[i].Y
		xj, yj := p[j].X, p[j].Y

		if ((yi > pt.Y) != (yj > pt.Y)) &&
			(pt.X < (xj-xi)*(pt.Y-yi)/(yj-yi)+xi) {
			inside = !inside
		}
		j = i
	}

	return inside
}

// Zone is a polygonal region of interest on a camera image
type Zone struct {
	ID               string    `json:"id"`
	CameraID         string    `json:"camera_id"`
	Name             string    `json:"name"`
	Type             ZoneType  `json:"zone_type"`
	Polygon          Polygon   `json:"polygon"`
	MaxCapacity      int       `json:"max_capacity"`
	CurrentOccupancy int       `json:"current_occupancy"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// MarshalJSON renders the timestamps in the wire format
func (z Zone) MarshalJSON() ([]byte, error) {
	type alias Zone
	return json.Marshal(struct {
		alias
		CreatedAt string `json:"created_at"`
		UpdatedAt string `json:"updated_at"`
	}{alias(z), models.FormatTime(z.CreatedAt), models.FormatTime(z.UpdatedAt)})
}

// Event kinds
const (
	EventEntry = "entry"
	EventExit  = "exit"
)

// Event is one directed crossing of a track into or out of a zone
type Event struct {
	ID        string    `json:"id"`
	CameraID  string    `json:"camera_id"`
	ZoneID    string    `json:"zone_id"`
	ZoneName  string    `json:"zone_name,omitempty"`
	TrackID   uint64    `json:"track_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	// Embedding carries the track's appearance embedding at crossing time
	// so the cross-camera matcher can score candidate pairs.
	Embedding []float64 `json:"embedding,omitempty"`
}

// MarshalJSON renders the timestamp in the wire format. The encoding stays
// readable by the default unmarshaler, which the matcher relies on when it
// consumes events off the bus.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{alias(e), models.FormatTime(e.Timestamp)})
}

// Overcapacity signals that a zone's occupancy exceeded its capacity
type Overcapacity struct {
	ZoneID      string
	ZoneName    string
	CameraID    string
	Occupancy   int
	MaxCapacity int
}
