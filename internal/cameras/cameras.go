// Package cameras maintains the registry of edge cameras and their liveness.
package cameras

import (
	"encoding/json"
	"time"

	"github.com/crowdsight/crowdsight/internal/models"
)

// Camera statuses
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Registration defaults applied when the edge node omits capture details.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30
)

// Resolution is the capture size in pixels
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Camera is one registered edge camera
type Camera struct {
	ID            string     `json:"camera_id"`
	EdgeNodeID    string     `json:"edge_node_id"`
	Location      string     `json:"location"`
	Resolution    Resolution `json:"resolution"`
	FPS           int        `json:"fps"`
	Status        string     `json:"status"`
	RegisteredAt  time.Time  `json:"registered_at"`
	LastFrameTime *time.Time `json:"last_frame_time,omitempty"`
}

// MarshalJSON emits wire timestamps in ISO-8601 UTC with milliseconds.
func (c Camera) MarshalJSON() ([]byte, error) {
	type alias Camera
	var lastFrame *string
	if c.LastFrameTime != nil {
		s := models.FormatTime(*c.LastFrameTime)
		lastFrame = &s
	}
	return json.Marshal(struct {
		alias
		RegisteredAt  string  `json:"registered_at"`
		LastFrameTime *string `json:"last_frame_time,omitempty"`
	}{
		alias:         alias(c),
		RegisteredAt:  models.FormatTime(c.RegisteredAt),
		LastFrameTime: lastFrame,
	})
}
