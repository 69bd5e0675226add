package models

// Push message types
const (
	MessageTypeMetrics = "metrics"
	MessageTypeAlert   = "alert"
)

// MetricsMessage is one dashboard push update for a camera
type MetricsMessage struct {
	Type      string      `json:"type"`
	CameraID  string      `json:"camera_id"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// AlertMessage wraps an alert for the push channel
type AlertMessage struct {
	Type  string      `json:"type"`
	Alert interface{} `json:"alert"`
}

// FrameMessage is an inbound frame on the push ingest channel
type FrameMessage struct {
	CameraID  string `json:"camera_id"`
	FrameID   uint64 `json:"frame_id"`
	Timestamp string `json:"timestamp,omitempty"`
	FrameData string `json:"frame_data"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// FrameAck acknowledges one ingested frame
type FrameAck struct {
	Status           string  `json:"status"`
	FrameID          uint64  `json:"frame_id"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
	DetectionsCount  int     `json:"detections_count"`
	TracksCount      int     `json:"tracks_count"`
}
