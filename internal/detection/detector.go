package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Detector produces person detections for a decoded frame. Implementations
// must be safe for concurrent use; each camera worker calls Detect once per
// surviving frame.
type Detector interface {
	Detect(ctx context.Context, frame *Frame) ([]Detection, error)
}

// FilterByClass keeps person detections at or above the confidence threshold
func FilterByClass(detections []Detection, confThreshold float64) []Detection {
	out := detections[:0:0]
	for _, d := range detections {
		if d.Class == ClassPerson && d.Confidence >= confThreshold {
			out = append(out, d)
		}
	}
	return out
}

// NMS applies greedy non-maximum suppression at the given IoU threshold.
// Detections are kept in descending confidence order.
func NMS(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) <= 1 {
		return detections
	}

	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if sorted[i].Box.IoU(sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// HTTPDetector calls an external inference service over HTTP
type HTTPDetector struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	logger     *slog.Logger
}

// HTTPDetectorConfig holds HTTP detector configuration
type HTTPDetectorConfig struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
}

// NewHTTPDetector creates a detector backed by an inference service
func NewHTTPDetector(cfg HTTPDetectorConfig) *HTTPDetector {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	return &HTTPDetector{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.Endpoint,
		maxRetries: cfg.MaxRetries,
		logger:     slog.Default().With("component", "http_detector"),
	}
}

// Detect sends the frame to the inference service and decodes the reply.
// Transient failures are retried with a short backoff before giving up.
func (d *HTTPDetector) Detect(ctx context.Context, frame *Frame) ([]Detection, error) {
	body := map[string]interface{}{
		"camera_id": frame.CameraID,
		"frame_id":  frame.FrameID,
		"width":     frame.Width,
		"height":    frame.Height,
	}
	if len(frame.Data) > 0 {
		body["image_data"] = base64.StdEncoding.EncodeToString(frame.Data)
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detect request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		detections, err := d.doDetect(ctx, jsonBody, frame)
		if err == nil {
			return detections, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

func (d *HTTPDetector) doDetect(ctx context.Context, jsonBody []byte, frame *Frame) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect request returned status %d", resp.StatusCode)
	}

	var result struct {
		Success    bool   `json:"success"`
		Error      string `json:"error"`
		Detections []struct {
			Class      string  `json:"class"`
			Confidence float64 `json:"confidence"`
			BBox       struct {
				X      int `json:"x"`
				Y      int `json:"y"`
				Width  int `json:"width"`
				Height int `json:"height"`
			} `json:"bbox"`
			Embedding []float64 `json:"embedding,omitempty"`
		} `json:"detections"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}
	if !result.Success && result.Error != "" {
		return nil, fmt.Errorf("detector error: %s", result.Error)
	}

	detections := make([]Detection, 0, len(result.Detections))
	for _, rd := range result.Detections {
		box := BoundingBox{X: rd.BBox.X, Y: rd.BBox.Y, Width: rd.BBox.Width, Height: rd.BBox.Height}
		box = box.Clamp(frame.Width, frame.Height)
		if box.Area() == 0 {
			continue
		}
		detections = append(detections, Detection{
			Box:        box,
			Confidence: rd.Confidence,
			Class:      rd.Class,
			Embedding:  rd.Embedding,
		})
	}

	return detections, nil
}

// Ping checks whether the inference service is reachable
func (d *HTTPDetector) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("detector unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector health returned status %d", resp.StatusCode)
	}
	return nil
}

// StaticDetector replays scripted detections. Used in tests and in
// deployments where an upstream component already supplies boxes.
type StaticDetector struct {
	// Script maps a frame to its detections. A nil script yields no
	// detections for every frame.
	Script func(frame *Frame) []Detection
}

// Detect returns the scripted detections for the frame
func (d *StaticDetector) Detect(_ context.Context, frame *Frame) ([]Detection, error) {
	if d.Script == nil {
		return nil, nil
	}
	return d.Script(frame), nil
}
