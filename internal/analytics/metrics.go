// Package analytics derives per-frame crowd metrics, risk scores, and their
// persistence from the tracker output of one camera.
package analytics

import (
	"encoding/json"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/models"
)

// Flow is the L2-normalised mean velocity of all tracks
type Flow struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sample is the analytics result for one processed frame
type Sample struct {
	CameraID    string    `json:"camera_id"`
	Timestamp   time.Time `json:"timestamp"`
	PeopleCount int       `json:"people_count"`
	Density     float64   `json:"density"`
	AvgSpeed    float64   `json:"avg_speed"`
	Flow        Flow      `json:"flow_direction"`
	Congestion  string    `json:"congestion_level"`
	RiskScore   float64   `json:"risk_score"`
	RiskLevel   string    `json:"risk_level"`
}

// MarshalJSON renders the timestamp in the wire format
func (s Sample) MarshalJSON() ([]byte, error) {
	type alias Sample
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{alias(s), models.FormatTime(s.Timestamp)})
}

// EngineConfig holds the analytics tuning knobs
type EngineConfig struct {
	// DensityNorm is the kernel density mass mapped to density 1.0.
	DensityNorm float64
	// ReferenceSpeed normalises the speed standard deviation, px/s.
	ReferenceSpeed float64
	// SpeedJumpThreshold marks a per-track speed change as sudden, px/s.
	SpeedJumpThreshold float64
}

// DefaultEngineConfig returns the default analytics tuning
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DensityNorm:        10.0,
		ReferenceSpeed:     120.0,
		SpeedJumpThreshold: 60.0,
	}
}

// Engine computes crowd metrics from the confirmed tracks of one frame.
// It is stateless; all history it needs lives on the tracks.
type Engine struct {
	cfg EngineConfig
}

// NewEngine creates an analytics engine
func NewEngine(cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.DensityNorm <= 0 {
		cfg.DensityNorm = def.DensityNorm
	}
	if cfg.ReferenceSpeed <= 0 {
		cfg.ReferenceSpeed = def.ReferenceSpeed
	}
	if cfg.SpeedJumpThreshold <= 0 {
		cfg.SpeedJumpThreshold = def.SpeedJumpThreshold
	}
	return &Engine{cfg: cfg}
}

// Compute derives the analytics sample for one frame's confirmed tracks
func (e *Engine) Compute(cameraID string, tracks []*detection.Track, ts time.Time) *Sample {
	sample := &Sample{
		CameraID:   cameraID,
		Timestamp:  ts,
		Congestion: CongestionLow,
		RiskLevel:  LevelNormal,
	}
	if len(tracks) == 0 {
		return sample
	}

	n := len(tracks)
	sample.PeopleCount = n
	sample.Density = e.density(tracks)
	sample.Congestion = CongestionFor(sample.Density)

	speeds := make([]float64, n)
	var sumVX, sumVY float64
	var sumUX, sumUY float64
	moving := 0
	sudden := 0
	for i, tr := range tracks {
		speeds[i] = tr.Speed
		sumVX += tr.VX
		sumVY += tr.VY
		if tr.Speed > 0 {
			sumUX += tr.VX / tr.Speed
			sumUY += tr.VY / tr.Speed
			moving++
		}
		if math.Abs(tr.Speed-tr.PrevSpeed) > e.cfg.SpeedJumpThreshold {
			sudden++
		}
	}

	sample.AvgSpeed = stat.Mean(speeds, nil)

	meanVX, meanVY := sumVX/float64(n), sumVY/float64(n)
	if mag := math.Hypot(meanVX, meanVY); mag > 0 {
		sample.Flow = Flow{X: meanVX / mag, Y: meanVY / mag}
	}

	speedVariance := 0.0
	if n >= 2 {
		speedVariance = clip01(stat.StdDev(speeds, nil) / e.cfg.ReferenceSpeed)
	}

	conflict := 0.0
	if moving > 0 {
		conflict = 1 - math.Hypot(sumUX/float64(moving), sumUY/float64(moving))
	}

	suddenMovement := float64(sudden) / float64(n)

	sample.RiskScore = RiskScore(
		sample.Density,
		speedVariance,
		congestionFactor(sample.Congestion),
		conflict,
		suddenMovement,
	)
	sample.RiskLevel = LevelFor(sample.RiskScore)

	return sample
}

// density evaluates a Gaussian kernel density estimate at the track centers
// and maps the mean kernel mass to [0,1] via DensityNorm. A lone track
// scores 1/DensityNorm; DensityNorm tracks stacked on one spot score 1.
func (e *Engine) density(tracks []*detection.Track) float64 {
	n := len(tracks)

	// Bandwidth follows the mean box extent so the estimate adapts to
	// how large people appear on this camera.
	var extent float64
	for _, tr := range tracks {
		extent += math.Max(float64(tr.Box.Width), float64(tr.Box.Height))
	}
	sigma := extent / float64(n) / 3
	if sigma < 1 {
		sigma = 1
	}

	denom := 2 * sigma * sigma
	var total float64
	for i := 0; i < n; i++ {
		xi, yi := tracks[i].Box.Center()
		for j := 0; j < n; j++ {
			xj, yj := tracks[j].Box.Center()
			dx, dy := xi-xj, yi-yj
			total += math.Exp(-(dx*dx + dy*dy) / denom)
		}
	}

	raw := total / float64(n)
	return clip01(raw / e.cfg.DensityNorm)
}
