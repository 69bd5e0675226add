package alerts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/zones"
)

// GeneratorConfig holds alert pacing settings
type GeneratorConfig struct {
	// ResampleInterval re-emits an alert when an elevated level holds
	// without change.
	ResampleInterval time.Duration
	// OvercapacityCooldown suppresses repeat overcapacity alerts for the
	// same zone.
	OvercapacityCooldown time.Duration
}

// DefaultGeneratorConfig returns the default alert pacing
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		ResampleInterval:     30 * time.Second,
		OvercapacityCooldown: 10 * time.Second,
	}
}

// Generator turns analytics samples and zone capacity breaches into alerts.
// A risk alert fires when a camera's risk level changes, or again when an
// elevated level has held for the resample interval. Returning to NORMAL is
// silent.
type Generator struct {
	cfg    GeneratorConfig
	logger *slog.Logger

	mu        sync.Mutex
	lastLevel map[string]string
	lastEmit  map[string]time.Time
	// overcap remembers the last overcapacity alert per zone so a zone
	// that stays over its limit does not alert every frame.
	overcap *lru.Cache[string, time.Time]
}

// NewGenerator creates an alert generator. Zero config fields fall back to
// the defaults.
func NewGenerator(cfg GeneratorConfig) *Generator {
	def := DefaultGeneratorConfig()
	if cfg.ResampleInterval <= 0 {
		cfg.ResampleInterval = def.ResampleInterval
	}
	if cfg.OvercapacityCooldown <= 0 {
		cfg.OvercapacityCooldown = def.OvercapacityCooldown
	}

	overcap, _ := lru.New[string, time.Time](1024)
	return &Generator{
		cfg:       cfg,
		logger:    slog.Default().With("component", "alerts"),
		lastLevel: make(map[string]string),
		lastEmit:  make(map[string]time.Time),
		overcap:   overcap,
	}
}

// Evaluate inspects one analytics sample and returns an alert when the
// camera's risk state warrants one, nil otherwise.
func (g *Generator) Evaluate(sample *analytics.Sample) *Alert {
	if sample == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.lastLevel[sample.CameraID]
	g.lastLevel[sample.CameraID] = sample.RiskLevel

	if sample.RiskLevel == analytics.LevelNormal {
		delete(g.lastEmit, sample.CameraID)
		return nil
	}

	changed := sample.RiskLevel != prev
	last, emitted := g.lastEmit[sample.CameraID]
	sustained := emitted && sample.Timestamp.Sub(last) >= g.cfg.ResampleInterval
	if !changed && !sustained {
		return nil
	}
	g.lastEmit[sample.CameraID] = sample.Timestamp

	kind, message := classify(sample)
	alert := &Alert{
		ID:        uuid.New().String(),
		CameraID:  sample.CameraID,
		Kind:      kind,
		Severity:  sample.RiskLevel,
		RiskScore: sample.RiskScore,
		Message:   message,
		Timestamp: sample.Timestamp,
	}

	g.logger.Warn("alert generated",
		"camera_id", alert.CameraID,
		"kind", alert.Kind,
		"severity", alert.Severity,
		"risk_score", alert.RiskScore)
	return alert
}

// Overcapacity returns an alert for a zone over its capacity, or nil while
// the zone is inside its cooldown window.
func (g *Generator) Overcapacity(oc zones.Overcapacity, ts time.Time) *Alert {
	key := "overcap|" + oc.ZoneID

	g.mu.Lock()
	if last, ok := g.overcap.Get(key); ok && ts.Sub(last) < g.cfg.OvercapacityCooldown {
		g.mu.Unlock()
		return nil
	}
	g.overcap.Add(key, ts)
	g.mu.Unlock()

	alert := &Alert{
		ID:       uuid.New().String(),
		CameraID: oc.CameraID,
		Kind:     KindZoneOvercapacity,
		Severity: analytics.LevelWarning,
		Message: fmt.Sprintf("Zone '%s' over capacity: %d/%d",
			oc.ZoneName, oc.Occupancy, oc.MaxCapacity),
		Timestamp: ts,
	}

	g.logger.Warn("alert generated",
		"camera_id", alert.CameraID,
		"kind", alert.Kind,
		"zone_id", oc.ZoneID,
		"occupancy", oc.Occupancy,
		"max_capacity", oc.MaxCapacity)
	return alert
}

// Reset forgets a camera's alert state, used when its pipeline stops.
func (g *Generator) Reset(cameraID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lastLevel, cameraID)
	delete(g.lastEmit, cameraID)
}

// classify picks the alert kind and message for an elevated sample.
func classify(sample *analytics.Sample) (string, string) {
	switch {
	case sample.RiskLevel == analytics.LevelCritical:
		return KindStampedeRisk,
			fmt.Sprintf("CRITICAL: Stampede risk detected (score: %.2f)", sample.RiskScore)
	case sample.Density > 0.7:
		return KindHighDensity,
			fmt.Sprintf("High crowd density detected: %.1f%%", sample.Density*100)
	case sample.Congestion == analytics.CongestionHigh:
		return KindCongestion, "High congestion detected - flow may be blocked"
	default:
		return KindWarning,
			fmt.Sprintf("Warning: Elevated risk detected (score: %.2f)", sample.RiskScore)
	}
}
