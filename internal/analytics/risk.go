package analytics

// Risk levels
const (
	LevelNormal   = "NORMAL"
	LevelWarning  = "WARNING"
	LevelCritical = "CRITICAL"
)

// Level thresholds
const (
	warningThreshold  = 0.4
	criticalThreshold = 0.7
)

// Factor weights of the stampede risk model
const (
	weightDensity        = 0.30
	weightSpeedVariance  = 0.25
	weightCongestion     = 0.20
	weightConflict       = 0.15
	weightSuddenMovement = 0.10
)

// Congestion levels
const (
	CongestionLow    = "low"
	CongestionMedium = "medium"
	CongestionHigh   = "high"
)

// CongestionFor bands a density value into a congestion level
func CongestionFor(density float64) string {
	switch {
	case density < 0.33:
		return CongestionLow
	case density < 0.66:
		return CongestionMedium
	default:
		return CongestionHigh
	}
}

// congestionFactor maps a congestion level to its risk factor
func congestionFactor(level string) float64 {
	switch level {
	case CongestionMedium:
		return 0.5
	case CongestionHigh:
		return 1.0
	default:
		return 0.0
	}
}

// RiskScore computes the weighted stampede risk from its five factors.
// Each factor is clipped to [0,1] before weighting, so the result is
// always in [0,1].
func RiskScore(density, speedVariance, congestion, directionalConflict, suddenMovement float64) float64 {
	score := weightDensity*clip01(density) +
		weightSpeedVariance*clip01(speedVariance) +
		weightCongestion*clip01(congestion) +
		weightConflict*clip01(directionalConflict) +
		weightSuddenMovement*clip01(suddenMovement)
	return clip01(score)
}

// LevelFor classifies a risk score
func LevelFor(score float64) string {
	switch {
	case score < warningThreshold:
		return LevelNormal
	case score < criticalThreshold:
		return LevelWarning
	default:
		return LevelCritical
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
