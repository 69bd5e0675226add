// Package alerts grades risk transitions into persisted, pushable alerts.
package alerts

import (
	"encoding/json"
	"time"

	"github.com/crowdsight/crowdsight/internal/models"
)

// Alert kinds
const (
	KindStampedeRisk     = "stampede_risk"
	KindHighDensity      = "high_density"
	KindCongestion       = "congestion"
	KindWarning          = "warning"
	KindZoneOvercapacity = "zone_overcapacity"
)

// Alert is one graded safety alert for a camera.
type Alert struct {
	ID             string     `json:"id"`
	CameraID       string     `json:"camera_id"`
	Kind           string     `json:"alert_type"`
	Severity       string     `json:"severity"`
	RiskScore      float64    `json:"risk_score"`
	Message        string     `json:"message"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// MarshalJSON emits wire timestamps in ISO-8601 UTC with milliseconds.
func (a Alert) MarshalJSON() ([]byte, error) {
	type alias Alert
	var ackedAt *string
	if a.AcknowledgedAt != nil {
		s := models.FormatTime(*a.AcknowledgedAt)
		ackedAt = &s
	}
	return json.Marshal(struct {
		alias
		Timestamp      string  `json:"timestamp"`
		AcknowledgedAt *string `json:"acknowledged_at,omitempty"`
	}{
		alias:          alias(a),
		Timestamp:      models.FormatTime(a.Timestamp),
		AcknowledgedAt: ackedAt,
	})
}
