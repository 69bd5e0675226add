package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crowdsight/crowdsight/internal/alerts"
	"github.com/crowdsight/crowdsight/internal/models"
)

// activeAlerts lists unacknowledged alerts, newest first.
func (s *Server) activeAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alerts.Filter{
		CameraID: q.Get("camera_id"),
		Severity: q.Get("severity"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	list, err := s.deps.Alerts.Active(r.Context(), filter)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, map[string]interface{}{
		"alerts": list,
		"total":  len(list),
	})
}

// acknowledgeAlert marks an alert as handled. Repeated acknowledgements keep
// the original acknowledgement time.
func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := s.deps.Alerts.Acknowledge(r.Context(), id)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			NotFound(w, "Alert not found")
			return
		}
		InternalError(w, err.Error())
		return
	}

	ackedAt := time.Now().UTC()
	if alert.AcknowledgedAt != nil {
		ackedAt = *alert.AcknowledgedAt
	}

	OK(w, map[string]interface{}{
		"status":          "acknowledged",
		"alert_id":        alert.ID,
		"acknowledged_at": models.FormatTime(ackedAt),
	})
}
