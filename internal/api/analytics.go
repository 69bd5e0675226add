package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crowdsight/crowdsight/internal/cameras"
	"github.com/crowdsight/crowdsight/internal/frames"
	"github.com/crowdsight/crowdsight/internal/models"
	"github.com/crowdsight/crowdsight/internal/zones"
)

// Query parameter defaults for the analytics endpoints.
const (
	defaultHistoryInterval = 60
	defaultHeatmapSeconds  = 300
	defaultEventLimit      = 100
	eventWindow            = 24 * time.Hour
)

// cameraOr404 resolves a camera record or writes the 404 response.
func (s *Server) cameraOr404(w http.ResponseWriter, r *http.Request) *cameras.Camera {
	cam, err := s.deps.Cameras.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, cameras.ErrNotFound) {
		NotFound(w, "Camera not found")
		return nil
	}
	if err != nil {
		InternalError(w, err.Error())
		return nil
	}
	return cam
}

// realtimeAnalytics returns the camera's most recent analytics sample.
func (s *Server) realtimeAnalytics(w http.ResponseWriter, r *http.Request) {
	cam := s.cameraOr404(w, r)
	if cam == nil {
		return
	}

	sample := s.deps.Analytics.Latest(cam.ID)
	if sample == nil {
		NotFound(w, "No analytics available")
		return
	}
	OK(w, sample)
}

// analyticsHistory returns interval-bucketed samples for a time range,
// defaulting to the last hour.
func (s *Server) analyticsHistory(w http.ResponseWriter, r *http.Request) {
	cam := s.cameraOr404(w, r)
	if cam == nil {
		return
	}

	q := r.URL.Query()
	end := time.Now().UTC()
	start := end.Add(-time.Hour)
	if v := q.Get("start_time"); v != "" {
		if t, err := models.ParseTime(v); err == nil {
			start = t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := models.ParseTime(v); err == nil {
			end = t
		}
	}
	interval := defaultHistoryInterval
	if v := q.Get("interval"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = n
		}
	}

	buckets, err := s.deps.Analytics.History(r.Context(), cam.ID, start, end, interval)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, map[string]interface{}{
		"camera_id":  cam.ID,
		"start_time": models.FormatTime(start),
		"end_time":   models.FormatTime(end),
		"interval":   interval,
		"data":       buckets,
	})
}

// analyticsHeatmap renders recent track positions into a base64 PNG at the
// camera's resolution.
func (s *Server) analyticsHeatmap(w http.ResponseWriter, r *http.Request) {
	cam := s.cameraOr404(w, r)
	if cam == nil {
		return
	}

	duration := defaultHeatmapSeconds
	if v := r.URL.Query().Get("duration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			duration = n
		}
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(duration) * time.Second)

	positions, err := s.deps.Analytics.Positions(r.Context(), cam.ID, start, end)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	img := frames.RenderHeatmap(positions, cam.Resolution.Width, cam.Resolution.Height)
	png, err := frames.EncodePNG(img)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, map[string]interface{}{
		"camera_id":  cam.ID,
		"heatmap":    base64.StdEncoding.EncodeToString(png),
		"resolution": cam.Resolution,
		"timestamp":  models.FormatTime(end),
		"duration":   duration,
	})
}

// entryExit returns the camera's recent zone crossings with entry and exit
// tallies over the last day.
func (s *Server) entryExit(w http.ResponseWriter, r *http.Request) {
	cam := s.cameraOr404(w, r)
	if cam == nil {
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	until := time.Now().UTC()
	since := until.Add(-eventWindow)

	events, err := s.deps.Zones.ListEvents(r.Context(), zones.EventFilter{
		CameraID: cam.ID,
		Since:    since,
		Until:    until,
		Limit:    limit,
	})
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	entries, exits, err := s.deps.Zones.EventCounts(r.Context(), cam.ID, since, until)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, map[string]interface{}{
		"camera_id":   cam.ID,
		"events":      events,
		"entry_count": entries,
		"exit_count":  exits,
	})
}
