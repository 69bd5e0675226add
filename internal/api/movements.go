package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crowdsight/crowdsight/internal/match"
	"github.com/crowdsight/crowdsight/internal/models"
)

// Query parameter bounds for the movement endpoints.
const (
	defaultMovementLimit = 100
	maxMovementLimit     = 1000
	defaultLookbackHours = 24
	maxLookbackHours     = 168
)

func movementLimit(q string) int {
	limit := defaultMovementLimit
	if q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxMovementLimit {
		limit = maxMovementLimit
	}
	return limit
}

func lookbackWindow(q string) (time.Time, time.Time) {
	hours := defaultLookbackHours
	if q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			hours = n
		}
	}
	if hours > maxLookbackHours {
		hours = maxLookbackHours
	}
	until := time.Now().UTC()
	return until.Add(-time.Duration(hours) * time.Hour), until
}

func movementsEnvelope(w http.ResponseWriter, list []*match.Movement) {
	OK(w, map[string]interface{}{
		"movements": list,
		"total":     len(list),
	})
}

// listMovements returns cross-camera movements filtered by camera and time.
func (s *Server) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := match.Filter{
		EntryCameraID: q.Get("entry_camera_id"),
		ExitCameraID:  q.Get("exit_camera_id"),
		Limit:         movementLimit(q.Get("limit")),
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := models.ParseTime(v); err == nil {
			filter.Since = t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := models.ParseTime(v); err == nil {
			filter.Until = t
		}
	}

	list, err := s.deps.Movements.List(r.Context(), filter)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	movementsEnvelope(w, list)
}

// movementStatistics aggregates the stored movements over a time range.
func (s *Server) movementStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since, until time.Time
	if v := q.Get("start_time"); v != "" {
		if t, err := models.ParseTime(v); err == nil {
			since = t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := models.ParseTime(v); err == nil {
			until = t
		}
	}

	stats, err := s.deps.Movements.Statistics(r.Context(), since, until)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, stats)
}

// movementsByCamera lists movements touching one camera, filtered by
// direction: entry, exit or both.
func (s *Server) movementsByCamera(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	q := r.URL.Query()

	direction := q.Get("direction")
	if direction == "" {
		direction = "both"
	}
	since, until := lookbackWindow(q.Get("hours"))
	limit := movementLimit(q.Get("limit"))

	var (
		list []*match.Movement
		err  error
	)
	switch direction {
	case "entry":
		list, err = s.deps.Movements.List(r.Context(), match.Filter{
			EntryCameraID: cameraID, Since: since, Until: until, Limit: limit,
		})
	case "exit":
		list, err = s.deps.Movements.List(r.Context(), match.Filter{
			ExitCameraID: cameraID, Since: since, Until: until, Limit: limit,
		})
	case "both":
		list, err = s.deps.Movements.ByCamera(r.Context(), cameraID, since, until, limit)
	default:
		BadRequest(w, "direction must be one of entry, exit, both")
		return
	}
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	movementsEnvelope(w, list)
}

// movementsBetween lists movements between a camera pair in either direction.
func (s *Server) movementsBetween(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, until := lookbackWindow(q.Get("hours"))
	limit := movementLimit(q.Get("limit"))

	list, err := s.deps.Movements.ByPair(r.Context(),
		chi.URLParam(r, "a"), chi.URLParam(r, "b"), since, until, limit)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	movementsEnvelope(w, list)
}
