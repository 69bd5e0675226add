package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crowdsight/crowdsight/internal/cameras"
	"github.com/crowdsight/crowdsight/internal/zones"
)

// ZoneRequest is the body for creating or updating a zone.
type ZoneRequest struct {
	CameraID    string         `json:"camera_id"`
	Name        string         `json:"name"`
	Type        zones.ZoneType `json:"zone_type"`
	Polygon     zones.Polygon  `json:"polygon"`
	MaxCapacity int            `json:"max_capacity"`
}

func (s *Server) createZone(w http.ResponseWriter, r *http.Request) {
	var req ZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	if req.CameraID == "" {
		BadRequest(w, "camera_id is required")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.Type == "" {
		req.Type = zones.ZoneMonitor
	}
	if !zones.ValidZoneType(req.Type) {
		Unprocessable(w, "zone_type must be one of entry, exit, monitor, restricted")
		return
	}
	if !req.Polygon.Valid() {
		Unprocessable(w, "polygon must have at least 3 points")
		return
	}

	if _, err := s.deps.Cameras.Get(r.Context(), req.CameraID); err != nil {
		if errors.Is(err, cameras.ErrNotFound) {
			NotFound(w, "Camera not found")
			return
		}
		InternalError(w, err.Error())
		return
	}

	now := time.Now().UTC()
	zone := &zones.Zone{
		ID:          uuid.New().String(),
		CameraID:    req.CameraID,
		Name:        req.Name,
		Type:        req.Type,
		Polygon:     req.Polygon,
		MaxCapacity: req.MaxCapacity,
		Status:      zones.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Zones.Create(r.Context(), zone); err != nil {
		s.logger.Error("failed to create zone", "camera_id", req.CameraID, "error", err)
		InternalError(w, err.Error())
		return
	}

	s.reloadZones(r, zone.CameraID)
	Created(w, zone)
}

// zonesForCamera lists a camera's zones. The path parameter is the camera
// id, matching the original surface.
func (s *Server) zonesForCamera(w http.ResponseWriter, r *http.Request) {
	cam := s.cameraOr404(w, r)
	if cam == nil {
		return
	}

	zoneList, err := s.deps.Zones.List(r.Context(), cam.ID)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, map[string]interface{}{"zones": zoneList})
}

func (s *Server) updateZone(w http.ResponseWriter, r *http.Request) {
	var req ZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if req.Type != "" && !zones.ValidZoneType(req.Type) {
		Unprocessable(w, "zone_type must be one of entry, exit, monitor, restricted")
		return
	}
	if req.Polygon != nil && !req.Polygon.Valid() {
		Unprocessable(w, "polygon must have at least 3 points")
		return
	}

	zone, err := s.deps.Zones.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, zones.ErrNotFound) {
			NotFound(w, "Zone not found")
			return
		}
		InternalError(w, err.Error())
		return
	}

	if req.Name != "" {
		zone.Name = req.Name
	}
	if req.Type != "" {
		zone.Type = req.Type
	}
	if req.Polygon != nil {
		zone.Polygon = req.Polygon
	}
	if req.MaxCapacity != 0 {
		zone.MaxCapacity = req.MaxCapacity
	}
	zone.UpdatedAt = time.Now().UTC()

	if err := s.deps.Zones.Update(r.Context(), zone); err != nil {
		if errors.Is(err, zones.ErrNotFound) {
			NotFound(w, "Zone not found")
			return
		}
		InternalError(w, err.Error())
		return
	}

	s.reloadZones(r, zone.CameraID)
	OK(w, zone)
}

// deleteZone removes the zone and its recorded events. Reads after a delete
// return 404.
func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	zone, err := s.deps.Zones.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, zones.ErrNotFound) {
			NotFound(w, "Zone not found")
			return
		}
		InternalError(w, err.Error())
		return
	}

	if err := s.deps.Zones.Delete(r.Context(), id); err != nil {
		if errors.Is(err, zones.ErrNotFound) {
			NotFound(w, "Zone not found")
			return
		}
		InternalError(w, err.Error())
		return
	}

	s.reloadZones(r, zone.CameraID)
	OK(w, map[string]interface{}{
		"status":  "deleted",
		"zone_id": id,
	})
}

// reloadZones pushes the camera's new zone set into its running pipeline.
func (s *Server) reloadZones(r *http.Request, cameraID string) {
	if s.deps.Coordinator == nil {
		return
	}
	if err := s.deps.Coordinator.ReloadZones(r.Context(), cameraID); err != nil {
		s.logger.Warn("failed to reload zones", "camera_id", cameraID, "error", err)
	}
}
