package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crowdsight/crowdsight/internal/cameras"
	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/models"
	"github.com/crowdsight/crowdsight/internal/pipeline"
)

// maxFrameUpload bounds a single multipart frame upload.
const maxFrameUpload = 10 << 20

// RegisterRequest is the camera registration payload
type RegisterRequest struct {
	CameraID   string             `json:"camera_id"`
	EdgeNodeID string             `json:"edge_node_id"`
	Location   string             `json:"location"`
	Resolution cameras.Resolution `json:"resolution"`
	FPS        int                `json:"fps"`
}

// registerCamera registers a camera or refreshes an existing registration
// from the same edge node.
func (s *Server) registerCamera(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if req.CameraID == "" {
		BadRequest(w, "camera_id is required")
		return
	}
	if req.EdgeNodeID == "" {
		BadRequest(w, "edge_node_id is required")
		return
	}
	if errs := NewRegistrationValidator().Validate(req); errs.HasErrors() {
		Unprocessable(w, errs.Error())
		return
	}

	cam, err := s.deps.Cameras.Register(r.Context(), &cameras.Camera{
		ID:         req.CameraID,
		EdgeNodeID: req.EdgeNodeID,
		Location:   req.Location,
		Resolution: req.Resolution,
		FPS:        req.FPS,
	})
	if errors.Is(err, cameras.ErrEdgeMismatch) {
		Conflict(w, "Camera already registered by another edge node")
		return
	}
	if err != nil {
		s.logger.Error("camera registration failed", "camera_id", req.CameraID, "error", err)
		InternalError(w, err.Error())
		return
	}

	OK(w, cam)
}

// listCameras lists registered cameras, optionally filtered by status.
func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := s.deps.Cameras.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, map[string]interface{}{
		"cameras": cams,
		"total":   len(cams),
	})
}

// getCamera retrieves one camera record.
func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	cam, err := s.deps.Cameras.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, cameras.ErrNotFound) {
		NotFound(w, "Camera not found")
		return
	}
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, cam)
}

// uploadFrame ingests one frame over multipart HTTP. The frame is queued
// for the camera's pipeline and acknowledged immediately; the detection and
// track counts reflect the camera's newest processed frame.
func (s *Server) uploadFrame(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := r.ParseMultipartForm(maxFrameUpload); err != nil {
		BadRequest(w, "Invalid multipart form")
		return
	}
	cameraID := r.FormValue("camera_id")
	if cameraID == "" {
		BadRequest(w, "camera_id is required")
		return
	}

	file, _, err := r.FormFile("frame")
	if err != nil {
		BadRequest(w, "frame file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		BadRequest(w, "failed to read frame data")
		return
	}

	frame := &detection.Frame{
		CameraID:  cameraID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if v := r.FormValue("frame_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			BadRequest(w, "frame_id must be a non-negative integer")
			return
		}
		frame.FrameID = id
	}
	if v := r.FormValue("timestamp"); v != "" {
		ts, err := models.ParseTime(v)
		if err != nil {
			BadRequest(w, "timestamp must be ISO-8601")
			return
		}
		frame.Timestamp = ts
	}

	ack := s.ingestFrame(r.Context(), frame, start, "success")
	OK(w, ack)
}

// ingestFrame submits a frame and builds its acknowledgement. okStatus is
// the status reported on acceptance ("success" for uploads, "received" on
// the socket).
func (s *Server) ingestFrame(ctx context.Context, frame *detection.Frame, start time.Time, okStatus string) models.FrameAck {
	status := okStatus
	if err := s.deps.Coordinator.Submit(ctx, frame); err != nil {
		if !errors.Is(err, pipeline.ErrStaleFrame) {
			s.logger.Warn("frame ingest failed", "camera_id", frame.CameraID, "error", err)
		}
		status = "rejected"
	}

	ack := models.FrameAck{
		Status:           status,
		FrameID:          frame.FrameID,
		ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if entry, ok := s.deps.Cache.Latest(frame.CameraID); ok {
		ack.DetectionsCount = len(entry.Detections)
		ack.TracksCount = len(entry.Tracks)
	}
	return ack
}
