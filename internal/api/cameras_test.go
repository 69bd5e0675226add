package api

import (
	"net/http"
	"testing"
)

func TestRegisterCamera(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/cameras/register", map[string]interface{}{
		"camera_id":    "cam-1",
		"edge_node_id": "edge-1",
		"location":     "Main entrance",
		"resolution":   map[string]int{"width": 1280, "height": 720},
		"fps":          25,
	})
	wantStatus(t, resp, http.StatusOK)

	var cam map[string]interface{}
	decodeJSON(t, resp, &cam)

	if cam["camera_id"] != "cam-1" {
		t.Errorf("camera_id = %v", cam["camera_id"])
	}
	if cam["status"] != "active" {
		t.Errorf("status = %v, want active", cam["status"])
	}
	res, ok := cam["resolution"].(map[string]interface{})
	if !ok || res["width"].(float64) != 1280 {
		t.Errorf("resolution = %v", cam["resolution"])
	}
}

func TestRegisterCameraAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/cameras/register", map[string]interface{}{
		"camera_id":    "cam-1",
		"edge_node_id": "edge-1",
	})
	wantStatus(t, resp, http.StatusOK)

	var cam struct {
		Resolution struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"resolution"`
		FPS int `json:"fps"`
	}
	decodeJSON(t, resp, &cam)

	if cam.Resolution.Width != 640 || cam.Resolution.Height != 480 {
		t.Errorf("resolution = %dx%d, want 640x480", cam.Resolution.Width, cam.Resolution.Height)
	}
	if cam.FPS != 30 {
		t.Errorf("fps = %d, want 30", cam.FPS)
	}
}

func TestRegisterCameraIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.registerCamera(t, "cam-1", "edge-1")

	resp := env.postJSON(t, "/cameras/register", map[string]interface{}{
		"camera_id":    "cam-1",
		"edge_node_id": "edge-1",
		"location":     "Relocated",
	})
	wantStatus(t, resp, http.StatusOK)

	var cam map[string]interface{}
	decodeJSON(t, resp, &cam)
	if cam["location"] != "Relocated" {
		t.Errorf("location = %v, want Relocated", cam["location"])
	}
}

func TestRegisterCameraEdgeMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.registerCamera(t, "cam-1", "edge-1")

	resp := env.postJSON(t, "/cameras/register", map[string]interface{}{
		"camera_id":    "cam-1",
		"edge_node_id": "edge-2",
	})
	wantDetail(t, resp, http.StatusConflict, "Camera already registered by another edge node")
}

func TestRegisterCameraMissingFields(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/cameras/register", map[string]interface{}{
		"edge_node_id": "edge-1",
	})
	wantDetail(t, resp, http.StatusBadRequest, "camera_id is required")

	resp = env.postJSON(t, "/cameras/register", map[string]interface{}{
		"camera_id": "cam-1",
	})
	wantDetail(t, resp, http.StatusBadRequest, "edge_node_id is required")
}

func TestRegisterCameraRejectsBadIdentifier(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/cameras/register", map[string]interface{}{
		"camera_id":    "cam 1",
		"edge_node_id": "edge-1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422", resp.StatusCode)
	}
}

func TestListCameras(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/cameras")
	wantStatus(t, resp, http.StatusOK)

	var body struct {
		Cameras []map[string]interface{} `json:"cameras"`
		Total   int                      `json:"total"`
	}
	decodeJSON(t, resp, &body)
	if body.Total != 0 || body.Cameras == nil {
		t.Fatalf("expected empty camera list, got %+v", body)
	}

	env.registerCamera(t, "cam-1", "edge-1")
	env.registerCamera(t, "cam-2", "edge-1")

	resp = env.get(t, "/cameras")
	decodeJSON(t, resp, &body)
	if body.Total != 2 || len(body.Cameras) != 2 {
		t.Fatalf("expected 2 cameras, got %+v", body)
	}
}

func TestGetCamera(t *testing.T) {
	env := newTestEnv(t)
	env.registerCamera(t, "cam-1", "edge-1")

	resp := env.get(t, "/cameras/cam-1")
	wantStatus(t, resp, http.StatusOK)

	var cam map[string]interface{}
	decodeJSON(t, resp, &cam)
	if cam["camera_id"] != "cam-1" {
		t.Errorf("camera_id = %v", cam["camera_id"])
	}

	resp = env.get(t, "/cameras/ghost")
	wantDetail(t, resp, http.StatusNotFound, "Camera not found")
}

func TestUploadFrame(t *testing.T) {
	env := newTestEnv(t)
	env.registerCamera(t, "cam-1", "edge-1")

	resp := env.uploadFrame(t, "cam-1", 7, []byte("jpeg bytes"))
	wantStatus(t, resp, http.StatusOK)

	var ack struct {
		Status           string  `json:"status"`
		FrameID          uint64  `json:"frame_id"`
		ProcessingTimeMS float64 `json:"processing_time_ms"`
	}
	decodeJSON(t, resp, &ack)
	if ack.Status != "success" {
		t.Errorf("status = %q, want success", ack.Status)
	}
	if ack.FrameID != 7 {
		t.Errorf("frame_id = %d, want 7", ack.FrameID)
	}
	if ack.ProcessingTimeMS < 0 {
		t.Errorf("processing_time_ms = %f", ack.ProcessingTimeMS)
	}
}

func TestUploadFrameRejectsReplay(t *testing.T) {
	env := newTestEnv(t)
	env.registerCamera(t, "cam-1", "edge-1")

	resp := env.uploadFrame(t, "cam-1", 7, []byte("first"))
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.uploadFrame(t, "cam-1", 7, []byte("replay"))
	wantStatus(t, resp, http.StatusOK)

	var ack struct {
		Status string `json:"status"`
	}
	decodeJSON(t, resp, &ack)
	if ack.Status != "rejected" {
		t.Errorf("status = %q, want rejected", ack.Status)
	}
}

func TestUploadFrameAssignsIDs(t *testing.T) {
	env := newTestEnv(t)
	env.registerCamera(t, "cam-1", "edge-1")

	var ack struct {
		Status  string `json:"status"`
		FrameID uint64 `json:"frame_id"`
	}

	// Uploads without frame ids are numbered by the server.
	resp := env.uploadFrame(t, "cam-1", 0, []byte("first"))
	wantStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &ack)
	if ack.Status != "success" || ack.FrameID != 1 {
		t.Fatalf("first ack = %+v, want success/1", ack)
	}

	resp = env.uploadFrame(t, "cam-1", 0, []byte("second"))
	wantStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &ack)
	if ack.Status != "success" || ack.FrameID != 2 {
		t.Fatalf("second ack = %+v, want success/2", ack)
	}
}

func TestUploadFrameMissingCameraID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.uploadFrame(t, "", 1, []byte("data"))
	wantDetail(t, resp, http.StatusBadRequest, "camera_id is required")
}
