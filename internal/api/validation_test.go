package api

import (
	"strings"
	"testing"

	"github.com/crowdsight/crowdsight/internal/cameras"
)

func TestRegistrationValidator_ValidRequest(t *testing.T) {
	validator := NewRegistrationValidator()

	req := RegisterRequest{
		CameraID:   "cam-entrance-01",
		EdgeNodeID: "edge_node_1",
		Location:   "Main entrance",
		Resolution: cameras.Resolution{Width: 1920, Height: 1080},
		FPS:        30,
	}

	errors := validator.Validate(req)
	if errors.HasErrors() {
		t.Errorf("Valid request should not have errors, got: %v", errors)
	}
}

func TestRegistrationValidator_SkipsEmptyIdentifiers(t *testing.T) {
	validator := NewRegistrationValidator()

	// Presence is the handler's job; the validator only checks format.
	errors := validator.Validate(RegisterRequest{})
	if errors.HasErrors() {
		t.Errorf("Empty request should not have errors, got: %v", errors)
	}
}

func TestRegistrationValidator_InvalidCameraID(t *testing.T) {
	validator := NewRegistrationValidator()

	tests := []string{
		"cam 1",
		"cam/1",
		"cam#1",
		strings.Repeat("a", 65),
	}

	for _, id := range tests {
		errors := validator.Validate(RegisterRequest{CameraID: id, EdgeNodeID: "edge-1"})
		if !errors.HasErrors() {
			t.Errorf("Camera id %q should have errors", id)
			continue
		}

		found := false
		for _, err := range errors {
			if err.Field == "camera_id" {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected error for 'camera_id' field with id %q", id)
		}
	}
}

func TestRegistrationValidator_InvalidEdgeNodeID(t *testing.T) {
	validator := NewRegistrationValidator()

	errors := validator.Validate(RegisterRequest{CameraID: "cam-1", EdgeNodeID: "edge node"})
	if !errors.HasErrors() {
		t.Fatal("Edge node id with spaces should have errors")
	}
	if errors[0].Field != "edge_node_id" {
		t.Errorf("Expected error for 'edge_node_id' field, got %q", errors[0].Field)
	}
}

func TestRegistrationValidator_Resolution(t *testing.T) {
	tests := []struct {
		name    string
		res     cameras.Resolution
		wantErr bool
	}{
		{"unset", cameras.Resolution{}, false},
		{"standard", cameras.Resolution{Width: 1280, Height: 720}, false},
		{"negative", cameras.Resolution{Width: -1, Height: 720}, true},
		{"width only", cameras.Resolution{Width: 1920}, true},
		{"height only", cameras.Resolution{Height: 1080}, true},
		{"too large", cameras.Resolution{Width: 10000, Height: 10000}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			validator := NewRegistrationValidator()
			errors := validator.Validate(RegisterRequest{
				CameraID:   "cam-1",
				EdgeNodeID: "edge-1",
				Resolution: tc.res,
			})
			if errors.HasErrors() != tc.wantErr {
				t.Errorf("Resolution %+v: hasErrors=%v, want %v (%v)", tc.res, errors.HasErrors(), tc.wantErr, errors)
			}
		})
	}
}

func TestRegistrationValidator_FPS(t *testing.T) {
	tests := []struct {
		fps     int
		wantErr bool
	}{
		{0, false},
		{30, false},
		{240, false},
		{-1, true},
		{241, true},
	}

	for _, tc := range tests {
		validator := NewRegistrationValidator()
		errors := validator.Validate(RegisterRequest{
			CameraID:   "cam-1",
			EdgeNodeID: "edge-1",
			FPS:        tc.fps,
		})
		if errors.HasErrors() != tc.wantErr {
			t.Errorf("FPS %d: hasErrors=%v, want %v", tc.fps, errors.HasErrors(), tc.wantErr)
		}
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errors := ValidationErrors{
		{Field: "camera_id", Message: "bad"},
		{Field: "fps", Message: "worse"},
	}

	msg := errors.Error()
	if !strings.Contains(msg, "camera_id: bad") || !strings.Contains(msg, "fps: worse") {
		t.Errorf("Unexpected joined message: %q", msg)
	}
}
