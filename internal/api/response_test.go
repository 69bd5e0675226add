package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "hello"}

	JSON(w, http.StatusOK, data)

	result := w.Result()
	if result.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, result.StatusCode)
	}

	if result.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", result.Header.Get("Content-Type"))
	}

	var body map[string]string
	if err := json.NewDecoder(result.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["message"] != "hello" {
		t.Errorf("Expected message 'hello', got '%s'", body["message"])
	}
}

func TestDetail(t *testing.T) {
	w := httptest.NewRecorder()

	Detail(w, http.StatusBadRequest, "Invalid input")

	result := w.Result()
	if result.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, result.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(result.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["detail"] != "Invalid input" {
		t.Errorf("Expected detail 'Invalid input', got '%s'", body["detail"])
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(http.ResponseWriter, string)
		status int
	}{
		{"BadRequest", BadRequest, http.StatusBadRequest},
		{"NotFound", NotFound, http.StatusNotFound},
		{"Conflict", Conflict, http.StatusConflict},
		{"Unprocessable", Unprocessable, http.StatusUnprocessableEntity},
		{"InternalError", InternalError, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tc.fn(w, "test error")

			result := w.Result()
			if result.StatusCode != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, result.StatusCode)
			}

			var body map[string]string
			if err := json.NewDecoder(result.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if body["detail"] != "test error" {
				t.Errorf("Expected detail 'test error', got '%s'", body["detail"])
			}
		})
	}
}

func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	OK(w, map[string]string{"status": "fine"})

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("Expected status %d", http.StatusOK)
	}
}

func TestCreated(t *testing.T) {
	w := httptest.NewRecorder()
	Created(w, map[string]string{"id": "123"})

	if w.Result().StatusCode != http.StatusCreated {
		t.Errorf("Expected status %d", http.StatusCreated)
	}
}
