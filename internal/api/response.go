package api

import (
	"encoding/json"
	"net/http"
)

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK sends a 200 OK response
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Detail sends an error response with the standard {"detail": ...} body
func Detail(w http.ResponseWriter, status int, detail string) {
	JSON(w, status, map[string]string{"detail": detail})
}

// Common error responses

func BadRequest(w http.ResponseWriter, detail string) {
	Detail(w, http.StatusBadRequest, detail)
}

func NotFound(w http.ResponseWriter, detail string) {
	Detail(w, http.StatusNotFound, detail)
}

func Conflict(w http.ResponseWriter, detail string) {
	Detail(w, http.StatusConflict, detail)
}

// Unprocessable rejects a request that parsed but failed validation
func Unprocessable(w http.ResponseWriter, detail string) {
	Detail(w, http.StatusUnprocessableEntity, detail)
}

func InternalError(w http.ResponseWriter, detail string) {
	Detail(w, http.StatusInternalServerError, detail)
}
