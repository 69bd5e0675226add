package api

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crowdsight/crowdsight/internal/cameras"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Identifiers end up in URLs and bus subjects, so the charset is strict.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Upper bounds on registration values. 8K at 240 fps is far beyond any edge
// node ships today.
const (
	maxIdentifierLen = 64
	maxWidth         = 7680
	maxHeight        = 4320
	maxFPS           = 240
)

// RegistrationValidator validates camera registration requests
type RegistrationValidator struct {
	errors ValidationErrors
}

// NewRegistrationValidator creates a new registration validator
func NewRegistrationValidator() *RegistrationValidator {
	return &RegistrationValidator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate checks the format and bounds of a registration. Required-field
// presence is the handler's job; empty fields are skipped here.
func (v *RegistrationValidator) Validate(req RegisterRequest) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if req.CameraID != "" {
		v.validateIdentifier("camera_id", req.CameraID)
	}
	if req.EdgeNodeID != "" {
		v.validateIdentifier("edge_node_id", req.EdgeNodeID)
	}
	v.validateResolution(req.Resolution)
	v.validateFPS(req.FPS)

	return v.errors
}

func (v *RegistrationValidator) validateIdentifier(field, id string) {
	if !identifierPattern.MatchString(id) {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: "must contain only letters, numbers, underscores, and hyphens",
		})
	}
	if len(id) > maxIdentifierLen {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at most %d characters", maxIdentifierLen),
		})
	}
}

func (v *RegistrationValidator) validateResolution(res cameras.Resolution) {
	if res.Width < 0 || res.Height < 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   "resolution",
			Message: "width and height must not be negative",
		})
		return
	}
	if (res.Width == 0) != (res.Height == 0) {
		v.errors = append(v.errors, ValidationError{
			Field:   "resolution",
			Message: "width and height must be set together",
		})
		return
	}
	if res.Width > maxWidth || res.Height > maxHeight {
		v.errors = append(v.errors, ValidationError{
			Field:   "resolution",
			Message: fmt.Sprintf("must be at most %dx%d", maxWidth, maxHeight),
		})
	}
}

func (v *RegistrationValidator) validateFPS(fps int) {
	if fps < 0 || fps > maxFPS {
		v.errors = append(v.errors, ValidationError{
			Field:   "fps",
			Message: fmt.Sprintf("must be between 0 and %d", maxFPS),
		})
	}
}
