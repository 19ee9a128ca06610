package api

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/celergeo/internal/history"
	"github.com/mattjoyce/celergeo/internal/model"
)

// TraceRequest is the JSON body for POST /trace. Omitted fields reuse the
// previous image or the engine defaults.
type TraceRequest struct {
	Image    *model.ImageInput     `json:"image,omitempty"`
	Geometry *model.GeometryEngine `json:"geometry,omitempty"`
	Memspace *model.MemSpace       `json:"memspace,omitempty"`
}

func (r *TraceRequest) Validate() error {
	if r.Image != nil {
		if err := r.Image.Validate(); err != nil {
			return fmt.Errorf("image: %w", err)
		}
	}
	return nil
}

// TraceResponse is returned by POST /trace.
type TraceResponse struct {
	ID          string            `json:"id"`
	Output      model.TraceOutput `json:"output"`
	ImageDigest string            `json:"image_digest,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
	// Recorded is false when history is disabled or recording failed.
	Recorded bool `json:"recorded"`
}

// TraceListResponse is returned by GET /traces.
type TraceListResponse struct {
	Traces []*history.TraceRecord `json:"traces"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	// Remote carries the engine's exception payload, when there was one.
	Remote any `json:"remote,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	SessionID     string `json:"session_id"`
	GeometryFile  string `json:"geometry_file"`
	EngineExited  bool   `json:"engine_exited"`
}

var errBadBody = errors.New("invalid request body")
