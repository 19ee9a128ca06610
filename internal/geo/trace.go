package geo

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/celergeo/internal/log"
	"github.com/mattjoyce/celergeo/internal/model"
	"github.com/mattjoyce/celergeo/internal/process"
)

// TraceRequest selects what to render. Nil fields use the engine default,
// except Image, which falls back to the previous trace's image.
type TraceRequest struct {
	Image    *model.ImageInput
	Geometry *model.GeometryEngine
	Memspace *model.MemSpace
}

// Image is the raw side-channel buffer of a trace.
type Image struct {
	Data      []byte
	Width     int
	Height    int
	SizeofInt int
}

// Pixels reinterprets the buffer as row-major volume IDs. A value of -1
// marks pixels where no volume was hit.
func (img Image) Pixels() ([]int32, error) {
	if img.SizeofInt != 4 {
		return nil, fmt.Errorf("unsupported pixel width %d bytes", img.SizeofInt)
	}
	if want := img.Width * img.Height * img.SizeofInt; len(img.Data) != want {
		return nil, fmt.Errorf("image holds %d bytes, want %d for %dx%d", len(img.Data), want, img.Width, img.Height)
	}
	out := make([]int32, img.Width*img.Height)
	for i := range out {
		out[i] = int32(binary.NativeEndian.Uint32(img.Data[i*4:]))
	}
	return out, nil
}

// TraceResult is one rendered image and its metadata.
type TraceResult struct {
	ID       string
	Output   model.TraceOutput
	Image    Image
	Duration time.Duration
}

// Trace renders an image. The volume list for each geometry engine is
// requested from the engine once and served from cache afterwards.
func (s *Session) Trace(ctx context.Context, req TraceRequest) (*TraceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	image := req.Image
	if image == nil {
		if s.image == nil {
			return nil, ErrNoImage
		}
		image = s.image
	}

	var cached []string
	if req.Geometry != nil {
		cached = s.volumes[*req.Geometry]
	}

	id := uuid.NewString()
	logger := log.WithTrace(id).With("session_id", s.id)
	ws, err := s.scratch.Create(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("creating trace workspace: %w", err)
	}
	defer removeQuietly(s.scratch, id, logger)

	inp := model.NewTraceInput(ws.BinFile(), image)
	inp.Geometry = req.Geometry
	inp.Memspace = req.Memspace
	inp.Volumes = len(cached) == 0

	start := time.Now()
	rctx, cancel := s.requestContext(ctx)
	defer cancel()
	out, err := process.CommunicateModel[model.TraceOutput](rctx, s.handle, inp)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ws.BinFile())
	if err != nil {
		return nil, fmt.Errorf("reading trace image: %w", err)
	}

	var geometry model.GeometryEngine
	switch {
	case req.Geometry != nil:
		geometry = *req.Geometry
	case out.Trace.Geometry != nil:
		geometry = *out.Trace.Geometry
		cached = s.volumes[geometry]
	default:
		return nil, fmt.Errorf("trace output does not name its geometry engine")
	}
	out.Trace.Geometry = &geometry
	if len(cached) == 0 {
		if len(out.Volumes) == 0 {
			return nil, fmt.Errorf("engine returned no volume names for %s", geometry)
		}
		cached = stripPointers(out.Volumes)
		s.volumes[geometry] = cached
	}
	out.Volumes = append([]string(nil), cached...)
	s.image = image

	result := &TraceResult{
		ID:     id,
		Output: out,
		Image: Image{
			Data:      data,
			Width:     out.Image.Width(),
			Height:    out.Image.Height(),
			SizeofInt: out.SizeofInt,
		},
		Duration: time.Since(start),
	}
	logger.Info("trace complete",
		"geometry", geometry,
		"width", result.Image.Width,
		"height", result.Image.Height,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// UnitLength returns the length unit symbol for u.
func UnitLength(u model.UnitSystem) string {
	return u.LengthUnit()
}
