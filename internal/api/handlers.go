package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/celergeo/internal/events"
	"github.com/mattjoyce/celergeo/internal/geo"
	"github.com/mattjoyce/celergeo/internal/history"
	"github.com/mattjoyce/celergeo/internal/process"
	"github.com/mattjoyce/celergeo/internal/protocol"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	exited := s.session.Exited()
	status := "ok"
	code := http.StatusOK
	if exited {
		status = "engine_exited"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, HealthzResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SessionID:     s.session.ID(),
		GeometryFile:  s.session.Setup().GeometryFile,
		EngineExited:  exited,
	})
}

// handleSetup handles GET /setup.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Setup())
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.engineContext(r.Context())
	defer cancel()

	s.engineMu.Lock()
	stats, err := s.session.OrangeStats(ctx)
	s.engineMu.Unlock()
	if err != nil {
		s.writeEngineError(w, "orange_stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleTrace handles POST /trace.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[TraceRequest](w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.engineContext(r.Context())
	defer cancel()

	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	result, err := s.session.Trace(ctx, geo.TraceRequest{
		Image:    req.Image,
		Geometry: req.Geometry,
		Memspace: req.Memspace,
	})
	if err != nil {
		status := s.writeEngineError(w, "trace", err)
		s.events.Publish(events.TraceFailed, map[string]any{
			"session_id": s.session.ID(),
			"status":     status,
			"error":      err.Error(),
		})
		return
	}

	resp := TraceResponse{
		ID:         result.ID,
		Output:     result.Output,
		DurationMS: result.Duration.Milliseconds(),
	}
	if s.history != nil {
		rec, err := s.history.Record(r.Context(), s.session.ID(), result)
		if err != nil {
			s.logger.Error("failed to record trace", "trace_id", result.ID, "error", err)
		} else {
			resp.Recorded = true
			resp.ImageDigest = rec.ImageDigest
			resp.ImageURL = fmt.Sprintf("/traces/%s/image", rec.ID)
		}
	}
	s.events.Publish(events.TraceCompleted, map[string]any{
		"id":           result.ID,
		"session_id":   s.session.ID(),
		"width":        result.Image.Width,
		"height":       result.Image.Height,
		"duration_ms":  resp.DurationMS,
		"image_digest": resp.ImageDigest,
	})
	respondJSON(w, http.StatusOK, resp)
}

// handleListTraces handles GET /traces?limit=N.
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "trace history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	traces, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list traces", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list traces")
		return
	}
	if traces == nil {
		traces = []*history.TraceRecord{}
	}
	respondJSON(w, http.StatusOK, TraceListResponse{Traces: traces})
}

// handleGetTrace handles GET /traces/{traceID}.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "trace history is disabled")
		return
	}

	rec, err := s.history.Get(r.Context(), chi.URLParam(r, "traceID"))
	if err != nil {
		s.writeHistoryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleTraceImage handles GET /traces/{traceID}/image. The body is the raw
// pixel buffer; dimensions travel in headers.
func (s *Server) handleTraceImage(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "trace history is disabled")
		return
	}

	data, rec, err := s.history.Image(r.Context(), chi.URLParam(r, "traceID"))
	if err != nil {
		s.writeHistoryError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("X-Image-Width", strconv.Itoa(rec.Width))
	h.Set("X-Image-Height", strconv.Itoa(rec.Height))
	h.Set("X-Image-Sizeof-Int", strconv.Itoa(rec.SizeofInt))
	h.Set("X-Image-Digest", rec.ImageDigest)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) engineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.config.RequestTimeout)
	}
	return ctx, func() {}
}

// writeEngineError maps session failures to HTTP status codes and returns
// the status written.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) int {
	var (
		remote   *protocol.RemoteError
		protoErr *process.ProtocolError
		decErr   *protocol.DecodingError
		encErr   *protocol.EncodingError
	)
	switch {
	case errors.Is(err, geo.ErrNoImage):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	case errors.As(err, &remote):
		s.logger.Warn("engine raised an exception", "op", op, "type", remote.Dump.Type)
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: remote.Error(), Remote: remote.Dump})
		return http.StatusUnprocessableEntity
	case errors.As(err, &encErr):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	case errors.As(err, &protoErr), errors.As(err, &decErr):
		s.logger.Error("engine protocol failure", "op", op, "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Error("engine request timed out", "op", op)
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
		return http.StatusGatewayTimeout
	case errors.Is(err, geo.ErrSessionClosed), errors.Is(err, process.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return http.StatusServiceUnavailable
	default:
		s.logger.Error("engine request failed", "op", op, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	}
}

func (s *Server) writeHistoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, history.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "trace not found")
	default:
		s.logger.Error("trace history lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read trace history")
	}
}

// decodeBody strictly decodes a JSON request body. An empty body decodes
// as the zero value.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var zero T
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return zero, fmt.Errorf("%w: %v", errBadBody, err)
	}
	if len(data) == 0 {
		return zero, nil
	}
	v, err := protocol.Decode[T](string(data))
	if err != nil {
		return zero, fmt.Errorf("%w: %v", errBadBody, err)
	}
	return v, nil
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
