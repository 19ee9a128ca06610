// Package geo drives a celer-geo session: setup, ray traces with their
// side-channel images, ORANGE statistics, and shutdown.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/celergeo/internal/config"
	"github.com/mattjoyce/celergeo/internal/log"
	"github.com/mattjoyce/celergeo/internal/model"
	"github.com/mattjoyce/celergeo/internal/process"
	"github.com/mattjoyce/celergeo/internal/protocol"
	"github.com/mattjoyce/celergeo/internal/workspace"
)

// Executable is the engine binary under <prefix_path>/bin.
const Executable = "celer-geo"

// ErrNoImage is returned by the first Trace of a session when no image was given.
var ErrNoImage = errors.New("image specification must be supplied for the first trace")

// ErrSessionClosed is returned after Close.
var ErrSessionClosed = errors.New("geometry session is closed")

var pointerSuffix = regexp.MustCompile(`0x[0-9a-f]+`)

type options struct {
	executable string
	launch     []process.Option
	scratch    workspace.Manager
	logger     *slog.Logger
}

// Option configures a Session.
type Option func(*options)

// WithExecutable overrides the engine binary name.
func WithExecutable(name string) Option {
	return func(o *options) { o.executable = name }
}

// WithLaunchOptions passes options through to process.Launch.
func WithLaunchOptions(opts ...process.Option) Option {
	return func(o *options) { o.launch = append(o.launch, opts...) }
}

// WithWorkspace sets where side-channel image files are written.
func WithWorkspace(m workspace.Manager) Option {
	return func(o *options) { o.scratch = m }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Session owns one celer-geo child. Calls are serialized.
type Session struct {
	id       string
	settings *config.Settings
	handle   *process.Handle
	scratch  workspace.Manager
	logger   *slog.Logger
	setup    model.ModelSetup

	mu      sync.Mutex
	closed  bool
	image   *model.ImageInput
	volumes map[model.GeometryEngine][]string
}

// New launches celer-geo and sends setup. The engine echoes the setup with
// the values it actually applied, available from Setup.
func New(ctx context.Context, settings *config.Settings, setup model.ModelSetup, opts ...Option) (*Session, error) {
	o := options{executable: Executable}
	for _, opt := range opts {
		opt(&o)
	}

	if err := setup.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model setup: %w", err)
	}

	id := uuid.NewString()
	if o.logger == nil {
		o.logger = log.WithSession(id).With("component", "geo")
	}
	if o.scratch == nil {
		m, err := workspace.NewFSManager(settings.Client.ScratchDir)
		if err != nil {
			return nil, err
		}
		o.scratch = m
	}

	launch := append([]process.Option{process.WithLogger(o.logger)}, o.launch...)
	h, err := process.Launch(ctx, settings, o.executable, launch...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       id,
		settings: settings,
		handle:   h,
		scratch:  o.scratch,
		logger:   o.logger,
		volumes:  make(map[model.GeometryEngine][]string),
	}

	rctx, cancel := s.requestContext(ctx)
	defer cancel()
	echoed, err := process.CommunicateModel[model.ModelSetup](rctx, h, setup)
	if err != nil {
		if kerr := h.Kill(); kerr != nil && !errors.Is(kerr, process.ErrClosed) {
			s.logger.Warn("failed to stop engine after setup error", "error", kerr)
		}
		return nil, fmt.Errorf("model setup: %w", err)
	}
	s.setup = echoed
	s.logger.Info("geometry session started", "geometry_file", echoed.GeometryFile, "pid", h.PID())
	return s, nil
}

// FromFilename starts a session for a GDML file with default setup.
func FromFilename(ctx context.Context, settings *config.Settings, path string, opts ...Option) (*Session, error) {
	return New(ctx, settings, model.ModelSetup{GeometryFile: path}, opts...)
}

// ID returns the session identifier used in logs and trace history.
func (s *Session) ID() string { return s.id }

// Setup returns the setup echoed by the engine.
func (s *Session) Setup() model.ModelSetup { return s.setup }

// Exited reports whether the engine process has terminated.
func (s *Session) Exited() bool { return s.handle.Exited() }

// ExitCode returns the engine's exit code, or -1 while it is running or if
// it was killed by a signal.
func (s *Session) ExitCode() int { return s.handle.ExitCode() }

// Done is closed once the engine process has exited.
func (s *Session) Done() <-chan struct{} { return s.handle.Done() }

// Volumes returns the cached volume names for g, or nil if none are known.
func (s *Session) Volumes(g model.GeometryEngine) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.volumes[g]...)
}

// OrangeStats requests ORANGE data structure sizes.
func (s *Session) OrangeStats(ctx context.Context) (model.OrangeParamsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.OrangeParamsOutput{}, ErrSessionClosed
	}

	rctx, cancel := s.requestContext(ctx)
	defer cancel()
	return process.CommunicateModel[model.OrangeParamsOutput](rctx, s.handle, model.OrangeStats{})
}

// Close exits the engine's command loop and returns its final report,
// decoded from JSON when possible and as raw text otherwise.
func (s *Session) Close() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.closed = true

	out, err := s.handle.Close(s.settings.Client.CloseTimeout)
	if err != nil {
		return nil, err
	}
	s.logger.Info("geometry session closed", "exit_code", s.handle.ExitCode())

	trimmed := strings.TrimSpace(out)
	if v, err := protocol.Decode[any](trimmed); err == nil {
		return v, nil
	}
	return out, nil
}

// Kill terminates the engine without the shutdown handshake.
func (s *Session) Kill() error {
	err := s.handle.Kill()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if errors.Is(err, process.ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.settings.Client.RequestTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

// stripPointers removes 0x... address suffixes from Geant4 volume names.
func stripPointers(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pointerSuffix.ReplaceAllString(n, "")
	}
	return out
}

func removeQuietly(m workspace.Manager, id string, logger *slog.Logger) {
	if err := m.Remove(context.Background(), id); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove trace workspace", "trace_id", id, "error", err)
	}
}
