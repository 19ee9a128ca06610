package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/celergeo/internal/config"
	"github.com/mattjoyce/celergeo/internal/log"
)

// DefaultCloseTimeout is the per-level wait used by Close when the caller
// has no better value.
const DefaultCloseTimeout = 250 * time.Millisecond

// StdinArg is the single argument every child receives, asking it to read
// requests from standard input.
const StdinArg = "-"

type options struct {
	baseEnv []string
	env     map[string]string
	stderr  io.Writer
	dir     string
	logger  *slog.Logger
}

// Option adjusts how a child is launched.
type Option func(*options)

// WithBaseEnv replaces the inherited environment the settings overlay is
// applied to. The default is os.Environ().
func WithBaseEnv(environ []string) Option {
	return func(o *options) { o.baseEnv = environ }
}

// WithEnv adds variables applied after the settings overlay.
func WithEnv(env map[string]string) Option {
	return func(o *options) {
		if o.env == nil {
			o.env = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.env[k] = v
		}
	}
}

// WithStderr redirects the child's stderr. The default inherits os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ResolveExecutable returns <prefix_path>/bin/<name> after checking that it
// exists and is executable.
func ResolveExecutable(settings *config.Settings, name string) (string, error) {
	if settings == nil || settings.PrefixPath == "" {
		return "", &ConfigurationError{
			Setting: "prefix_path",
			Message: "Celeritas install prefix is not set (set CELER_PREFIX_PATH or prefix_path)",
		}
	}
	if name == "" || strings.ContainsRune(name, os.PathSeparator) || name == "." || name == ".." {
		return "", &ConfigurationError{Setting: "executable", Message: fmt.Sprintf("invalid executable name %q", name)}
	}

	path := filepath.Join(settings.PrefixPath, "bin", name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &ConfigurationError{Setting: "prefix_path", Path: path, Message: "executable not found"}
		}
		return "", &ConfigurationError{Setting: "prefix_path", Path: path, Message: err.Error()}
	}
	if info.IsDir() {
		return "", &ConfigurationError{Setting: "prefix_path", Path: path, Message: "executable is a directory"}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", &ConfigurationError{Setting: "prefix_path", Path: path, Message: "file is not executable"}
	}
	return path, nil
}

// Launch starts <prefix_path>/bin/<executable> with the argument "-" and
// returns a handle connected to its stdin and stdout.
func Launch(ctx context.Context, settings *config.Settings, executable string, opts ...Option) (*Handle, error) {
	o := options{stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if o.baseEnv == nil {
		o.baseEnv = os.Environ()
	}
	if o.logger == nil {
		o.logger = log.WithComponent("process")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := ResolveExecutable(settings, executable)
	if err != nil {
		return nil, err
	}

	env := config.MergeEnv(o.baseEnv, settings.Environ())
	if len(o.env) > 0 {
		env = config.MergeEnv(env, o.env)
	}

	childStdin, stdin, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, childStdout, err := os.Pipe()
	if err != nil {
		_ = childStdin.Close()
		_ = stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	cmd := exec.Command(path, StdinArg)
	cmd.Stdin = childStdin
	cmd.Stdout = childStdout
	cmd.Stderr = o.stderr
	cmd.Env = env
	cmd.Dir = o.dir

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{childStdin, stdin, stdout, childStdout} {
			_ = f.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", path, err)
	}

	// The child holds its own copies; keeping ours would hide EOF.
	_ = childStdin.Close()
	_ = childStdout.Close()

	logger := o.logger.With("executable", executable, "pid", cmd.Process.Pid)
	logger.Debug("child started", "path", path)

	h := &Handle{
		executable: executable,
		path:       path,
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		reader:     bufio.NewReader(stdout),
		logger:     logger,
		done:       make(chan struct{}),
	}
	go h.reap()
	return h, nil
}
