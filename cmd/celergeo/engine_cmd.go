package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/celergeo/internal/api"
	"github.com/mattjoyce/celergeo/internal/config"
	"github.com/mattjoyce/celergeo/internal/events"
	"github.com/mattjoyce/celergeo/internal/geo"
	"github.com/mattjoyce/celergeo/internal/history"
	"github.com/mattjoyce/celergeo/internal/lock"
	"github.com/mattjoyce/celergeo/internal/log"
	"github.com/mattjoyce/celergeo/internal/model"
	"github.com/mattjoyce/celergeo/internal/process"
	"github.com/mattjoyce/celergeo/internal/protocol"
	"github.com/mattjoyce/celergeo/internal/storage"
	"github.com/mattjoyce/celergeo/internal/workspace"
)

// staleWorkspaceAge is how old an abandoned trace directory must be before
// serve removes it at startup.
const staleWorkspaceAge = 24 * time.Hour

// real3Flag parses "x,y,z".
type real3Flag struct {
	value model.Real3
	set   bool
}

func (f *real3Flag) String() string {
	if !f.set {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g", f.value[0], f.value[1], f.value[2])
}

func (f *real3Flag) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return fmt.Errorf("expected x,y,z, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
		f.value[i] = v
	}
	f.set = true
	return nil
}

// engineFlags are shared by every command that launches the engine.
type engineFlags struct {
	configPath string
	noHistory  bool
	timeout    time.Duration
	executable string
	engineLog  string
}

func (e *engineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&e.configPath, "config", "", "Path to settings file")
	fs.BoolVar(&e.noHistory, "no-history", false, "Do not record to the trace history database")
	fs.DurationVar(&e.timeout, "timeout", 0, "Per-request timeout (overrides client.request_timeout)")
	fs.StringVar(&e.executable, "executable", geo.Executable, "Engine binary under <prefix_path>/bin")
	fs.StringVar(&e.engineLog, "engine-log", "", "Append the engine's stderr to this file")
}

// openEngineLog opens path for appending the child's diagnostics.
func openEngineLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open engine log: %w", err)
	}
	return f, nil
}

// engineRun holds what one engine-driving command needs.
type engineRun struct {
	settings *config.Settings
	theme    theme
	logger   *slog.Logger
	store    *history.Store
	session  *geo.Session
	closeDB  func()
}

// startEngine opens history unless disabled and starts a geometry session
// for gdml.
func startEngine(ctx context.Context, settings *config.Settings, flags engineFlags, gdml string, opts ...geo.Option) (*engineRun, error) {
	if flags.timeout > 0 {
		settings.Client.RequestTimeout = flags.timeout
	}

	run := &engineRun{
		settings: settings,
		theme:    newTheme(settings.Color),
		logger:   log.WithComponent("cli"),
		closeDB:  func() {},
	}

	if !flags.noHistory {
		db, err := storage.OpenSQLite(ctx, settings.Client.StatePath)
		if err != nil {
			return nil, fmt.Errorf("open trace history: %w", err)
		}
		run.store = history.NewStore(db)
		run.closeDB = func() { _ = db.Close() }
	}

	if flags.executable != "" && flags.executable != geo.Executable {
		opts = append(opts, geo.WithExecutable(flags.executable))
	}
	if flags.engineLog != "" {
		f, err := openEngineLog(flags.engineLog)
		if err != nil {
			run.closeDB()
			return nil, err
		}
		closeDB := run.closeDB
		run.closeDB = func() {
			closeDB()
			_ = f.Close()
		}
		opts = append(opts, geo.WithLaunchOptions(process.WithStderr(f)))
	}

	gdml, err := filepath.Abs(gdml)
	if err != nil {
		run.closeDB()
		return nil, err
	}
	sess, err := geo.FromFilename(ctx, settings, gdml, opts...)
	if err != nil {
		run.closeDB()
		return nil, err
	}
	run.session = sess

	if run.store != nil {
		if err := run.store.StartSession(ctx, sess.ID(), sess.Setup()); err != nil {
			run.logger.Warn("failed to record session start", "session_id", sess.ID(), "error", err)
		}
	}
	return run, nil
}

// finish closes the session and records how it ended.
func (r *engineRun) finish() {
	defer r.closeDB()

	final, err := r.session.Close()
	if err != nil {
		r.logger.Error("engine shutdown failed", "session_id", r.session.ID(), "error", err)
		_ = r.session.Kill()
	}
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.EndSession(ctx, r.session.ID(), r.session.ExitCode(), final); err != nil {
			r.logger.Warn("failed to record session end", "session_id", r.session.ID(), "error", err)
		}
	}
}

func runTrace(args []string) int {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	var ef engineFlags
	ef.register(fs)
	var lowerLeft, upperRight, rightward real3Flag
	fs.Var(&lowerLeft, "lower-left", "Lower left corner x,y,z (default origin)")
	fs.Var(&upperRight, "upper-right", "Upper right corner x,y,z (required)")
	fs.Var(&rightward, "rightward", "Direction pointing right in the image (default 1,0,0)")
	verticalPixels := fs.Uint("vertical-pixels", model.DefaultVerticalPixels, "Image height in pixels")
	divisor := fs.Uint("horizontal-divisor", 0, "Round the image width up to a multiple of this")
	geometry := fs.String("geometry", "", "Geometry engine: geant4, vecgeom, orange")
	memspace := fs.String("memspace", "", "Memory space: host, device")
	outPath := fs.String("out", "", "Write the raw int32 image to this file")
	jsonOut := fs.Bool("json", false, "Output the trace metadata as JSON")

	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 || !upperRight.set {
		printTraceHelp()
		return 1
	}

	image := model.NewImageInput(upperRight.value)
	image.LowerLeft = lowerLeft.value
	if rightward.set {
		image.Rightward = rightward.value
	}
	image.VerticalPixels = *verticalPixels
	if *divisor > 0 {
		image.HorizontalDivisor = divisor
	}
	if err := image.Validate(); err != nil {
		plainTheme.failure(os.Stderr, "invalid image: %v", err)
		return 1
	}

	req := geo.TraceRequest{Image: &image}
	if *geometry != "" {
		g, err := model.ParseGeometryEngine(*geometry)
		if err != nil {
			plainTheme.failure(os.Stderr, "%v", err)
			return 1
		}
		req.Geometry = &g
	}
	if *memspace != "" {
		m, err := model.ParseMemSpace(*memspace)
		if err != nil {
			plainTheme.failure(os.Stderr, "%v", err)
			return 1
		}
		req.Memspace = &m
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings(ef.configPath)
	if err != nil {
		plainTheme.failure(os.Stderr, "invalid settings: %v", err)
		return 1
	}
	run, err := startEngine(ctx, settings, ef, positionals[0])
	if err != nil {
		newTheme(settings.Color).failure(os.Stderr, "%v", err)
		return 1
	}
	defer run.finish()
	t := run.theme

	result, err := run.session.Trace(ctx, req)
	if err != nil {
		printEngineError(t, err)
		return 1
	}

	var rec *history.TraceRecord
	if run.store != nil {
		if rec, err = run.store.Record(ctx, run.session.ID(), result); err != nil {
			run.logger.Warn("failed to record trace", "trace_id", result.ID, "error", err)
		}
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, result.Image.Data, 0o644); err != nil {
			t.failure(os.Stderr, "write image: %v", err)
			return 1
		}
	}

	if *jsonOut {
		resp := api.TraceResponse{
			ID:         result.ID,
			Output:     result.Output,
			DurationMS: result.Duration.Milliseconds(),
		}
		if rec != nil {
			resp.Recorded = true
			resp.ImageDigest = rec.ImageDigest
		}
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			t.failure(os.Stderr, "render trace: %v", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	out := result.Output
	fmt.Println(t.Title.Render("trace " + result.ID))
	if out.Trace.Geometry != nil {
		t.field(os.Stdout, "geometry", *out.Trace.Geometry)
	} else if req.Geometry != nil {
		t.field(os.Stdout, "geometry", *req.Geometry)
	}
	t.field(os.Stdout, "dims", fmt.Sprintf("%d x %d", out.Image.Width(), out.Image.Height()))
	t.field(os.Stdout, "pixel width", fmt.Sprintf("%g %s", out.Image.PixelWidth, geo.UnitLength(out.Image.Units)))
	t.field(os.Stdout, "volumes", len(out.Volumes))
	t.field(os.Stdout, "duration", result.Duration.Round(time.Millisecond))
	if rec != nil {
		t.field(os.Stdout, "digest", rec.ImageDigest)
	}
	if *outPath != "" {
		t.field(os.Stdout, "image", *outPath)
	}
	return 0
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	var ef engineFlags
	ef.register(fs)
	jsonOut := fs.Bool("json", false, "Output the full report as JSON")

	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		printStatsHelp()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings(ef.configPath)
	if err != nil {
		plainTheme.failure(os.Stderr, "invalid settings: %v", err)
		return 1
	}
	run, err := startEngine(ctx, settings, ef, positionals[0])
	if err != nil {
		newTheme(settings.Color).failure(os.Stderr, "%v", err)
		return 1
	}
	defer run.finish()
	t := run.theme

	stats, err := run.session.OrangeStats(ctx)
	if err != nil {
		printEngineError(t, err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			t.failure(os.Stderr, "render stats: %v", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	s := stats.Scalars
	fmt.Println(t.Title.Render("orange " + filepath.Base(run.session.Setup().GeometryFile)))
	t.field(os.Stdout, "max depth", s.MaxDepth)
	t.field(os.Stdout, "max faces", s.MaxFaces)
	t.field(os.Stdout, "max isect", s.MaxIntersections)
	t.field(os.Stdout, "max logic", s.MaxLogicDepth)
	t.field(os.Stdout, "tolerance", fmt.Sprintf("rel=%g abs=%g", s.Tol.Rel, s.Tol.Abs))
	t.field(os.Stdout, "volumes", stats.Sizes.VolumeRecords)
	t.field(os.Stdout, "surfaces", stats.Sizes.SurfaceTypes)
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var ef engineFlags
	ef.register(fs)
	listen := fs.String("listen", "", "Listen address (overrides api.listen)")

	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		printServeHelp()
		return 1
	}

	settings, err := loadSettings(ef.configPath)
	if err != nil {
		plainTheme.failure(os.Stderr, "invalid settings: %v", err)
		return 1
	}
	if *listen != "" {
		settings.API.Listen = *listen
	}
	logger := log.WithComponent("main")

	scratch, err := workspace.NewFSManager(settings.Client.ScratchDir)
	if err != nil {
		logger.Error("failed to initialize scratch directory", "error", err)
		return 1
	}

	pidLockPath := lock.PathFor(settings.Client.StatePath, scratch.BaseDir())
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if report, err := scratch.Cleanup(ctx, staleWorkspaceAge); err != nil {
		logger.Warn("scratch cleanup failed", "error", err)
	} else if report.DeletedDirs > 0 {
		logger.Info("removed stale trace workspaces", "count", report.DeletedDirs)
	}

	run, err := startEngine(ctx, settings, ef, positionals[0], geo.WithWorkspace(scratch))
	if err != nil {
		logger.Error("failed to start geometry session", "error", err)
		return 1
	}
	defer run.finish()

	var hist api.TraceHistory
	if run.store != nil {
		hist = run.store
	}
	server := api.New(api.Config{
		Listen:         settings.API.Listen,
		APIKey:         settings.API.APIKey,
		RequestTimeout: settings.Client.RequestTimeout,
	}, run.session, hist, log.WithComponent("api"))

	go func() {
		select {
		case <-run.session.Done():
			logger.Warn("geometry engine exited", "session_id", run.session.ID(), "exit_code", run.session.ExitCode())
			server.Events().Publish(events.EngineExited, map[string]any{
				"session_id": run.session.ID(),
				"exit_code":  run.session.ExitCode(),
			})
		case <-ctx.Done():
		}
	}()

	logger.Info("celergeo serving (press Ctrl+C to stop)", "session_id", run.session.ID(), "listen", settings.API.Listen)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api server failed", "error", err)
		return 1
	}
	logger.Info("celergeo stopped")
	return 0
}

// runRaw drives any JSON-lines child directly: each argument (or each stdin
// line when none are given) is sent as one request and the reply printed.
func runRaw(args []string) int {
	fs := flag.NewFlagSet("raw", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to settings file")
	timeout := fs.Duration("timeout", 0, "Per-request timeout (overrides client.request_timeout)")
	dir := fs.String("dir", "", "Working directory for the child")
	engineLog := fs.String("engine-log", "", "Append the child's stderr to this file")

	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) < 1 {
		printRawHelp()
		return 1
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		plainTheme.failure(os.Stderr, "invalid settings: %v", err)
		return 1
	}
	if *timeout > 0 {
		settings.Client.RequestTimeout = *timeout
	}
	t := newTheme(settings.Color)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []process.Option
	if *dir != "" {
		opts = append(opts, process.WithDir(*dir))
	}
	if *engineLog != "" {
		f, err := openEngineLog(*engineLog)
		if err != nil {
			t.failure(os.Stderr, "%v", err)
			return 1
		}
		defer f.Close()
		opts = append(opts, process.WithStderr(f))
	}

	h, err := process.Launch(ctx, settings, positionals[0], opts...)
	if err != nil {
		t.failure(os.Stderr, "%v", err)
		return 1
	}
	log.WithComponent("raw").Debug("child started", "path", h.Path(), "pid", h.PID())

	requests := positionals[1:]
	next := func() (string, bool) {
		if len(requests) == 0 {
			return "", false
		}
		r := requests[0]
		requests = requests[1:]
		return r, true
	}
	if len(requests) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		next = func() (string, bool) {
			for scanner.Scan() {
				if line := strings.TrimSpace(scanner.Text()); line != "" {
					return line, true
				}
			}
			return "", false
		}
	}

	code := 0
	for {
		req, ok := next()
		if !ok {
			break
		}
		if req == protocol.Terminate {
			break
		}
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if d := settings.Client.RequestTimeout; d > 0 {
			rctx, cancel = context.WithTimeout(ctx, d)
		}
		resp, err := process.CommunicateJSON(rctx, h, json.RawMessage(req))
		cancel()
		if err != nil {
			printEngineError(t, err)
			code = 1
			var remote *protocol.RemoteError
			if errors.As(err, &remote) {
				continue
			}
			break
		}
		data, err := json.Marshal(resp)
		if err != nil {
			t.failure(os.Stderr, "render reply: %v", err)
			code = 1
			break
		}
		fmt.Println(string(data))
	}

	final, err := h.Close(settings.Client.CloseTimeout)
	if err != nil && !errors.Is(err, process.ErrClosed) {
		t.failure(os.Stderr, "shutdown: %v", err)
		return 1
	}
	if final = strings.TrimSpace(final); final != "" {
		fmt.Fprintln(os.Stderr, t.Dim.Render(final))
	}
	return code
}

func printEngineError(t theme, err error) {
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		t.failure(os.Stderr, "engine raised %s", remote.Dump.Type)
		fmt.Fprintln(os.Stderr, remote.Dump.String())
		return
	}
	t.failure(os.Stderr, "%v", err)
}

func printTraceHelp() {
	fmt.Println("Usage: celergeo trace <gdml> --upper-right X,Y,Z [flags]")
	fmt.Println("Render a raytraced image and record it in the trace history.")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  --lower-left X,Y,Z        Lower left corner (default 0,0,0)")
	fmt.Println("  --rightward X,Y,Z         Image rightward direction (default 1,0,0)")
	fmt.Println("  --vertical-pixels N       Image height (default 512)")
	fmt.Println("  --horizontal-divisor N    Round width up to a multiple of N")
	fmt.Println("  --geometry NAME           geant4, vecgeom, or orange")
	fmt.Println("  --memspace NAME           host or device")
	fmt.Println("  --out FILE                Write the raw image")
	fmt.Println("  --json                    Print metadata as JSON")
	fmt.Println("  --no-history              Skip the history database")
	fmt.Println("  --timeout DURATION        Per-request timeout")
	fmt.Println("  --executable NAME         Engine binary (default celer-geo)")
	fmt.Println("  --engine-log FILE         Append engine stderr to FILE")
	fmt.Println("  --config PATH             Settings file")
}

func printStatsHelp() {
	fmt.Println("Usage: celergeo stats <gdml> [--json] [--config PATH] [--timeout DURATION]")
	fmt.Println("Print ORANGE data structure sizes for a geometry.")
	fmt.Println("Accepts the engine flags of 'celergeo trace'.")
}

func printServeHelp() {
	fmt.Println("Usage: celergeo serve <gdml> [--listen ADDR] [--config PATH] [--no-history]")
	fmt.Println("Keep one geometry session open and serve it over HTTP.")
	fmt.Println("Accepts the engine flags of 'celergeo trace'. GET /events streams trace")
	fmt.Println("and engine events.")
}

func printRawHelp() {
	fmt.Println("Usage: celergeo raw <executable> [JSON ...] [--config PATH] [--timeout DURATION]")
	fmt.Println("Launch <prefix>/bin/<executable> and exchange one JSON line per argument,")
	fmt.Println("or per stdin line when no arguments are given. Sending null ends the session.")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  --dir DIR                 Child working directory")
	fmt.Println("  --engine-log FILE         Append child stderr to FILE")
}
