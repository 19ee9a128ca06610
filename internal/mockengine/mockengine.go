// Package mockengine turns a test binary into a stand-in for celer-geo.
//
// A test package's TestMain calls Main when Requested reports true, before
// m.Run parses flags. Install links <prefix>/bin/<name> to the running test
// binary, so launching that name re-executes the binary in mock mode.
//
// Requests understood by the mock:
//
//	"hello"                  -> "success"
//	[...]                    -> ["success", [...]]
//	null                     -> "closing", then exit 0
//	"abort"                  -> exit 3 without replying
//	"crash"                  -> SIGKILL self without replying
//	"throw"                  -> chained exception payload
//	{"raw": s}               -> s written verbatim plus a newline
//	{"env": name}            -> [name, value-or-null]
//	{"args": true}           -> command line arguments
//	{"exit": n}              -> exit n without replying
//	{"sleep": seconds}       -> "slept" after the delay
//	{"geometry_file": ...}   -> setup echoed back
//	{"_cmd": "trace", ...}   -> trace output, pixels written to bin_file
//	{"_cmd": "orange_stats"} -> ORANGE sizes
//
// SIGINT and SIGTERM make the mock print "terminating" and exit with the
// signal number, unless the mode is ModeIgnoreSignals, in which case the
// signals are ignored and null is never answered. In ModeDeaf the mock never
// reads its input, and ModeTerseTrace drops trace.geometry from trace replies.
package mockengine

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/mattjoyce/celergeo/internal/config"
	"github.com/mattjoyce/celergeo/internal/model"
	"github.com/mattjoyce/celergeo/internal/protocol"
)

// EnvVar selects mock mode in a relaunched test binary.
const EnvVar = "CELERGEO_MOCK_ENGINE"

const (
	ModeEcho          = "echo"
	ModeIgnoreSignals = "ignore-signals"
	// ModeDeaf never reads stdin but still honors signals.
	ModeDeaf = "deaf"
	// ModeTerseTrace leaves trace.geometry out of trace replies.
	ModeTerseTrace = "terse-trace"
)

// raceExitSleep stops a race-enabled child from idling a second at exit,
// which would outlast short close timeouts.
const raceExitSleep = "atexit_sleep_ms=0"

// Requested reports whether this process was launched as the mock.
func Requested() bool { return os.Getenv(EnvVar) != "" }

// Main runs the mock over stdin/stdout and exits.
func Main() {
	os.Exit(Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv(EnvVar)))
}

// Env returns the variables that put a launched test binary in mode.
func Env(mode string) map[string]string {
	return map[string]string{EnvVar: mode, "GORACE": raceExitSleep}
}

// Install creates a prefix whose bin directory links each name to the
// running test binary and returns the prefix path.
func Install(tb testing.TB, names ...string) string {
	tb.Helper()
	exe, err := os.Executable()
	if err != nil {
		tb.Fatalf("locating test binary: %v", err)
	}
	prefix := tb.TempDir()
	bin := filepath.Join(prefix, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		tb.Fatalf("creating %s: %v", bin, err)
	}
	for _, name := range names {
		if err := os.Symlink(exe, filepath.Join(bin, name)); err != nil {
			tb.Fatalf("linking %s: %v", name, err)
		}
	}
	return prefix
}

// Settings returns default settings pointing at prefix.
func Settings(prefix string) *config.Settings {
	s := config.Defaults()
	s.PrefixPath = prefix
	return s
}

// Volume names reported per engine. Geant4-backed engines carry pointer
// suffixes the client is expected to strip.
var volumeNames = map[model.GeometryEngine][]string{
	model.Geant4:  {"world0x7f3a10", "inner0x7f3b20"},
	model.VecGeom: {"world0x7f3a10", "inner0x7f3b20"},
	model.Orange:  {"world", "inner"},
}

type engine struct {
	mode string

	mu  sync.Mutex
	out io.Writer
	log io.Writer

	image *model.ImageInput
}

// Run is the mock's main loop; it returns the process exit code.
func Run(args []string, in io.Reader, out, log io.Writer, mode string) int {
	e := &engine{mode: mode, out: out, log: log}
	if len(args) != 1 || args[0] != "-" {
		e.logf("expected a single %q argument, got %q", "-", args)
		return 2
	}

	if mode == ModeIgnoreSignals {
		signal.Ignore(syscall.SIGINT, syscall.SIGTERM)
	} else {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigs
			e.logf("caught signal %v", sig)
			e.dump("terminating")
			os.Exit(int(sig.(syscall.Signal)))
		}()
	}

	if mode == ModeDeaf {
		for {
			time.Sleep(time.Hour)
		}
	}

	r := bufio.NewReader(in)
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			e.logf("EOF during input read")
			return 0
		}
		if code, exit := e.handle(line); exit {
			return code
		}
	}
}

func (e *engine) handle(line string) (int, bool) {
	var req any
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		e.throw("celeritas::RuntimeError", "failed to parse input: "+err.Error(), nil)
		return 0, false
	}

	switch v := req.(type) {
	case nil:
		if e.mode == ModeIgnoreSignals {
			e.logf("ignoring termination request")
			for {
				time.Sleep(time.Hour)
			}
		}
		e.dump("closing")
		return 0, true
	case string:
		switch v {
		case "hello":
			e.dump("success")
		case "abort":
			e.logf("aborting")
			return 3, true
		case "crash":
			_ = syscall.Kill(os.Getpid(), syscall.SIGKILL)
			time.Sleep(time.Minute)
		case "throw":
			cause := exception("celeritas::DebugError", "volume count mismatch", nil)
			e.throw("celeritas::RuntimeError", "trace failed", &cause)
		default:
			e.throw("celeritas::RuntimeError", "unknown command "+v, nil)
		}
	case []any:
		e.dump([]any{"success", v})
	case map[string]any:
		return e.handleObject(line, v)
	default:
		e.throw("celeritas::RuntimeError", fmt.Sprintf("unexpected input %v", v), nil)
	}
	return 0, false
}

func (e *engine) handleObject(line string, obj map[string]any) (int, bool) {
	switch {
	case obj["_cmd"] == model.CmdTrace:
		e.trace(line)
	case obj["_cmd"] == model.CmdOrangeStats:
		e.dump(orangeStats())
	case obj["_cmd"] != nil:
		e.throw("celeritas::RuntimeError", fmt.Sprintf("invalid command %v", obj["_cmd"]), nil)
	case obj["geometry_file"] != nil:
		setup, err := protocol.Decode[model.ModelSetup](line)
		if err != nil {
			e.throw("celeritas::RuntimeError", err.Error(), nil)
			break
		}
		e.dump(setup)
	case obj["raw"] != nil:
		s, _ := obj["raw"].(string)
		e.write(s + "\n")
	case obj["env"] != nil:
		name, _ := obj["env"].(string)
		if val, ok := os.LookupEnv(name); ok {
			e.dump([]any{name, val})
		} else {
			e.dump([]any{name, nil})
		}
	case obj["args"] != nil:
		e.dump(os.Args[1:])
	case obj["exit"] != nil:
		code, _ := obj["exit"].(float64)
		return int(code), true
	case obj["sleep"] != nil:
		secs, _ := obj["sleep"].(float64)
		time.Sleep(time.Duration(secs * float64(time.Second)))
		e.dump("slept")
	default:
		e.throw("celeritas::RuntimeError", "unrecognized input", nil)
	}
	return 0, false
}

func (e *engine) trace(line string) {
	inp, err := protocol.Decode[model.TraceInput](line)
	if err != nil {
		e.throw("celeritas::RuntimeError", err.Error(), nil)
		return
	}
	if inp.Image != nil {
		e.image = inp.Image
	}
	if e.image == nil {
		e.throw("celeritas::RuntimeError", "no image has been specified", nil)
		return
	}

	geometry := model.Orange
	if inp.Geometry != nil {
		geometry = *inp.Geometry
	}
	memspace := model.Host
	if inp.Memspace != nil {
		memspace = *inp.Memspace
	}

	params := rasterize(e.image)
	width, height := params.Width(), params.Height()
	pixels := make([]int32, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			pixels[row*width+col] = int32((row + col) % 2)
		}
	}
	if err := writePixels(inp.BinFile, pixels); err != nil {
		e.throw("celeritas::RuntimeError", err.Error(), nil)
		return
	}

	out := model.TraceOutput{
		Trace: model.TraceSetup{
			Cmd:      model.CmdTrace,
			Geometry: &geometry,
			Memspace: &memspace,
			Volumes:  inp.Volumes,
			BinFile:  inp.BinFile,
		},
		Image:     params,
		SizeofInt: 4,
	}
	if inp.Volumes {
		out.Volumes = volumeNames[geometry]
	}
	if e.mode == ModeTerseTrace {
		out.Trace.Geometry = nil
	}
	e.dump(out)
}

// rasterize lays the window out along x (rightward) and y (downward from
// the upper edge).
func rasterize(in *model.ImageInput) model.ImageParams {
	dx := math.Abs(in.UpperRight[0] - in.LowerLeft[0])
	dy := math.Abs(in.UpperRight[1] - in.LowerLeft[1])
	height := int(in.VerticalPixels)
	if height == 0 {
		height = 1
	}
	pixelWidth := dy / float64(height)
	if pixelWidth == 0 {
		pixelWidth = 1
	}
	width := int(math.Ceil(dx / pixelWidth))
	if width == 0 {
		width = 1
	}
	if in.HorizontalDivisor != nil {
		if d := int(*in.HorizontalDivisor); width%d != 0 {
			width += d - width%d
		}
	}
	return model.ImageParams{
		Origin:     model.Real3{in.LowerLeft[0], in.UpperRight[1], in.LowerLeft[2]},
		Down:       model.Real3{0, -1, 0},
		Right:      in.Rightward,
		PixelWidth: pixelWidth,
		Dims:       model.Size2{width, height},
		Units:      model.CGS,
	}
}

func writePixels(path string, pixels []int32) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, pixels); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func orangeStats() model.OrangeParamsOutput {
	return model.OrangeParamsOutput{
		Category: "internal",
		Label:    "orange",
		Scalars: model.OrangeScalars{
			MaxDepth:         2,
			MaxFaces:         6,
			MaxIntersections: 12,
			MaxLogicDepth:    3,
			Tol:              model.Tolerance{Rel: 1e-8, Abs: 1e-5},
		},
		Sizes: model.OrangeSizes{
			Daughters:       1,
			Reals:           48,
			SimpleUnits:     2,
			SurfaceTypes:    12,
			Transforms:      2,
			UniverseIndices: 2,
			VolumeRecords:   4,
			BIH:             model.BihSizes{BBoxes: 4, InnerNodes: 1, LeafNodes: 2, LocalVolumeIDs: 4},
			UniverseIndexer: model.UniverseIndexerSizes{Surfaces: 12, Volumes: 4},
		},
	}
}

func exception(typ, what string, context *protocol.ExceptionDump) protocol.ExceptionDump {
	file := "celer-geo/celer-geo.cc"
	line := 42
	return protocol.ExceptionDump{
		Category: "result",
		Label:    "exception",
		Type:     typ,
		Context:  context,
		What:     &what,
		Which:    "runtime",
		File:     &file,
		Line:     &line,
	}
}

func (e *engine) throw(typ, what string, context *protocol.ExceptionDump) {
	e.dump(exception(typ, what, context))
}

func (e *engine) dump(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logf("encoding output: %v", err)
		return
	}
	e.write(string(data) + "\n")
}

func (e *engine) write(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := io.WriteString(e.out, s); err != nil {
		e.logf("writing output: %v", err)
	}
}

func (e *engine) logf(format string, args ...any) {
	fmt.Fprintf(e.log, "<child> "+format+"\n", args...)
}
