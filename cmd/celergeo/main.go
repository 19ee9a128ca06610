package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/celergeo/internal/config"
	"github.com/mattjoyce/celergeo/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "config":
		return runConfigNoun(args)
	case "history":
		return runHistoryNoun(args)

	// --- ENGINE ---
	case "trace":
		if hasHelpFlag(args) {
			printTraceHelp()
			return 0
		}
		return runTrace(args)
	case "stats":
		if hasHelpFlag(args) {
			printStatsHelp()
			return 0
		}
		return runStats(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "raw":
		if hasHelpFlag(args) {
			printRawHelp()
			return 0
		}
		return runRaw(args)

	// --- SETTINGS ---
	case "settings":
		return runSettings(args)
	case "doctor":
		return runDoctor(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: celergeo version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("celergeo %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// loadSettings resolves the settings file (explicit, then discovered) and
// configures the process logger from it.
func loadSettings(configPath string) (*config.Settings, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.SetupWithWriter(settings.EngineLogLevel(), settings.Client.LogFormat, os.Stderr)
	return settings, nil
}

func printUsage() {
	fmt.Print(`celergeo - Control client for the celer-geo geometry engine

Usage:
  celergeo <command> [args] [flags]

Engine Commands:
  trace <gdml>      Render a raytraced image of a geometry
  stats <gdml>      Print ORANGE data structure sizes
  serve <gdml>      Serve a geometry session over HTTP
  raw <exe> <json>  Send JSON lines to any celeritas child and print replies

Settings:
  settings          Print the effective settings
  doctor            Check settings and the Celeritas install
  config check      Validate settings and their recorded checksum
  config lock       Record the settings file checksum

History:
  history list      Show recent traces
  history show <id> Show one trace record
  history image <id> Write a trace's raw image to a file

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Settings come from --config, $CELERGEO_CONFIG, ~/.config/celergeo/config.yaml,
or ./celergeo.yaml, then CELER_* environment variables.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitFlagsAndPositionals lets positionals appear before flags, which the
// flag package would otherwise treat as the end of flag parsing.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positionals = append(positionals, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}

	return flags, positionals
}

// valueFlags lists the flags of fs that take an argument, in both -x and --x
// spellings.
func valueFlags(fs *flag.FlagSet) map[string]bool {
	out := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			return
		}
		out["-"+f.Name] = true
		out["--"+f.Name] = true
	})
	return out
}

// parseInterspersed parses args into fs allowing flags after positionals.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	flags, positionals := splitFlagsAndPositionals(args, valueFlags(fs))
	if err := fs.Parse(flags); err != nil {
		return nil, err
	}
	return append(fs.Args(), positionals...), nil
}
