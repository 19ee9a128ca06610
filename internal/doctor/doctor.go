// Package doctor validates celergeo settings and the Celeritas install.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/celergeo/internal/config"
	"github.com/mattjoyce/celergeo/internal/process"
	"github.com/mattjoyce/celergeo/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates settings against the local filesystem.
type Doctor struct {
	settings   *config.Settings
	executable string
	lookupEnv  func(string) (string, bool)
	inspectFS  func(string) (storage.Filesystem, error)
}

// New creates a Doctor that checks for the named engine executable.
func New(settings *config.Settings, executable string) *Doctor {
	return &Doctor{
		settings:   settings,
		executable: executable,
		lookupEnv:  os.LookupEnv,
		inspectFS:  storage.Inspect,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateInstall(r)
	d.validateLogLevels(r)
	d.validateClient(r)
	d.validateAPI(r)
	d.warnProfilingWithoutDevice(r)
	d.warnExportedGeometry(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateInstall checks the prefix path and the engine executable under it.
func (d *Doctor) validateInstall(r *Result) {
	if _, err := process.ResolveExecutable(d.settings, d.executable); err != nil {
		var cfgErr *process.ConfigurationError
		if errors.As(err, &cfgErr) {
			msg := cfgErr.Message
			if cfgErr.Path != "" {
				msg += ": " + cfgErr.Path
			}
			d.addError(r, "install", cfgErr.Setting, msg)
			return
		}
		d.addError(r, "install", "prefix_path", err.Error())
	}
}

func (d *Doctor) validateLogLevels(r *Result) {
	levels := []struct {
		field string
		level config.LogLevel
	}{
		{"log", d.settings.Log},
		{"log_local", d.settings.LogLocal},
	}
	for _, l := range levels {
		switch l.level {
		case config.LogDebug, config.LogInfo, config.LogWarning, config.LogError, config.LogCritical:
		default:
			d.addError(r, "logging", l.field,
				fmt.Sprintf("unknown log level %q (expected debug, info, warning, error, or critical)", l.level))
		}
	}
}

// validateClient checks that the history database and scratch directory
// can be created where configured.
func (d *Doctor) validateClient(r *Result) {
	client := d.settings.Client
	if client.StatePath != "" && client.StatePath != ":memory:" {
		d.checkWritableDir(r, "client.state_path", filepath.Dir(client.StatePath))
		if fs, err := d.inspectFS(client.StatePath); err == nil && fs.Network {
			d.addError(r, "client", "client.state_path",
				fmt.Sprintf("history database is on a %s network mount; SQLite needs local disk", fs.Type))
		}
	}
	if client.ScratchDir != "" {
		d.checkWritableDir(r, "client.scratch_dir", client.ScratchDir)
		if fs, err := d.inspectFS(client.ScratchDir); err == nil && fs.Network {
			d.addWarning(r, "client", "client.scratch_dir",
				fmt.Sprintf("scratch directory is on a %s network mount; image transfer will be slow", fs.Type))
		}
	}
	if client.CloseTimeout <= 0 {
		d.addError(r, "client", "client.close_timeout", "close_timeout must be positive")
	}
	if client.RequestTimeout == 0 {
		d.addWarning(r, "client", "client.request_timeout",
			"no request timeout; a hung engine blocks its caller forever")
	}
}

// checkWritableDir accepts a missing directory when its nearest existing
// ancestor is a directory, since it is created on first use.
func (d *Doctor) checkWritableDir(r *Result, field, dir string) {
	for p := dir; ; p = filepath.Dir(p) {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				d.addError(r, "client", field, fmt.Sprintf("%s is not a directory", p))
			}
			return
		}
		if !os.IsNotExist(err) {
			d.addError(r, "client", field, fmt.Sprintf("cannot access %s: %v", p, err))
			return
		}
		if parent := filepath.Dir(p); parent == p {
			return
		}
	}
}

func (d *Doctor) validateAPI(r *Result) {
	if d.settings.API.Listen == "" {
		d.addWarning(r, "api", "api.listen", "api.listen is empty; 'celergeo serve' needs an address")
		return
	}
	host := d.settings.API.Listen
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	switch host {
	case "127.0.0.1", "localhost", "[::1]":
	default:
		if d.settings.API.APIKey == "" {
			d.addWarning(r, "api", "api.api_key",
				fmt.Sprintf("API listens on %s without an api_key", d.settings.API.Listen))
		}
	}
}

func (d *Doctor) warnProfilingWithoutDevice(r *Result) {
	if d.settings.Profiling && d.settings.DisableDevice {
		d.addWarning(r, "engine", "profiling",
			"profiling is enabled but disable_device is set; only host-side ranges will be recorded")
	}
}

// warnExportedGeometry flags a g4org_export base whose directory is missing.
func (d *Doctor) warnExportedGeometry(r *Result) {
	if d.settings.G4OrgExport == nil {
		return
	}
	base := *d.settings.G4OrgExport
	if base == "" {
		d.addWarning(r, "engine", "g4org_export", "g4org_export is set but empty")
		return
	}
	if _, err := os.Stat(filepath.Dir(base)); err != nil {
		d.addWarning(r, "engine", "g4org_export",
			fmt.Sprintf("export directory %s does not exist", filepath.Dir(base)))
	}
	if v, ok := d.lookupEnv(config.EnvName("g4org_export")); ok && v != base {
		d.addWarning(r, "env_vars", "g4org_export",
			fmt.Sprintf("%s=%q in the environment is overridden by settings", config.EnvName("g4org_export"), v))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
