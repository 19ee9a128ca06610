package config

import "time"

// EnvPrefix is prepended to upper-cased setting keys to form the environment
// variable names read at load time and exported to the child process.
const EnvPrefix = "CELER_"

// LogLevel is the minimum verbosity used by the engine's loggers.
type LogLevel string

const (
	LogDebug    LogLevel = "debug"
	LogInfo     LogLevel = "info"
	LogWarning  LogLevel = "warning"
	LogError    LogLevel = "error"
	LogCritical LogLevel = "critical"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarning, LogError, LogCritical:
		return true
	}
	return false
}

// Settings is the process-wide configuration for the celer-geo front end.
//
// The top-level engine keys are exported to every launched child through
// Environ; the Client and API sections only affect this process.
type Settings struct {
	// Enable colorized terminal output
	Color bool `yaml:"color"`
	// Disable GPU execution even if available
	DisableDevice bool `yaml:"disable_device"`
	// Filename base to export converted Geant4 geometry
	G4OrgExport *string `yaml:"g4org_export,omitempty"`
	// Verbose Geant4-to-ORANGE conversion output
	G4OrgVerbose bool `yaml:"g4org_verbose"`
	// World log level
	Log LogLevel `yaml:"log"`
	// Self log level
	LogLocal LogLevel `yaml:"log_local"`
	// Path to the Celeritas build/install directory
	PrefixPath string `yaml:"prefix_path,omitempty"`
	// Enable NVTX/ROCTX/Perfetto profiling
	Profiling bool `yaml:"profiling"`

	Client ClientConfig `yaml:"client"`
	API    APIConfig    `yaml:"api,omitempty"`

	// SourcePath is the file the settings were loaded from, if any.
	SourcePath string `yaml:"-"`
}

// ClientConfig holds settings for this front end rather than the engine.
type ClientConfig struct {
	StatePath  string `yaml:"state_path"`
	ScratchDir string `yaml:"scratch_dir"`
	LogFormat  string `yaml:"log_format"`

	CloseTimeout time.Duration `yaml:"close_timeout"`
	// RequestTimeout bounds each request/response exchange. Zero waits forever.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// APIKey, when set, is required as a bearer token on mutating routes.
	APIKey string `yaml:"api_key,omitempty"`
}

// Defaults returns Settings matching the engine's own defaults.
func Defaults() *Settings {
	return &Settings{
		Color:    true,
		Log:      LogInfo,
		LogLocal: LogWarning,
		Client: ClientConfig{
			StatePath:    "./data/celergeo.db",
			ScratchDir:   "",
			LogFormat:    "json",
			CloseTimeout: 250 * time.Millisecond,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}
