package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigEnvVar names an explicit settings file, checked first by Discover.
const ConfigEnvVar = "CELERGEO_CONFIG"

// Load builds Settings from defaults, an optional YAML file, and CELER_*
// environment variables, in increasing order of precedence.
// An empty configPath skips the file.
func Load(configPath string) (*Settings, error) {
	s := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}

		if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), s); err != nil {
			return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
		}
		s.SourcePath = absPath
		resolveRelativePaths(s, filepath.Dir(absPath))
	}

	if err := applyEnv(s, osEnviron()); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// Discover finds the settings file by checking standard locations.
// Priority order: $CELERGEO_CONFIG, ~/.config/celergeo/config.yaml, ./celergeo.yaml.
// It returns "" without error when none exists, since the file is optional.
func Discover() (string, error) {
	if path := os.Getenv(ConfigEnvVar); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("$%s points to missing file: %s", ConfigEnvVar, path)
		}
		return path, nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "celergeo", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("celergeo.yaml"); err == nil {
		return "celergeo.yaml", nil
	}

	return "", nil
}

// Validate checks field values. The prefix path is optional here; launching
// a child without one fails separately.
func (s *Settings) Validate() error {
	if !s.Log.valid() {
		return fmt.Errorf("log must be one of: debug, info, warning, error, critical (got %q)", s.Log)
	}
	if !s.LogLocal.valid() {
		return fmt.Errorf("log_local must be one of: debug, info, warning, error, critical (got %q)", s.LogLocal)
	}

	if s.PrefixPath != "" {
		if envVarPattern.MatchString(s.PrefixPath) {
			return fmt.Errorf("prefix_path: environment variable ${%s} is not set",
				envVarPattern.FindStringSubmatch(s.PrefixPath)[1])
		}
		info, err := os.Stat(s.PrefixPath)
		if err != nil {
			return fmt.Errorf("prefix_path does not exist: %s", s.PrefixPath)
		}
		if !info.IsDir() {
			return fmt.Errorf("prefix_path is not a directory: %s", s.PrefixPath)
		}
	}

	if s.Client.CloseTimeout <= 0 {
		return fmt.Errorf("client.close_timeout must be positive")
	}
	if s.Client.RequestTimeout < 0 {
		return fmt.Errorf("client.request_timeout must not be negative")
	}
	switch s.Client.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("client.log_format must be one of: json, text (got %q)", s.Client.LogFormat)
	}
	return nil
}

// EngineLogLevel maps the engine's log level names onto the client logger's.
func (s *Settings) EngineLogLevel() string {
	switch s.LogLocal {
	case LogWarning:
		return "WARN"
	case LogCritical:
		return "ERROR"
	}
	return strings.ToUpper(string(s.LogLocal))
}

func resolveRelativePaths(s *Settings, baseDir string) {
	for _, p := range []*string{&s.PrefixPath, &s.Client.StatePath, &s.Client.ScratchDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}
