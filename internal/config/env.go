package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// envTrue is exported for enabled boolean flags; disabled flags export "".
const envTrue = "1"

// envNameOverrides maps setting keys whose child-facing variable does not
// follow the CELER_<KEY> convention.
var envNameOverrides = map[string]string{
	"profiling":     "CELER_ENABLE_PROFILING",
	"g4org_export":  "G4ORG_EXPORT",
	"g4org_verbose": "G4ORG_VERBOSE",
}

// EnvName returns the environment variable a setting key is exported as.
func EnvName(key string) string {
	if name, ok := envNameOverrides[key]; ok {
		return name
	}
	return EnvPrefix + strings.ToUpper(key)
}

// envBinding ties one engine setting to the string exported for it. The
// value func reports false for unset optional values, which are not exported.
type envBinding struct {
	key   string
	name  string
	value func(*Settings) (string, bool)
}

var envBindings = buildEnvBindings()

func buildEnvBindings() []envBinding {
	flag := func(get func(*Settings) bool) func(*Settings) (string, bool) {
		return func(s *Settings) (string, bool) {
			if get(s) {
				return envTrue, true
			}
			return "", true
		}
	}
	text := func(get func(*Settings) string) func(*Settings) (string, bool) {
		return func(s *Settings) (string, bool) {
			v := get(s)
			return v, v != ""
		}
	}

	bindings := []envBinding{
		{key: "color", value: flag(func(s *Settings) bool { return s.Color })},
		{key: "disable_device", value: flag(func(s *Settings) bool { return s.DisableDevice })},
		{key: "g4org_export", value: func(s *Settings) (string, bool) {
			if s.G4OrgExport == nil {
				return "", false
			}
			return *s.G4OrgExport, true
		}},
		{key: "g4org_verbose", value: flag(func(s *Settings) bool { return s.G4OrgVerbose })},
		{key: "log", value: text(func(s *Settings) string { return string(s.Log) })},
		{key: "log_local", value: text(func(s *Settings) string { return string(s.LogLocal) })},
		{key: "prefix_path", value: text(func(s *Settings) string { return s.PrefixPath })},
		{key: "profiling", value: flag(func(s *Settings) bool { return s.Profiling })},
	}
	for i := range bindings {
		bindings[i].name = EnvName(bindings[i].key)
	}
	return bindings
}

// Environ returns the environment overlay exported to launched children.
func (s *Settings) Environ() map[string]string {
	env := make(map[string]string, len(envBindings))
	for _, b := range envBindings {
		if v, ok := b.value(s); ok {
			env[b.name] = v
		}
	}
	return env
}

// MergeEnv overlays env onto base (KEY=VALUE entries), replacing existing keys
// and appending new ones in sorted order.
func MergeEnv(base []string, overlay map[string]string) []string {
	out := make([]string, 0, len(base)+len(overlay))
	seen := make(map[string]bool, len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := overlay[key]; ok {
			if !seen[key] {
				out = append(out, key+"="+v)
				seen[key] = true
			}
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}

// envSetters parse CELER_<KEY> variables into settings at load time.
var envSetters = map[string]func(*Settings, string) error{
	"color":          boolSetter(func(s *Settings) *bool { return &s.Color }),
	"disable_device": boolSetter(func(s *Settings) *bool { return &s.DisableDevice }),
	"g4org_export": func(s *Settings, v string) error {
		s.G4OrgExport = &v
		return nil
	},
	"g4org_verbose": boolSetter(func(s *Settings) *bool { return &s.G4OrgVerbose }),
	"log": func(s *Settings, v string) error {
		s.Log = LogLevel(strings.ToLower(v))
		return nil
	},
	"log_local": func(s *Settings, v string) error {
		s.LogLocal = LogLevel(strings.ToLower(v))
		return nil
	},
	"prefix_path": func(s *Settings, v string) error {
		s.PrefixPath = v
		return nil
	},
	"profiling":       boolSetter(func(s *Settings) *bool { return &s.Profiling }),
	"state_path":      func(s *Settings, v string) error { s.Client.StatePath = v; return nil },
	"scratch_dir":     func(s *Settings, v string) error { s.Client.ScratchDir = v; return nil },
	"log_format":      func(s *Settings, v string) error { s.Client.LogFormat = v; return nil },
	"close_timeout":   durationSetter(func(s *Settings) *time.Duration { return &s.Client.CloseTimeout }),
	"request_timeout": durationSetter(func(s *Settings) *time.Duration { return &s.Client.RequestTimeout }),
	"api_listen":      func(s *Settings, v string) error { s.API.Listen = v; return nil },
	"api_key":         func(s *Settings, v string) error { s.API.APIKey = v; return nil },
}

// applyEnv reads CELER_<KEY> variables (case-insensitive) from environ.
func applyEnv(s *Settings, environ []string) error {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || len(name) <= len(EnvPrefix) || !strings.EqualFold(name[:len(EnvPrefix)], EnvPrefix) {
			continue
		}
		key := strings.ToLower(name[len(EnvPrefix):])
		set, ok := envSetters[key]
		if !ok {
			continue
		}
		if err := set(s, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func boolSetter(field func(*Settings) *bool) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*field(s) = b
		return nil
	}
}

func durationSetter(field func(*Settings) *time.Duration) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			// Bare numbers are seconds.
			secs, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return fmt.Errorf("invalid duration %q", v)
			}
			d = time.Duration(secs * float64(time.Second))
		}
		*field(s) = d
		return nil
	}
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "", "0", "f", "false", "n", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// osEnviron is swapped in tests.
var osEnviron = os.Environ
