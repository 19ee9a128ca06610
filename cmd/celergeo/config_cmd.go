package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/celergeo/internal/config"
	"github.com/mattjoyce/celergeo/internal/doctor"
	"github.com/mattjoyce/celergeo/internal/geo"
)

func runSettings(args []string) int {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to settings file")
	showEnv := fs.Bool("env", false, "Print the environment exported to the engine instead")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: celergeo settings [--config PATH] [--env]")
		return 1
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		plainTheme.failure(os.Stderr, "invalid settings: %v", err)
		return 1
	}

	if *showEnv {
		env := settings.Environ()
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, env[k])
		}
		return 0
	}

	t := newTheme(settings.Color)
	if settings.SourcePath != "" {
		fmt.Println(t.Dim.Render("# loaded from " + settings.SourcePath))
	} else {
		fmt.Println(t.Dim.Render("# defaults and environment only"))
	}
	shown := *settings
	if shown.API.APIKey != "" {
		shown.API.APIKey = "********"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		t.failure(os.Stderr, "render settings: %v", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to settings file")
	executable := fs.String("executable", geo.Executable, "Engine executable under <prefix>/bin")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		plainTheme.failure(os.Stderr, "invalid settings: %v", err)
		return 1
	}

	result := doctor.New(settings, *executable).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		printValidationSummary(newTheme(settings.Color), result)
	}
	return validationExitCode(result)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// runConfigCheck validates settings, verifies the file checksum when one
// was recorded, and runs the doctor checks.
func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to settings file")
	strict := fs.Bool("strict", false, "Fail when no checksum has been recorded")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		plainTheme.failure(os.Stderr, "invalid settings: %v", err)
		return 1
	}
	t := newTheme(settings.Color)

	if settings.SourcePath == "" {
		fmt.Println(t.Dim.Render("No settings file; checking defaults and environment."))
	} else if err := config.VerifyFile(settings.SourcePath); err != nil {
		if _, lerr := config.LoadChecksums(filepath.Dir(settings.SourcePath)); os.IsNotExist(lerr) && !*strict {
			fmt.Println(t.Warn.Render("Integrity: no checksum recorded (run 'celergeo config lock')"))
		} else {
			t.failure(os.Stderr, "%v", err)
			return 1
		}
	} else {
		fmt.Println(t.OK.Render("Integrity: ✓ " + settings.SourcePath))
	}

	result := doctor.New(settings, geo.Executable).Validate()
	printValidationSummary(t, result)
	return validationExitCode(result)
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to settings file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			plainTheme.failure(os.Stderr, "%v", err)
			return 1
		}
		if discovered == "" {
			plainTheme.failure(os.Stderr, "no settings file found to lock (pass --config)")
			return 1
		}
		path = discovered
	}

	// Refuse to bless a file that does not load.
	if _, err := config.Load(path); err != nil {
		plainTheme.failure(os.Stderr, "invalid settings: %v", err)
		return 1
	}

	hash, err := config.LockFile(path)
	if err != nil {
		plainTheme.failure(os.Stderr, "%v", err)
		return 1
	}
	fmt.Printf("Locked %s\n", path)
	fmt.Printf("blake3: %s\n", hash)
	return 0
}

// validationExitCode returns 1 on errors and 2 on warnings only.
func validationExitCode(result *doctor.Result) int {
	switch {
	case !result.Valid:
		return 1
	case len(result.Warnings) > 0:
		return 2
	}
	return 0
}

func printValidationSummary(t theme, result *doctor.Result) {
	if result == nil {
		return
	}
	printIssues := func() {
		for _, issue := range result.Errors {
			label := t.Failed.Render("ERROR")
			if issue.Field != "" {
				fmt.Printf("  %s [%s] %s: %s\n", label, issue.Category, issue.Field, issue.Message)
			} else {
				fmt.Printf("  %s [%s] %s\n", label, issue.Category, issue.Message)
			}
		}
		for _, issue := range result.Warnings {
			label := t.Warn.Render("WARN ")
			if issue.Field != "" {
				fmt.Printf("  %s [%s] %s: %s\n", label, issue.Category, issue.Field, issue.Message)
			} else {
				fmt.Printf("  %s [%s] %s\n", label, issue.Category, issue.Message)
			}
		}
	}

	if !result.Valid {
		fmt.Printf("Validation: %s (%d error(s), %d warning(s))\n",
			t.Failed.Render("failed"), len(result.Errors), len(result.Warnings))
		printIssues()
		return
	}
	if len(result.Warnings) == 0 {
		fmt.Println("Validation: " + t.OK.Render("✓ All checks passed"))
		return
	}
	fmt.Printf("Validation: %s\n", t.OK.Render(fmt.Sprintf("✓ passed with %d warning(s)", len(result.Warnings))))
	printIssues()
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: celergeo config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: celergeo config check [--config PATH] [--strict]")
	fmt.Println("Validate settings, the recorded checksum, and the Celeritas install.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All checks passed")
	fmt.Println("  1  One or more errors")
	fmt.Println("  2  Warnings only")
}

func printConfigLockHelp() {
	fmt.Println("Usage: celergeo config lock [--config PATH]")
	fmt.Println("Record the BLAKE3 checksum of the settings file in .checksums.")
}
