package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/celergeo/internal/history"
	"github.com/mattjoyce/celergeo/internal/storage"
)

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		return runHistoryList(actionArgs)
	case "show":
		return runHistoryShow(actionArgs)
	case "image":
		return runHistoryImage(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return 1
	}
}

// openHistory opens the trace history database named by settings.
func openHistory(ctx context.Context, configPath string) (*history.Store, theme, func(), error) {
	settings, err := loadSettings(configPath)
	if err != nil {
		return nil, plainTheme, nil, fmt.Errorf("invalid settings: %w", err)
	}
	t := newTheme(settings.Color)
	db, err := storage.OpenSQLite(ctx, settings.Client.StatePath)
	if err != nil {
		return nil, t, nil, fmt.Errorf("open trace history: %w", err)
	}
	return history.NewStore(db), t, func() { _ = db.Close() }, nil
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("history list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to settings file")
	limit := fs.Int("limit", history.DefaultListLimit, "Maximum number of traces")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, t, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		t.failure(os.Stderr, "%v", err)
		return 1
	}
	defer closeDB()

	traces, err := store.List(ctx, *limit)
	if err != nil {
		t.failure(os.Stderr, "%v", err)
		return 1
	}

	if *jsonOut {
		if traces == nil {
			traces = []*history.TraceRecord{}
		}
		return printJSON(t, traces)
	}
	if len(traces) == 0 {
		fmt.Println(t.Dim.Render("No traces recorded."))
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGEOMETRY\tDIMS\tDURATION\tCREATED")
	for _, rec := range traces {
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%s\n",
			rec.ID, rec.Geometry, rec.Width, rec.Height,
			rec.Duration.Round(time.Millisecond), rec.CreatedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
	return 0
}

func runHistoryShow(args []string) int {
	fs := flag.NewFlagSet("history show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to settings file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: celergeo history show <trace-id> [--json] [--config PATH]")
		return 1
	}

	ctx := context.Background()
	store, t, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		t.failure(os.Stderr, "%v", err)
		return 1
	}
	defer closeDB()

	rec, err := store.Get(ctx, positionals[0])
	if err != nil {
		t.failure(os.Stderr, "%v", err)
		return 1
	}
	if *jsonOut {
		return printJSON(t, rec)
	}

	fmt.Println(t.Title.Render("trace " + rec.ID))
	t.field(os.Stdout, "session", rec.SessionID)
	if sess, err := store.GetSession(ctx, rec.SessionID); err == nil {
		t.field(os.Stdout, "geometry file", sess.GeometryFile)
	}
	t.field(os.Stdout, "geometry", rec.Geometry)
	if rec.Memspace != "" {
		t.field(os.Stdout, "memspace", rec.Memspace)
	}
	t.field(os.Stdout, "dims", fmt.Sprintf("%d x %d", rec.Width, rec.Height))
	t.field(os.Stdout, "pixel width", fmt.Sprintf("%g %s", rec.PixelWidth, rec.Units.LengthUnit()))
	t.field(os.Stdout, "sizeof int", rec.SizeofInt)
	t.field(os.Stdout, "digest", rec.ImageDigest)
	t.field(os.Stdout, "duration", rec.Duration.Round(time.Millisecond))
	t.field(os.Stdout, "created", rec.CreatedAt.Local().Format(time.RFC3339))
	return 0
}

func runHistoryImage(args []string) int {
	fs := flag.NewFlagSet("history image", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to settings file")
	outPath := fs.String("out", "", "Destination file (required)")
	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 || *outPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: celergeo history image <trace-id> --out FILE [--config PATH]")
		return 1
	}

	ctx := context.Background()
	store, t, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		t.failure(os.Stderr, "%v", err)
		return 1
	}
	defer closeDB()

	data, rec, err := store.Image(ctx, positionals[0])
	if err != nil {
		if errors.Is(err, history.ErrDigestMismatch) {
			t.failure(os.Stderr, "%v (the history database may be corrupt)", err)
		} else {
			t.failure(os.Stderr, "%v", err)
		}
		return 1
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		t.failure(os.Stderr, "write image: %v", err)
		return 1
	}
	fmt.Printf("Wrote %d bytes (%dx%d, %d-byte pixels) to %s\n", len(data), rec.Width, rec.Height, rec.SizeofInt, *outPath)
	return 0
}

func printJSON(t theme, v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.failure(os.Stderr, "render JSON: %v", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func printHistoryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: celergeo history <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show, image")
}
