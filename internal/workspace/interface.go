package workspace

import (
	"context"
	"path/filepath"
	"time"
)

// BinFileName is the side-channel file the engine writes raw pixels to.
const BinFileName = "image.bin"

// Workspace is a trace-scoped scratch directory. The engine writes the
// rendered image into it and the client reads it back after the reply.
type Workspace struct {
	TraceID string
	Dir     string
}

// BinFile returns the path handed to the engine as bin_file.
func (w Workspace) BinFile() string {
	return filepath.Join(w.Dir, BinFileName)
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs scratch directory lifecycle.
type Manager interface {
	// Create initializes a new workspace for traceID.
	Create(ctx context.Context, traceID string) (Workspace, error)

	// Open resolves an existing workspace for traceID.
	Open(ctx context.Context, traceID string) (Workspace, error)

	// Remove deletes the workspace for traceID and everything in it.
	Remove(ctx context.Context, traceID string) error

	// Cleanup removes stale workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
