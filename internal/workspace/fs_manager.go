package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fsWorkspaceManager manages per-trace scratch directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at
// baseDir. An empty baseDir selects a celergeo directory under the system
// temporary directory.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		trimmed = filepath.Join(os.TempDir(), "celergeo")
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// Create initializes a workspace directory for traceID.
func (m *fsWorkspaceManager) Create(ctx context.Context, traceID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(traceID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(m.baseDir, 0o700); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}

	if err := os.Mkdir(path, 0o700); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for trace %q: %w", traceID, err)
	}

	return Workspace{TraceID: traceID, Dir: path}, nil
}

// Open returns metadata for an existing workspace directory.
func (m *fsWorkspaceManager) Open(ctx context.Context, traceID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(traceID)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for trace %q: %w", traceID, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for trace %q is not a directory", traceID)
	}

	return Workspace{TraceID: traceID, Dir: path}, nil
}

// Remove deletes the workspace for traceID. A missing workspace is not an
// error.
func (m *fsWorkspaceManager) Remove(ctx context.Context, traceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := m.workspacePath(traceID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for trace %q: %w", traceID, err)
	}
	return nil
}

// BaseDir returns the directory workspaces are created under.
func (m *fsWorkspaceManager) BaseDir() string { return m.baseDir }

// Cleanup removes workspace directories older than olderThan based on directory
// modification time.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsWorkspaceManager) workspacePath(traceID string) (string, error) {
	if err := validateTraceID(traceID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, traceID), nil
}

func validateTraceID(traceID string) error {
	trimmed := strings.TrimSpace(traceID)
	if trimmed == "" {
		return fmt.Errorf("trace ID is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("trace ID %q is invalid", traceID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("trace ID %q must not contain path separators", traceID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("trace ID %q is invalid", traceID)
	}
	return nil
}
