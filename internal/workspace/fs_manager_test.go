package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFSWorkspaceManagerCreateAndOpen(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "scratch")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Create(context.Background(), "trace-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantPath := filepath.Join(baseDir, "trace-a")
	if ws.Dir != wantPath {
		t.Fatalf("Create() dir = %q, want %q", ws.Dir, wantPath)
	}
	if got, want := ws.BinFile(), filepath.Join(wantPath, BinFileName); got != want {
		t.Fatalf("BinFile() = %q, want %q", got, want)
	}

	info, err := os.Stat(ws.Dir)
	if err != nil {
		t.Fatalf("Stat(workspace) error = %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("workspace path is not a directory")
	}

	opened, err := mgr.Open(context.Background(), "trace-a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != ws {
		t.Fatalf("Open() workspace = %+v, want %+v", opened, ws)
	}

	if _, err := mgr.Create(context.Background(), "trace-a"); err == nil {
		t.Fatalf("Create() on existing workspace should fail")
	}
}

func TestFSWorkspaceManagerDefaultBaseDir(t *testing.T) {
	mgr, err := NewFSManager("  ")
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	if want := filepath.Join(os.TempDir(), "celergeo"); mgr.BaseDir() != want {
		t.Fatalf("BaseDir() = %q, want %q", mgr.BaseDir(), want)
	}
}

func TestFSWorkspaceManagerRemove(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Create(context.Background(), "trace-b")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := os.WriteFile(ws.BinFile(), []byte{0, 0, 0, 0}, 0o600); err != nil {
		t.Fatalf("WriteFile(bin) error = %v", err)
	}

	if err := mgr.Remove(context.Background(), "trace-b"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace should be removed, err = %v", err)
	}
	if err := mgr.Remove(context.Background(), "trace-b"); err != nil {
		t.Fatalf("Remove() of missing workspace error = %v", err)
	}
}

func TestFSWorkspaceManagerRejectsBadIDs(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	for _, id := range []string{"", " ", ".", "..", "a/b", `a\b`, "a/../b"} {
		if _, err := mgr.Create(context.Background(), id); err == nil {
			t.Errorf("Create(%q) should fail", id)
		}
		if err := mgr.Remove(context.Background(), id); err == nil {
			t.Errorf("Remove(%q) should fail", id)
		}
	}
}

func TestFSWorkspaceManagerCancelledContext(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mgr.Create(ctx, "trace-c"); err != context.Canceled {
		t.Fatalf("Create() error = %v, want context.Canceled", err)
	}
}

func TestFSWorkspaceManagerCleanup(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "scratch")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	oldWS, err := mgr.Create(context.Background(), "trace-old")
	if err != nil {
		t.Fatalf("Create(old) error = %v", err)
	}
	newWS, err := mgr.Create(context.Background(), "trace-new")
	if err != nil {
		t.Fatalf("Create(new) error = %v", err)
	}

	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldWS.Dir, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes(old workspace) error = %v", err)
	}

	report, err := mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Cleanup() deleted = %d, want 1", report.DeletedDirs)
	}

	if _, err := os.Stat(oldWS.Dir); !os.IsNotExist(err) {
		t.Fatalf("old workspace should be deleted, err = %v", err)
	}
	if _, err := os.Stat(newWS.Dir); err != nil {
		t.Fatalf("new workspace should still exist, err = %v", err)
	}

	if _, err := mgr.Cleanup(context.Background(), 0); err == nil {
		t.Fatalf("Cleanup(0) should fail")
	}
}
