package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"manga-studio/internal/domain"
)

func TestApplyOverrides(t *testing.T) {
	settings := domain.Settings{
		ListenAddr:    ":8420",
		DataDir:       "/home/user/.manga-studio",
		RenderDir:     "/home/user/.manga-studio/renders",
		EditorBaseURL: "http://127.0.0.1:8420/",
	}

	got := applyOverrides(settings, Options{
		ListenAddr: ":9000",
		DataDir:    "/data",
	})

	if got.ListenAddr != ":9000" {
		t.Fatalf("listen addr = %q", got.ListenAddr)
	}
	if got.DataDir != "/data" || got.RenderDir != filepath.Join("/data", "renders") {
		t.Fatalf("dirs = %q / %q", got.DataDir, got.RenderDir)
	}
	if got.EditorBaseURL != "http://127.0.0.1:8420" {
		t.Fatalf("editor url = %q, want trailing slash trimmed", got.EditorBaseURL)
	}
}

func TestApplyOverridesKeepsPersistedValues(t *testing.T) {
	settings := domain.Settings{
		ListenAddr:    ":8420",
		DataDir:       "/persisted",
		EditorBaseURL: "http://editor.local",
	}

	got := applyOverrides(settings, Options{})

	if got.ListenAddr != ":8420" || got.DataDir != "/persisted" {
		t.Fatalf("settings overridden with empty options: %+v", got)
	}
	if got.RenderDir != filepath.Join("/persisted", "renders") {
		t.Fatalf("render dir = %q", got.RenderDir)
	}
}

func TestSweepRenderDirRemovesOnlyStaleDirs(t *testing.T) {
	renderDir := t.TempDir()

	stale := filepath.Join(renderDir, "job-old")
	fresh := filepath.Join(renderDir, "job-new")
	for _, dir := range []string{stale, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	keepFile := filepath.Join(renderDir, "notes.txt")
	if err := os.WriteFile(keepFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sweepRenderDir(renderDir, 24*time.Hour, zap.NewNop())

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale dir survived sweep: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh dir removed: %v", err)
	}
	if _, err := os.Stat(keepFile); err != nil {
		t.Fatalf("plain file removed: %v", err)
	}
}
