package config

import (
	"os"
	"path/filepath"
	"testing"

	"manga-studio/internal/domain"
)

// TestLoadReturnsDefaultsWhenMissing verifies first-launch behavior.
func TestLoadReturnsDefaultsWhenMissing(t *testing.T) {
	s := NewJSONStore(filepath.Join(t.TempDir(), "settings.json"))

	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("listen addr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DataDir == "" || cfg.RenderDir == "" {
		t.Fatalf("directories not defaulted: %+v", cfg)
	}
}

// TestSaveLoadRoundTrip verifies settings survive persistence.
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s := NewJSONStore(path)

	want := domain.Settings{
		ListenAddr:    ":9000",
		DataDir:       "/var/lib/manga-studio",
		RenderDir:     "/var/lib/manga-studio/renders",
		EditorBaseURL: "http://editor.local",
		BrowserPath:   "/usr/bin/chromium",
		FFmpegPath:    "/usr/bin/ffmpeg",
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

// TestLoadRejectsCorruptFile verifies malformed settings surface an error
// instead of silently resetting.
func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := NewJSONStore(path).Load(); err == nil {
		t.Fatal("load succeeded on corrupt file")
	}
}
