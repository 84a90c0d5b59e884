package config

import (
	"os"
	"path/filepath"

	"manga-studio/internal/domain"
)

// defaultListenAddr is used when no address is configured.
const defaultListenAddr = ":8420"

// DefaultSettings returns baseline local configuration for first launch.
// The editor base URL defaults to the service's own address since it serves
// the editor views the recorder drives.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	dataDir := filepath.Join(homeDir, ".manga-studio")
	return domain.Settings{
		ListenAddr:    defaultListenAddr,
		DataDir:       dataDir,
		RenderDir:     filepath.Join(dataDir, "renders"),
		EditorBaseURL: "http://127.0.0.1:8420",
	}
}
