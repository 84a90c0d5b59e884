package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"manga-studio/internal/bootstrap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the server CLI. Flags layer over persisted settings.
func newRootCommand() *cobra.Command {
	var opts bootstrap.Options

	cmd := &cobra.Command{
		Use:          "manga-studio",
		Short:        "Manga-to-video production service",
		Long:         "Stores manga projects and renders them to video by recording the browser-based editor.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(opts)
			if err != nil {
				return fmt.Errorf("bootstrap app: %w", err)
			}
			return app.Run()
		},
	}

	cmd.Flags().StringVar(&opts.SettingsPath, "settings", "", "path to the settings file")
	cmd.Flags().StringVar(&opts.ListenAddr, "addr", os.Getenv("MANGA_STUDIO_ADDR"), "listen address")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", os.Getenv("MANGA_STUDIO_DATA_DIR"), "data directory")
	cmd.Flags().StringVar(&opts.EditorBaseURL, "editor-url", os.Getenv("MANGA_STUDIO_EDITOR_URL"), "base URL serving project editor views")

	return cmd
}
