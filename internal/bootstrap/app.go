// Package bootstrap wires configuration, storage, diagnostics, and the
// render pipeline into one runnable service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"manga-studio/internal/browser"
	"manga-studio/internal/config"
	"manga-studio/internal/diagnostics"
	"manga-studio/internal/domain"
	"manga-studio/internal/jobs"
	"manga-studio/internal/render"
	"manga-studio/internal/server"
	"manga-studio/internal/store"
)

// orphanMaxAge is how long an unclaimed per-job render directory may sit
// before the startup sweep removes it. Failed jobs leave their directories
// behind; the sweep is the retention policy.
const orphanMaxAge = 24 * time.Hour

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Options are CLI-level overrides applied on top of persisted settings.
type Options struct {
	SettingsPath  string
	ListenAddr    string
	DataDir       string
	EditorBaseURL string
}

// App owns the explicitly-constructed services: the settings store, the
// project store, the progress hub, the render registry, and the renderer.
type App struct {
	Settings domain.Settings
	Store    config.Store
	Projects store.Store
	Hub      *jobs.Hub
	Registry *jobs.Registry
	Renderer *render.Renderer
	Logger   *zap.Logger

	checker *diagnostics.Checker

	mu          sync.Mutex
	diagnostics domain.DiagnosticReport
}

// New builds the application with persisted settings, startup diagnostics,
// and an orphaned-render sweep.
func New(opts Options) (*App, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	settingsPath := opts.SettingsPath
	if settingsPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user home: %w", err)
		}
		settingsPath = filepath.Join(homeDir, ".manga-studio", "settings.json")
	}

	settingsStore := config.NewJSONStore(settingsPath)
	settings, err := settingsStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = applyOverrides(settings, opts)

	if err := os.MkdirAll(settings.RenderDir, 0o755); err != nil {
		return nil, fmt.Errorf("create render directory: %w", err)
	}
	sweepRenderDir(settings.RenderDir, orphanMaxAge, logger)

	projects, err := store.Open(filepath.Join(settings.DataDir, "projects.db"))
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)
	if report.HasFailures {
		logger.Warn("environment checks failed", zap.Any("report", report.Items))
	}

	hub := jobs.NewHub(0)
	registry := jobs.NewRegistry()
	remuxer := render.NewRemuxer(settings.FFmpegPath, logger)
	launcher := &browser.ChromeLauncher{Log: logger}

	renderer := render.NewRenderer(launcher, hub, registry, remuxer, render.Config{
		EditorBaseURL: settings.EditorBaseURL,
		RenderDir:     settings.RenderDir,
		BrowserPath:   settings.BrowserPath,
	}, logger)

	return &App{
		Settings:    settings,
		Store:       settingsStore,
		Projects:    projects,
		Hub:         hub,
		Registry:    registry,
		Renderer:    renderer,
		Logger:      logger,
		checker:     checker,
		diagnostics: report,
	}, nil
}

// Run serves HTTP until interrupted, then shuts down gracefully.
func (a *App) Run() error {
	e := server.New(server.Deps{
		Projects:    a.Projects,
		Hub:         a.Hub,
		Registry:    a.Registry,
		Renderer:    a.Renderer,
		Diagnostics: a.RefreshDiagnostics,
		Providers:   NarrationProviders,
		Log:         a.Logger,
	})

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening", zap.String("addr", a.Settings.ListenAddr))
		if err := e.Start(a.Settings.ListenAddr); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-shutdown:
		a.Logger.Info("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		a.Logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = e.Close()
	}

	if err := a.Projects.Close(); err != nil {
		a.Logger.Warn("close project store", zap.Error(err))
	}
	return nil
}

// RefreshDiagnostics reruns environment checks and caches the report.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	report := a.checker.Run(a.Settings)

	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()

	return report
}

// applyOverrides layers CLI options over persisted settings and fills in
// paths derived from the data directory.
func applyOverrides(settings domain.Settings, opts Options) domain.Settings {
	if opts.ListenAddr != "" {
		settings.ListenAddr = opts.ListenAddr
	}
	if opts.DataDir != "" {
		settings.DataDir = opts.DataDir
		settings.RenderDir = filepath.Join(opts.DataDir, "renders")
	}
	if opts.EditorBaseURL != "" {
		settings.EditorBaseURL = opts.EditorBaseURL
	}

	if settings.RenderDir == "" {
		settings.RenderDir = filepath.Join(settings.DataDir, "renders")
	}
	settings.EditorBaseURL = strings.TrimRight(settings.EditorBaseURL, "/")
	return settings
}

// sweepRenderDir removes per-job render directories older than maxAge.
// Best-effort: failures are logged and skipped.
func sweepRenderDir(renderDir string, maxAge time.Duration, log *zap.Logger) {
	entries, err := os.ReadDir(renderDir)
	if err != nil {
		log.Warn("render sweep skipped", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(renderDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn("remove orphaned render directory",
				zap.String("path", path), zap.Error(err))
			continue
		}
		log.Info("removed orphaned render directory", zap.String("path", path))
	}
}
