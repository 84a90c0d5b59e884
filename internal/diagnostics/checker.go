package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"manga-studio/internal/domain"
)

// browserCandidates are executable names probed when no browser path is
// configured, in preference order.
var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

// Checker validates the external tools and directories the render pipeline
// depends on: a driveable browser, the remux tool, and a writable render
// directory.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all environment checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	browserItem := c.checkBrowser(settings.BrowserPath)
	remuxItem := c.checkRemuxTool(settings.FFmpegPath)
	renderItem := c.checkRenderDir(settings.RenderDir)

	items := []domain.DiagnosticItem{browserItem, remuxItem, renderItem}
	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt:      time.Now().UTC(),
		BrowserAvailable: browserItem.Status == domain.DiagnosticStatusPass,
		RemuxAvailable:   remuxItem.Status == domain.DiagnosticStatusPass,
		HasFailures:      hasFailures,
		Items:            items,
	}
}

// checkBrowser verifies a driveable browser binary is installed.
func (c *Checker) checkBrowser(browserPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "browser",
		Name: "Headless browser",
	}

	if configured := strings.TrimSpace(browserPath); configured != "" {
		if path, err := c.lookPath(configured); err == nil {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Found at %s", path)
			return item
		}
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Configured browser not found: %s", configured)
		item.Hint = "Fix browser_path in settings or clear it to use an installed Chrome/Chromium."
		return item
	}

	for _, name := range browserCandidates {
		if path, err := c.lookPath(name); err == nil {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Found %s at %s", name, path)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = "No Chrome or Chromium binary found in PATH."
	item.Hint = "Install Chrome or Chromium; rendering drives a headless browser."
	return item
}

// checkRemuxTool verifies ffmpeg is available. The pipeline still delivers
// recordings without it, so a failure here only disables metadata repair.
func (c *Checker) checkRemuxTool(ffmpegPath string) domain.DiagnosticItem {
	tool := strings.TrimSpace(ffmpegPath)
	if tool == "" {
		tool = "ffmpeg"
	}

	item := domain.DiagnosticItem{
		ID:   "remux_tool",
		Name: "Remux tool",
	}

	path, err := c.lookPath(tool)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", tool)
		item.Hint = "Install ffmpeg to repair container duration metadata on recordings."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkRenderDir validates render directory existence and write access.
func (c *Checker) checkRenderDir(renderDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "render_dir",
		Name: "Render directory",
	}

	if strings.TrimSpace(renderDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Render directory is empty."
		item.Hint = "Set a render directory where job artifacts can be written."
		return item
	}

	if err := c.mkdirAll(renderDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create render directory: %s", renderDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(renderDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Render directory is not writable: %s", renderDir)
		item.Hint = "Choose a writable directory for render artifacts."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", renderDir)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
