package browser

import (
	"context"
	"errors"
	"time"
)

// ErrDownloadTimeout is returned when no download completes within the wait
// window. Oversized recordings are the usual cause.
var ErrDownloadTimeout = errors.New("download did not complete in time")

// CallOutcome classifies a probe of a function on the remote page.
type CallOutcome int

const (
	// CallAbsent means the page does not define the function.
	CallAbsent CallOutcome = iota
	// CallOK means the function ran and resolved.
	CallOK
	// CallFailed means the function ran and threw or rejected.
	CallFailed
)

// LaunchOptions configures one exclusive browser process for a job.
type LaunchOptions struct {
	Width       int
	Height      int
	BrowserPath string
	DownloadDir string
}

// Peer is the narrow contract a recording job holds against a live browser:
// navigate, evaluate script, wait for a condition, and capture a download.
// The production peer drives headless Chrome over CDP; tests substitute a
// fake that simulates each failure mode without a browser process.
type Peer interface {
	// Navigate loads the given URL. The context bounds the page load.
	Navigate(ctx context.Context, url string) error

	// WaitForTruthy polls expr until it evaluates truthy or ctx expires.
	WaitForTruthy(ctx context.Context, expr string) bool

	// Eval evaluates expr in the page, awaiting promises, and decodes the
	// result into out when out is non-nil.
	Eval(ctx context.Context, expr string, out any) error

	// Call probes a window-level function by name and invokes it when
	// present, awaiting its result. The outcome distinguishes
	// present-and-succeeded, present-and-failed, and absent.
	Call(ctx context.Context, name string, out any, args ...any) (CallOutcome, error)

	// AwaitDownload blocks until a download completes into the peer's
	// download directory and returns its path.
	AwaitDownload(ctx context.Context, timeout time.Duration) (string, error)

	// Close tears down the browser process. Safe to call more than once.
	Close() error
}

// Launcher creates one Peer per recording job.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Peer, error)
}
