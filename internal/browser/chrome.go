package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// readinessPollInterval is how often WaitForTruthy re-evaluates its
// expression while waiting for the page to signal readiness.
const readinessPollInterval = 500 * time.Millisecond

// ChromeLauncher launches one headless Chrome process per recording job.
type ChromeLauncher struct {
	Log *zap.Logger
}

// Launch starts a browser with capability flags that allow autoplay without
// a user gesture, auto-grant media-stream permissions, and relax
// cross-origin restrictions for local asset loading, then arms CDP download
// capture into the job's download directory.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Peer, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("allow-file-access-from-files", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.BrowserPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.BrowserPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	peer := &chromePeer{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		downloadDir:   opts.DownloadDir,
		downloads:     make(chan string, 4),
		log:           l.Log,
	}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		progress, ok := ev.(*cdpbrowser.EventDownloadProgress)
		if !ok || progress.State != cdpbrowser.DownloadProgressStateCompleted {
			return
		}
		select {
		case peer.downloads <- progress.GUID:
		default:
		}
	})

	err := chromedp.Run(browserCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(opts.DownloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		peer.release()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return peer, nil
}

// chromePeer is the production Peer implementation over chromedp.
type chromePeer struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	downloadDir   string
	downloads     chan string
	closeOnce     sync.Once
	log           *zap.Logger
}

// runCtx derives a browser-bound context that honors the caller's deadline.
func (p *chromePeer) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(p.ctx, deadline)
	}
	return context.WithCancel(p.ctx)
}

// Navigate loads the given URL in the browser tab.
func (p *chromePeer) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := p.runCtx(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitForTruthy polls expr until it is truthy or the context expires.
func (p *chromePeer) WaitForTruthy(ctx context.Context, expr string) bool {
	wrapped := "Boolean(" + expr + ")"
	for {
		var truthy bool
		if err := p.Eval(ctx, wrapped, &truthy); err == nil && truthy {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(readinessPollInterval):
		}
	}
}

// Eval evaluates expr in the page, awaiting promises, decoding into out.
func (p *chromePeer) Eval(ctx context.Context, expr string, out any) error {
	runCtx, cancel := p.runCtx(ctx)
	defer cancel()

	return chromedp.Run(runCtx, chromedp.Evaluate(expr, out, awaitPromise))
}

// awaitPromise makes Runtime.evaluate await promise results by value.
func awaitPromise(params *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
	return params.WithAwaitPromise(true)
}

// Call probes and invokes a window-level function, returning a tri-state
// outcome instead of relying on thrown "is not a function" errors.
func (p *chromePeer) Call(ctx context.Context, name string, out any, args ...any) (CallOutcome, error) {
	script, err := callProbeScript(name, args)
	if err != nil {
		return CallFailed, err
	}

	var probe struct {
		Outcome string          `json:"outcome"`
		Error   string          `json:"error"`
		Value   json.RawMessage `json:"value"`
	}
	if err := p.Eval(ctx, script, &probe); err != nil {
		return CallFailed, fmt.Errorf("call %s: %w", name, err)
	}

	switch probe.Outcome {
	case "absent":
		return CallAbsent, nil
	case "failed":
		return CallFailed, fmt.Errorf("%s: %s", name, probe.Error)
	}

	if out != nil && len(probe.Value) > 0 && string(probe.Value) != "null" {
		if err := json.Unmarshal(probe.Value, out); err != nil {
			return CallFailed, fmt.Errorf("decode %s result: %w", name, err)
		}
	}
	return CallOK, nil
}

// AwaitDownload blocks until CDP reports a completed download, then returns
// the on-disk path inside the job's download directory.
func (p *chromePeer) AwaitDownload(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case guid := <-p.downloads:
		return filepath.Join(p.downloadDir, guid), nil
	case <-timer.C:
		return "", ErrDownloadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.ctx.Done():
		return "", errors.New("browser closed while awaiting download")
	}
}

// Close tears the browser down. Idempotent: later calls are no-ops.
func (p *chromePeer) Close() error {
	p.release()
	return nil
}

// release cancels the browser and allocator contexts exactly once.
func (p *chromePeer) release() {
	p.closeOnce.Do(func() {
		p.cancelBrowser()
		p.cancelAlloc()
		if p.log != nil {
			p.log.Debug("browser released")
		}
	})
}
