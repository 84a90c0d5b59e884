package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-studio/internal/browser"
	"manga-studio/internal/domain"
	"manga-studio/internal/jobs"
)

// Config carries the renderer's fixed environment.
type Config struct {
	// EditorBaseURL is where the project editor views are served.
	EditorBaseURL string
	// RenderDir holds one private directory per job for downloads and
	// final artifacts.
	RenderDir string
	// BrowserPath optionally pins the browser executable.
	BrowserPath string
}

// Renderer runs recording jobs: one background goroutine and one exclusive
// browser process per job. Submission returns immediately; outcomes are
// observed through the progress hub and the render registry.
type Renderer struct {
	launcher browser.Launcher
	hub      *jobs.Hub
	registry *jobs.Registry
	remuxer  *Remuxer
	cfg      Config
	log      *zap.Logger

	sleep    func(time.Duration)
	now      func() time.Time
	newJobID func() string
}

// NewRenderer constructs the production renderer.
func NewRenderer(
	launcher browser.Launcher,
	hub *jobs.Hub,
	registry *jobs.Registry,
	remuxer *Remuxer,
	cfg Config,
	log *zap.Logger,
) *Renderer {
	return &Renderer{
		launcher: launcher,
		hub:      hub,
		registry: registry,
		remuxer:  remuxer,
		cfg:      cfg,
		log:      log,
		sleep:    time.Sleep,
		now:      time.Now,
		newJobID: uuid.NewString,
	}
}

// Submit registers a new recording job and starts its worker goroutine.
func (r *Renderer) Submit(req domain.RenderRequest) string {
	jobID := r.newJobID()

	// Create the queue before the worker can publish so the first events
	// cannot be lost to a subscribe/publish race.
	r.hub.Subscribe(jobID)
	r.hub.Publish(jobID, domain.ProgressEvent{
		Stage:  domain.StageStarting,
		Detail: "Starting render job for project " + req.ProjectID,
	})

	go r.run(jobID, req)
	return jobID
}

// run executes one job end to end. Every failure, including panics, becomes
// a single terminal error event; nothing propagates to the submitter.
func (r *Renderer) run(jobID string, req domain.RenderRequest) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("render worker panic",
				zap.String("job_id", jobID), zap.Any("panic", rec))
			r.fail(jobID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	start := r.now()
	ctx := context.Background()

	jobDir := filepath.Join(r.cfg.RenderDir, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		r.fail(jobID, fmt.Sprintf("create render directory: %v", err))
		return
	}

	width := req.Width
	if width <= 0 {
		width = defaultWidth
	}
	height := req.Height
	if height <= 0 {
		height = defaultHeight
	}

	peer, err := r.launcher.Launch(ctx, browser.LaunchOptions{
		Width:       width,
		Height:      height,
		BrowserPath: r.cfg.BrowserPath,
		DownloadDir: jobDir,
	})
	if err != nil {
		r.fail(jobID, fmt.Sprintf("launch browser: %v", err))
		return
	}
	defer func() {
		_ = peer.Close()
	}()

	r.hub.Publish(jobID, domain.ProgressEvent{
		Stage:  domain.StageBrowserReady,
		Detail: "Browser started",
	})

	sess := &session{
		peer:  peer,
		req:   req,
		emit:  func(ev domain.ProgressEvent) { r.hub.Publish(jobID, ev) },
		sleep: r.sleep,
		log:   r.log,
	}

	artifact, err := r.record(ctx, sess)
	if err != nil {
		r.log.Error("render job failed", zap.String("job_id", jobID), zap.Error(err))
		r.fail(jobID, err.Error())
		return
	}

	artifact.ElapsedTime = r.now().Sub(start).Seconds()
	r.registry.Put(jobID, artifact)

	fixed := artifact.MetadataFixed
	r.hub.Publish(jobID, domain.ProgressEvent{
		Stage:         domain.StageComplete,
		Detail:        "Render complete",
		DownloadURL:   "/api/render/" + jobID + "/download",
		FileSize:      artifact.FileSize,
		MetadataFixed: &fixed,
		TotalDuration: f64ptr(artifact.Duration),
	})
	r.log.Info("render job complete",
		zap.String("job_id", jobID),
		zap.String("output", artifact.OutputPath),
		zap.Int64("file_size", artifact.FileSize),
		zap.Float64("elapsed", artifact.ElapsedTime))
}

// record drives the session protocol and produces the final artifact.
func (r *Renderer) record(ctx context.Context, sess *session) (domain.RenderArtifact, error) {
	url := fmt.Sprintf("%s/editor/%s",
		strings.TrimRight(r.cfg.EditorBaseURL, "/"), sess.req.ProjectID)

	if err := sess.loadEditor(ctx, url); err != nil {
		return domain.RenderArtifact{}, err
	}

	if sess.req.AutoTimeline {
		if err := sess.generateTimeline(ctx); err != nil {
			return domain.RenderArtifact{}, err
		}
	}

	duration := sess.resolveDuration(ctx)

	if _, err := sess.setupRecorder(ctx); err != nil {
		return domain.RenderArtifact{}, err
	}
	if err := sess.startPlayback(ctx); err != nil {
		return domain.RenderArtifact{}, err
	}

	sess.recordFor(duration + trailingBuffer)

	sess.emit(domain.ProgressEvent{
		Stage:  domain.StageProcessing,
		Detail: "Stopping recorder",
	})
	byteCount, err := sess.stopRecording(ctx)
	if err != nil {
		return domain.RenderArtifact{}, err
	}
	if byteCount == 0 {
		return domain.RenderArtifact{}, &StageError{
			Stage:   domain.StageProcessing,
			Message: ErrNoRecordedData.Error(),
			Err:     ErrNoRecordedData,
		}
	}

	rawPath, err := sess.extract(ctx)
	if err != nil {
		return domain.RenderArtifact{}, err
	}

	finalPath := rawPath
	fixed := false
	if r.remuxer.Available() {
		sess.emit(domain.ProgressEvent{
			Stage:  domain.StageFixingMetadata,
			Detail: "Remuxing container metadata",
		})
		finalPath, fixed, _ = r.remuxer.Fix(ctx, rawPath)
	} else {
		r.log.Warn("remux tool unavailable, delivering raw capture")
	}

	var fileSize int64
	if info, err := os.Stat(finalPath); err == nil {
		fileSize = info.Size()
	}

	return domain.RenderArtifact{
		OutputPath:    finalPath,
		FileSize:      fileSize,
		Duration:      duration,
		MetadataFixed: fixed,
	}, nil
}

// fail publishes the terminal error event for a job.
func (r *Renderer) fail(jobID, detail string) {
	r.hub.Publish(jobID, domain.ProgressEvent{
		Stage:  domain.StageError,
		Detail: detail,
	})
}
