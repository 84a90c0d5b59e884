package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"manga-studio/internal/browser"
	"manga-studio/internal/domain"
)

// Timing constants for the recording protocol. Durations are in seconds.
const (
	pageLoadTimeout = 30 * time.Second
	readyTimeout    = 30 * time.Second
	readyGraceDelay = 3 * time.Second
	callTimeout     = 30 * time.Second
	generateTimeout = 2 * time.Minute
	settleDelay     = 2 * time.Second
	downloadTimeout = 2 * time.Minute

	// trailingBuffer extends the recording window past the detected
	// duration to catch the tail-end audio/video flush.
	trailingBuffer = 2.0

	// minimumDuration is the floor used when every duration probe yields
	// zero, so nothing downstream divides by zero.
	minimumDuration = 2.0

	// progressCap keeps the in-progress bar from reaching completion
	// before post-processing begins.
	progressCap = 95.0
)

// Defaults applied to render requests that omit encoding parameters.
const (
	defaultWidth        = 1920
	defaultHeight       = 1080
	defaultFPS          = 30
	defaultVideoBitrate = 5_000_000
	defaultAudioBitrate = 128_000
)

// setupResult is the diagnostic payload the capture-graph setup resolves with.
type setupResult struct {
	Error         string `json:"error"`
	VideoTracks   int    `json:"video_tracks"`
	AudioTracks   int    `json:"audio_tracks"`
	RecorderState string `json:"recorder_state"`
}

// session drives one browser peer through the fixed recording protocol for
// one job: navigate, wait-ready, optional timeline generation, duration
// resolution, recorder setup, playback, timed capture, stop, and extraction.
type session struct {
	peer  browser.Peer
	req   domain.RenderRequest
	emit  func(domain.ProgressEvent)
	sleep func(time.Duration)
	log   *zap.Logger
}

// loadEditor navigates to the project's editor view and waits for its
// readiness signal. A missed signal is not fatal: the page may still be
// usable, so the session proceeds after a grace delay.
func (s *session) loadEditor(ctx context.Context, url string) error {
	s.emit(domain.ProgressEvent{
		Stage:  domain.StageLoadingPage,
		Detail: "Loading editor for project " + s.req.ProjectID,
	})

	navCtx, cancelNav := context.WithTimeout(ctx, pageLoadTimeout)
	defer cancelNav()
	if err := s.peer.Navigate(navCtx, url); err != nil {
		return stageWrap(domain.StageLoadingPage, err, "editor page failed to load")
	}

	s.emit(domain.ProgressEvent{
		Stage:  domain.StageAssetsLoading,
		Detail: "Waiting for editor assets",
	})

	waitCtx, cancelWait := context.WithTimeout(ctx, readyTimeout)
	defer cancelWait()
	if !s.peer.WaitForTruthy(waitCtx, browser.ExprEditorLoaded) {
		s.log.Warn("editor ready signal not observed, proceeding after grace delay",
			zap.String("project_id", s.req.ProjectID))
		s.sleep(readyGraceDelay)
	}

	return nil
}

// generateTimeline invokes the page's timeline generation, verifies the
// result contains at least one non-background clip, retries generation
// exactly once on an empty result, and saves the timeline on success.
func (s *session) generateTimeline(ctx context.Context) error {
	s.emit(domain.ProgressEvent{
		Stage:  domain.StageGeneratingTimeline,
		Detail: "Generating timeline from panels",
	})

	for attempt := 1; attempt <= 2; attempt++ {
		if err := s.invokeTimelineGeneration(ctx); err != nil {
			return err
		}

		count, err := s.clipCount(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			s.saveTimeline(ctx)
			return nil
		}

		s.log.Warn("generated timeline is empty", zap.Int("attempt", attempt))
	}

	return &StageError{
		Stage:   domain.StageGeneratingTimeline,
		Message: ErrTimelineEmpty.Error(),
		Err:     ErrTimelineEmpty,
	}
}

// invokeTimelineGeneration runs the page's generation entry point once.
func (s *session) invokeTimelineGeneration(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	outcome, err := s.peer.Call(callCtx, browser.FnGenerateTimeline, nil)
	switch outcome {
	case browser.CallAbsent:
		return stageErr(domain.StageGeneratingTimeline,
			"page does not expose %s", browser.FnGenerateTimeline)
	case browser.CallFailed:
		return stageWrap(domain.StageGeneratingTimeline, err, "timeline generation failed")
	}
	return nil
}

// clipCount counts the timeline's non-background clips.
func (s *session) clipCount(ctx context.Context) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var count int
	if err := s.peer.Eval(callCtx, browser.ExprClipCount, &count); err != nil {
		return 0, stageWrap(domain.StageGeneratingTimeline, err, "count timeline clips")
	}
	return count, nil
}

// saveTimeline triggers the page's save routine. Save problems are logged,
// not fatal: the in-memory timeline is what the recording captures.
func (s *session) saveTimeline(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if outcome, err := s.peer.Call(callCtx, browser.FnSaveTimeline, nil); outcome != browser.CallOK {
		s.log.Warn("timeline save skipped", zap.Error(err))
	}
}

// resolveDuration applies the duration policy in order: explicit caller
// override, page duration functions, a one-shot generation recovery when
// auto-generation was not already requested, then the minimal default.
// Duration never blocks the pipeline.
func (s *session) resolveDuration(ctx context.Context) float64 {
	duration := s.req.Duration
	if duration <= 0 {
		duration = s.measureDuration(ctx)
	}

	if duration <= 0 && !s.req.AutoTimeline {
		s.log.Warn("timeline duration unknown, attempting one-shot generation recovery")
		if err := s.invokeTimelineGeneration(ctx); err != nil {
			s.log.Warn("recovery generation failed", zap.Error(err))
		}
		duration = s.measureDuration(ctx)
	}

	if duration <= 0 {
		s.log.Warn("timeline duration still unknown, using minimal default",
			zap.Float64("default", minimumDuration))
		duration = minimumDuration
	}

	s.emit(domain.ProgressEvent{
		Stage:         domain.StageDurationDetected,
		Detail:        fmt.Sprintf("Timeline duration %.1fs", duration),
		TotalDuration: f64ptr(duration),
	})
	return duration
}

// measureDuration tries the page's duration functions in preference order.
func (s *session) measureDuration(ctx context.Context) float64 {
	for _, fn := range []string{browser.FnTimelineDuration, browser.FnTotalDuration} {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		var duration float64
		outcome, err := s.peer.Call(callCtx, fn, &duration)
		cancel()

		if outcome == browser.CallOK && duration > 0 {
			return duration
		}
		if outcome == browser.CallFailed {
			s.log.Warn("duration probe failed", zap.String("fn", fn), zap.Error(err))
		}
	}
	return 0
}

// setupRecorder builds the in-page capture graph and starts the recorder.
// Setup is all-or-nothing: any failure is fatal for the job. A silent
// recording (zero audio tracks) is tolerated and logged.
func (s *session) setupRecorder(ctx context.Context) (setupResult, error) {
	s.emit(domain.ProgressEvent{
		Stage:  domain.StageSetupRecording,
		Detail: "Arming in-page recorder",
	})

	fps := s.req.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	videoBitrate := s.req.VideoBitrate
	if videoBitrate <= 0 {
		videoBitrate = defaultVideoBitrate
	}
	audioBitrate := s.req.AudioBitrate
	if audioBitrate <= 0 {
		audioBitrate = defaultAudioBitrate
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var result setupResult
	if err := s.peer.Eval(callCtx, browser.SetupScript(fps, videoBitrate, audioBitrate), &result); err != nil {
		return result, stageWrap(domain.StageSetupRecording, err, "capture setup failed")
	}
	if result.Error != "" {
		return result, stageErr(domain.StageSetupRecording, "capture setup failed: %s", result.Error)
	}
	if result.AudioTracks == 0 {
		s.log.Warn("no audio tracks routed, recording will be silent")
	}

	s.emit(domain.ProgressEvent{
		Stage: domain.StageRecordingReady,
		Detail: fmt.Sprintf("Recorder %s (%d video, %d audio tracks)",
			result.RecorderState, result.VideoTracks, result.AudioTracks),
	})
	return result, nil
}

// startPlayback resets the playhead and starts timeline playback unless the
// playback flag says it is already running. A missing playback toggle is
// fatal; a missing seek function is tolerated.
func (s *session) startPlayback(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if outcome, err := s.peer.Call(callCtx, browser.FnSeekTo, nil, 0); outcome == browser.CallFailed {
		s.log.Warn("playhead reset failed", zap.Error(err))
	}

	var playing bool
	if err := s.peer.Eval(callCtx, browser.ExprIsPlaying, &playing); err != nil {
		s.log.Warn("playback state probe failed", zap.Error(err))
	}
	if playing {
		return nil
	}

	outcome, err := s.peer.Call(callCtx, browser.FnTogglePlayback, nil)
	switch outcome {
	case browser.CallAbsent:
		return stageErr(domain.StageRecording,
			"page does not expose %s", browser.FnTogglePlayback)
	case browser.CallFailed:
		return stageWrap(domain.StageRecording, err, "start playback")
	}
	return nil
}

// recordFor sleeps through the recording window in whole-second ticks,
// emitting one progress event per tick, then sleeps the fractional
// remainder. Progress is capped at progressCap during this stage.
func (s *session) recordFor(total float64) {
	whole := int(math.Floor(total))
	for i := 1; i <= whole; i++ {
		s.sleep(time.Second)
		elapsed := float64(i)
		s.emit(domain.ProgressEvent{
			Stage:         domain.StageRecording,
			Detail:        fmt.Sprintf("Recording %.0fs of %.1fs", elapsed, total),
			Elapsed:       f64ptr(elapsed),
			Remaining:     f64ptr(total - elapsed),
			TotalDuration: f64ptr(total),
			Progress:      f64ptr(math.Min(progressCap, elapsed/total*100)),
		})
	}

	if frac := total - float64(whole); frac > 0 {
		s.sleep(time.Duration(frac * float64(time.Second)))
	}
}

// stopRecording stops playback and the recorder, waits for the recorder's
// asynchronous final chunk, and returns the accumulated byte count.
func (s *session) stopRecording(ctx context.Context) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var playing bool
	if err := s.peer.Eval(callCtx, browser.ExprIsPlaying, &playing); err == nil && playing {
		if _, err := s.peer.Call(callCtx, browser.FnTogglePlayback, nil); err != nil {
			s.log.Warn("stop playback failed", zap.Error(err))
		}
	}

	var stopped bool
	if err := s.peer.Eval(callCtx, browser.ScriptStopRecorder, &stopped); err != nil {
		return 0, stageWrap(domain.StageProcessing, err, "stop recorder")
	}

	// The final chunk is delivered asynchronously after stop.
	s.sleep(settleDelay)

	readCtx, cancelRead := context.WithTimeout(ctx, callTimeout)
	defer cancelRead()
	var byteCount int64
	if err := s.peer.Eval(readCtx, browser.ExprChunkBytes, &byteCount); err != nil {
		return 0, stageWrap(domain.StageProcessing, err, "read recorded size")
	}
	return byteCount, nil
}

// extract pulls the recorded bytes out of the browser as a same-origin
// synthetic download and returns the on-disk path.
func (s *session) extract(ctx context.Context) (string, error) {
	s.emit(domain.ProgressEvent{
		Stage:  domain.StageDownloading,
		Detail: "Extracting recording from browser",
	})

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	var blobSize int64
	if err := s.peer.Eval(callCtx, browser.ScriptTriggerDownload, &blobSize); err != nil {
		return "", stageWrap(domain.StageDownloading, err, "trigger download")
	}

	path, err := s.peer.AwaitDownload(ctx, downloadTimeout)
	if err != nil {
		if errors.Is(err, browser.ErrDownloadTimeout) {
			return "", stageWrap(domain.StageDownloading, err,
				"video download timed out - video likely too large")
		}
		return "", stageWrap(domain.StageDownloading, err, "download failed")
	}
	return path, nil
}

// f64ptr returns a pointer for optional numeric progress fields.
func f64ptr(v float64) *float64 {
	return &v
}
