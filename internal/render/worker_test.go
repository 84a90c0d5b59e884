package render

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"manga-studio/internal/browser"
	"manga-studio/internal/domain"
	"manga-studio/internal/jobs"
)

// fakePeer simulates the editor page contract without a browser process.
// Field defaults model a broken page; tests enable what they need.
type fakePeer struct {
	loaded bool
	navErr error

	clips             int
	clipsAfterGen     int
	genCalls          int
	saveCalls         int
	durations         map[string]float64
	durationsAfterGen map[string]float64

	absent   map[string]bool
	failures map[string]error

	setup        setupResult
	setupEvalErr error

	playing     bool
	toggleCalls int
	seekCalls   int

	chunkBytes   int64
	downloadPath string
	downloadErr  error

	closeCalls int
}

func (p *fakePeer) Navigate(ctx context.Context, url string) error {
	return p.navErr
}

func (p *fakePeer) WaitForTruthy(ctx context.Context, expr string) bool {
	return p.loaded
}

func (p *fakePeer) Eval(ctx context.Context, expr string, out any) error {
	switch expr {
	case browser.ExprClipCount:
		*out.(*int) = p.clips
	case browser.ExprIsPlaying:
		*out.(*bool) = p.playing
	case browser.ScriptStopRecorder:
		*out.(*bool) = true
	case browser.ExprChunkBytes:
		*out.(*int64) = p.chunkBytes
	case browser.ScriptTriggerDownload:
		*out.(*int64) = p.chunkBytes
	default:
		// Anything else is the capture-graph setup script.
		if p.setupEvalErr != nil {
			return p.setupEvalErr
		}
		if result, ok := out.(*setupResult); ok {
			*result = p.setup
		}
	}
	return nil
}

func (p *fakePeer) Call(ctx context.Context, name string, out any, args ...any) (browser.CallOutcome, error) {
	if p.absent[name] {
		return browser.CallAbsent, nil
	}
	if err := p.failures[name]; err != nil {
		return browser.CallFailed, err
	}

	switch name {
	case browser.FnGenerateTimeline:
		p.genCalls++
		p.clips = p.clipsAfterGen
		if p.durationsAfterGen != nil {
			p.durations = p.durationsAfterGen
		}
	case browser.FnSaveTimeline:
		p.saveCalls++
	case browser.FnTimelineDuration, browser.FnTotalDuration:
		duration, ok := p.durations[name]
		if !ok {
			return browser.CallAbsent, nil
		}
		if out != nil {
			*out.(*float64) = duration
		}
	case browser.FnTogglePlayback:
		p.toggleCalls++
		p.playing = !p.playing
	case browser.FnSeekTo:
		p.seekCalls++
	}
	return browser.CallOK, nil
}

func (p *fakePeer) AwaitDownload(ctx context.Context, timeout time.Duration) (string, error) {
	return p.downloadPath, p.downloadErr
}

func (p *fakePeer) Close() error {
	p.closeCalls++
	return nil
}

// fakeLauncher hands every job the same fake peer.
type fakeLauncher struct {
	peer     browser.Peer
	err      error
	lastOpts browser.LaunchOptions
}

func (l *fakeLauncher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Peer, error) {
	l.lastOpts = opts
	if l.err != nil {
		return nil, l.err
	}
	return l.peer, nil
}

// newRecordingPeer builds a peer modelling a healthy editor page whose
// recording lands as a real file on disk.
func newRecordingPeer(t *testing.T) *fakePeer {
	t.Helper()

	path := filepath.Join(t.TempDir(), "raw.webm")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 128), 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}

	return &fakePeer{
		loaded:       true,
		durations:    map[string]float64{browser.FnTimelineDuration: 3},
		setup:        setupResult{VideoTracks: 1, AudioTracks: 1, RecorderState: "recording"},
		chunkBytes:   128,
		downloadPath: path,
	}
}

type renderFixture struct {
	renderer *Renderer
	launcher *fakeLauncher
	hub      *jobs.Hub
	registry *jobs.Registry
	sleeps   []time.Duration
}

// unavailableRemuxer builds a remuxer whose tool lookup always fails.
func unavailableRemuxer() *Remuxer {
	return NewRemuxerForTests("", nil,
		func(string) (string, error) { return "", errors.New("not installed") },
		os.Stat, os.Remove, zap.NewNop())
}

// newRenderFixture wires a renderer around a fake peer with instant sleeps
// and a fixed job id.
func newRenderFixture(t *testing.T, peer browser.Peer, remuxer *Remuxer) *renderFixture {
	t.Helper()

	if remuxer == nil {
		remuxer = unavailableRemuxer()
	}

	f := &renderFixture{
		launcher: &fakeLauncher{peer: peer},
		hub:      jobs.NewHub(0),
		registry: jobs.NewRegistry(),
	}
	f.renderer = NewRenderer(f.launcher, f.hub, f.registry, remuxer, Config{
		EditorBaseURL: "http://editor.local",
		RenderDir:     t.TempDir(),
	}, zap.NewNop())
	f.renderer.sleep = func(d time.Duration) { f.sleeps = append(f.sleeps, d) }
	f.renderer.newJobID = func() string { return "job-1" }
	return f
}

// runJob executes one job synchronously and returns its published events.
func (f *renderFixture) runJob(req domain.RenderRequest) []domain.ProgressEvent {
	f.hub.Subscribe("job-1")
	f.renderer.run("job-1", req)
	return f.hub.Drain("job-1")
}

// stagesOf projects events onto their stage sequence.
func stagesOf(events []domain.ProgressEvent) []domain.Stage {
	stages := make([]domain.Stage, len(events))
	for i, event := range events {
		stages[i] = event.Stage
	}
	return stages
}

// lastEvent fails the test when no events were published.
func lastEvent(t *testing.T, events []domain.ProgressEvent) domain.ProgressEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events published")
	}
	return events[len(events)-1]
}

// errorDetail returns the terminal error event's detail.
func errorDetail(t *testing.T, events []domain.ProgressEvent) string {
	t.Helper()
	last := lastEvent(t, events)
	if last.Stage != domain.StageError {
		t.Fatalf("last stage = %s, want %s (events: %v)", last.Stage, domain.StageError, stagesOf(events))
	}
	return last.Detail
}

func TestRenderJobCompletes(t *testing.T) {
	peer := newRecordingPeer(t)
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	last := lastEvent(t, events)
	if last.Stage != domain.StageComplete {
		t.Fatalf("last stage = %s, want %s (events: %v)", last.Stage, domain.StageComplete, stagesOf(events))
	}
	if last.DownloadURL != "/api/render/job-1/download" {
		t.Fatalf("download url = %q", last.DownloadURL)
	}
	if last.FileSize != 128 {
		t.Fatalf("file size = %d, want 128", last.FileSize)
	}
	if last.MetadataFixed == nil || *last.MetadataFixed {
		t.Fatalf("metadata_fixed = %v, want false without a remux tool", last.MetadataFixed)
	}

	artifact, ok := f.registry.Claim("job-1")
	if !ok {
		t.Fatal("artifact not registered")
	}
	if artifact.OutputPath != peer.downloadPath {
		t.Fatalf("output path = %q, want %q", artifact.OutputPath, peer.downloadPath)
	}
	if artifact.Duration != 3 {
		t.Fatalf("duration = %v, want 3", artifact.Duration)
	}

	if peer.closeCalls != 1 {
		t.Fatalf("close calls = %d, want 1", peer.closeCalls)
	}
}

func TestRenderStageOrder(t *testing.T) {
	f := newRenderFixture(t, newRecordingPeer(t), nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})
	stages := stagesOf(events)

	want := []domain.Stage{
		domain.StageBrowserReady,
		domain.StageLoadingPage,
		domain.StageAssetsLoading,
		domain.StageDurationDetected,
		domain.StageSetupRecording,
		domain.StageRecordingReady,
	}
	for i, stage := range want {
		if stages[i] != stage {
			t.Fatalf("stage %d = %s, want %s (full: %v)", i, stages[i], stage, stages)
		}
	}

	// Detected duration 3 plus the 2s trailing buffer gives 5 whole-second
	// recording ticks.
	recording := 0
	for _, stage := range stages {
		if stage == domain.StageRecording {
			recording++
		}
	}
	if recording != 5 {
		t.Fatalf("recording ticks = %d, want 5 (full: %v)", recording, stages)
	}

	tail := stages[len(stages)-3:]
	if tail[0] != domain.StageProcessing || tail[1] != domain.StageDownloading || tail[2] != domain.StageComplete {
		t.Fatalf("tail stages = %v", tail)
	}
}

func TestRenderSubmitStreamsToHub(t *testing.T) {
	f := newRenderFixture(t, newRecordingPeer(t), nil)

	jobID := f.renderer.Submit(domain.RenderRequest{ProjectID: "p-1"})
	if jobID != "job-1" {
		t.Fatalf("job id = %q", jobID)
	}

	deadline := time.Now().Add(5 * time.Second)
	var events []domain.ProgressEvent
	for time.Now().Before(deadline) {
		events = append(events, f.hub.Drain(jobID)...)
		if len(events) > 0 && events[len(events)-1].Stage.IsTerminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(events) == 0 || events[0].Stage != domain.StageStarting {
		t.Fatalf("first event = %+v, want starting stage", events)
	}
	if last := events[len(events)-1]; last.Stage != domain.StageComplete {
		t.Fatalf("last stage = %s, want %s", last.Stage, domain.StageComplete)
	}
}

func TestRenderProceedsWhenReadySignalMissing(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.loaded = false
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	if last := lastEvent(t, events); last.Stage != domain.StageComplete {
		t.Fatalf("last stage = %s, want %s", last.Stage, domain.StageComplete)
	}

	graced := false
	for _, d := range f.sleeps {
		if d == readyGraceDelay {
			graced = true
		}
	}
	if !graced {
		t.Fatalf("grace delay not observed in sleeps: %v", f.sleeps)
	}
}

func TestRenderRecoversDurationViaGeneration(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.durations = nil
	peer.durationsAfterGen = map[string]float64{browser.FnTimelineDuration: 4}
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	if last := lastEvent(t, events); last.Stage != domain.StageComplete {
		t.Fatalf("last stage = %s, detail = %q", last.Stage, last.Detail)
	}
	if peer.genCalls != 1 {
		t.Fatalf("generation calls = %d, want exactly 1 recovery attempt", peer.genCalls)
	}

	for _, event := range events {
		if event.Stage == domain.StageDurationDetected {
			if event.TotalDuration == nil || *event.TotalDuration != 4 {
				t.Fatalf("detected duration = %v, want 4", event.TotalDuration)
			}
			return
		}
	}
	t.Fatal("duration_detected event not published")
}

func TestRenderFallsBackToMinimumDuration(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.durations = nil
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	if last := lastEvent(t, events); last.Stage != domain.StageComplete {
		t.Fatalf("last stage = %s, detail = %q", last.Stage, last.Detail)
	}

	artifact, ok := f.registry.Claim("job-1")
	if !ok {
		t.Fatal("artifact not registered")
	}
	if artifact.Duration != minimumDuration {
		t.Fatalf("duration = %v, want floor %v", artifact.Duration, minimumDuration)
	}
}

func TestRenderFailsOnZeroRecordedData(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.chunkBytes = 0
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	detail := errorDetail(t, events)
	if !strings.Contains(detail, ErrNoRecordedData.Error()) {
		t.Fatalf("error detail = %q, want mention of %q", detail, ErrNoRecordedData.Error())
	}
	if _, ok := f.registry.Claim("job-1"); ok {
		t.Fatal("artifact registered for a failed job")
	}
	if peer.closeCalls != 1 {
		t.Fatalf("close calls = %d, want 1", peer.closeCalls)
	}
}

func TestRenderTimelineGenerationRetriesOnceThenFails(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.clipsAfterGen = 0
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1", AutoTimeline: true})

	detail := errorDetail(t, events)
	if !strings.Contains(detail, "no renderable clips") {
		t.Fatalf("error detail = %q", detail)
	}
	if peer.genCalls != 2 {
		t.Fatalf("generation calls = %d, want 2 (one retry)", peer.genCalls)
	}
	if peer.saveCalls != 0 {
		t.Fatalf("save calls = %d, want 0 for an empty timeline", peer.saveCalls)
	}
}

func TestRenderTimelineGenerationSavesOnSuccess(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.clipsAfterGen = 3
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1", AutoTimeline: true})

	if last := lastEvent(t, events); last.Stage != domain.StageComplete {
		t.Fatalf("last stage = %s, detail = %q", last.Stage, last.Detail)
	}
	if peer.genCalls != 1 {
		t.Fatalf("generation calls = %d, want 1", peer.genCalls)
	}
	if peer.saveCalls != 1 {
		t.Fatalf("save calls = %d, want 1", peer.saveCalls)
	}

	seen := false
	for _, stage := range stagesOf(events) {
		if stage == domain.StageGeneratingTimeline {
			seen = true
		}
	}
	if !seen {
		t.Fatal("generating_timeline stage not published")
	}
}

func TestRenderGenerationFunctionAbsentIsFatal(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.absent = map[string]bool{browser.FnGenerateTimeline: true}
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1", AutoTimeline: true})

	if detail := errorDetail(t, events); !strings.Contains(detail, browser.FnGenerateTimeline) {
		t.Fatalf("error detail = %q, want mention of %s", detail, browser.FnGenerateTimeline)
	}
}

func TestRenderReportsOversizedDownload(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.downloadErr = browser.ErrDownloadTimeout
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	if detail := errorDetail(t, events); !strings.Contains(detail, "likely too large") {
		t.Fatalf("error detail = %q", detail)
	}
}

func TestRenderRemuxProducesFinalArtifact(t *testing.T) {
	peer := newRecordingPeer(t)

	runner := &fakeRunner{createOutput: true}
	remuxer := NewRemuxerForTests("", runner,
		func(string) (string, error) { return "/usr/bin/ffmpeg", nil },
		os.Stat, os.Remove, zap.NewNop())
	f := newRenderFixture(t, peer, remuxer)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	last := lastEvent(t, events)
	if last.Stage != domain.StageComplete {
		t.Fatalf("last stage = %s, detail = %q", last.Stage, last.Detail)
	}
	if last.MetadataFixed == nil || !*last.MetadataFixed {
		t.Fatalf("metadata_fixed = %v, want true", last.MetadataFixed)
	}

	fixing := false
	for _, stage := range stagesOf(events) {
		if stage == domain.StageFixingMetadata {
			fixing = true
		}
	}
	if !fixing {
		t.Fatal("fixing_metadata stage not published")
	}

	artifact, ok := f.registry.Claim("job-1")
	if !ok {
		t.Fatal("artifact not registered")
	}
	if !strings.HasSuffix(artifact.OutputPath, "-final.webm") {
		t.Fatalf("output path = %q, want remuxed file", artifact.OutputPath)
	}
	if _, err := os.Stat(peer.downloadPath); !os.IsNotExist(err) {
		t.Fatalf("raw capture still present after remux: %v", err)
	}
}

func TestRenderProgressCappedDuringRecording(t *testing.T) {
	peer := newRecordingPeer(t)
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1", Duration: 10})

	var progress []float64
	for _, event := range events {
		if event.Stage == domain.StageRecording && event.Progress != nil {
			progress = append(progress, *event.Progress)
		}
	}
	if len(progress) != 12 {
		t.Fatalf("recording ticks = %d, want 12 for a 10s timeline", len(progress))
	}
	for i, p := range progress {
		if p > progressCap {
			t.Fatalf("tick %d progress = %v, want <= %v", i, p, progressCap)
		}
		if i > 0 && p < progress[i-1] {
			t.Fatalf("progress regressed at tick %d: %v", i, progress)
		}
	}
	if progress[len(progress)-1] != progressCap {
		t.Fatalf("final tick progress = %v, want capped at %v", progress[len(progress)-1], progressCap)
	}
}

func TestRenderSleepsFractionalRemainder(t *testing.T) {
	peer := newRecordingPeer(t)
	f := newRenderFixture(t, peer, nil)

	// 2.5s timeline plus the 2s buffer records for 4.5s: four whole ticks
	// and one 500ms remainder.
	f.runJob(domain.RenderRequest{ProjectID: "p-1", Duration: 2.5})

	wholeTicks := 0
	fractional := false
	for _, d := range f.sleeps {
		if d == time.Second {
			wholeTicks++
		}
		if d == 500*time.Millisecond {
			fractional = true
		}
	}
	if wholeTicks != 4 {
		t.Fatalf("whole-second sleeps = %d, want 4 (sleeps: %v)", wholeTicks, f.sleeps)
	}
	if !fractional {
		t.Fatalf("fractional remainder sleep missing: %v", f.sleeps)
	}
}

func TestRenderLaunchFailure(t *testing.T) {
	f := newRenderFixture(t, nil, nil)
	f.launcher.err = errors.New("no usable sandbox")

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	if detail := errorDetail(t, events); !strings.Contains(detail, "launch browser") {
		t.Fatalf("error detail = %q", detail)
	}
}

func TestRenderLaunchUsesRequestedViewport(t *testing.T) {
	f := newRenderFixture(t, newRecordingPeer(t), nil)

	f.runJob(domain.RenderRequest{ProjectID: "p-1", Width: 1280, Height: 720})
	if f.launcher.lastOpts.Width != 1280 || f.launcher.lastOpts.Height != 720 {
		t.Fatalf("launch viewport = %dx%d", f.launcher.lastOpts.Width, f.launcher.lastOpts.Height)
	}

	f.runJob(domain.RenderRequest{ProjectID: "p-1"})
	if f.launcher.lastOpts.Width != defaultWidth || f.launcher.lastOpts.Height != defaultHeight {
		t.Fatalf("default viewport = %dx%d, want %dx%d",
			f.launcher.lastOpts.Width, f.launcher.lastOpts.Height, defaultWidth, defaultHeight)
	}
}

func TestRenderNavigateFailure(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.navErr = errors.New("net::ERR_CONNECTION_REFUSED")
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	if detail := errorDetail(t, events); !strings.Contains(detail, "editor page failed to load") {
		t.Fatalf("error detail = %q", detail)
	}
}

func TestRenderSetupFailure(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.setup = setupResult{Error: "editor canvas not found"}
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	detail := errorDetail(t, events)
	if !strings.Contains(detail, "capture setup failed") || !strings.Contains(detail, "editor canvas not found") {
		t.Fatalf("error detail = %q", detail)
	}
}

func TestRenderPlaybackToggleAbsentIsFatal(t *testing.T) {
	peer := newRecordingPeer(t)
	peer.absent = map[string]bool{browser.FnTogglePlayback: true}
	f := newRenderFixture(t, peer, nil)

	events := f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	if detail := errorDetail(t, events); !strings.Contains(detail, browser.FnTogglePlayback) {
		t.Fatalf("error detail = %q", detail)
	}
}

func TestRenderStopsPlaybackBeforeStoppingRecorder(t *testing.T) {
	peer := newRecordingPeer(t)
	f := newRenderFixture(t, peer, nil)

	f.runJob(domain.RenderRequest{ProjectID: "p-1"})

	// One toggle to start playback, one to stop it before the recorder stops.
	if peer.toggleCalls != 2 {
		t.Fatalf("toggle calls = %d, want 2", peer.toggleCalls)
	}
	if peer.playing {
		t.Fatal("playback still running after job")
	}
}
