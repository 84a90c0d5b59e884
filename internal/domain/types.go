package domain

// Stage tracks each phase of a recording job from launch to terminal state.
type Stage string

const (
	StageStarting           Stage = "starting"
	StageBrowserReady       Stage = "browser_ready"
	StageLoadingPage        Stage = "loading_page"
	StageAssetsLoading      Stage = "assets_loading"
	StageGeneratingTimeline Stage = "generating_timeline"
	StageDurationDetected   Stage = "duration_detected"
	StageSetupRecording     Stage = "setup_recording"
	StageRecordingReady     Stage = "recording_ready"
	StageRecording          Stage = "recording"
	StageProcessing         Stage = "processing"
	StageDownloading        Stage = "downloading"
	StageFixingMetadata     Stage = "fixing_metadata"
	StageComplete           Stage = "complete"
	StageError              Stage = "error"
)

// IsTerminal reports whether a stage ends the job lifecycle.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageError
}

// ProgressEvent is one queued status update for a recording job.
type ProgressEvent struct {
	Stage         Stage    `json:"stage"`
	Detail        string   `json:"detail,omitempty"`
	Elapsed       *float64 `json:"elapsed,omitempty"`
	Remaining     *float64 `json:"remaining,omitempty"`
	TotalDuration *float64 `json:"total_duration,omitempty"`
	Progress      *float64 `json:"progress,omitempty"`
	DownloadURL   string   `json:"download_url,omitempty"`
	FileSize      int64    `json:"file_size,omitempty"`
	MetadataFixed *bool    `json:"metadata_fixed,omitempty"`
}

// RenderRequest contains caller-supplied parameters for one recording job.
type RenderRequest struct {
	ProjectID    string  `json:"project_id"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	FPS          int     `json:"fps"`
	VideoBitrate int     `json:"video_bitrate"`
	AudioBitrate int     `json:"audio_bitrate"`
	Duration     float64 `json:"duration,omitempty"`
	AutoTimeline bool    `json:"auto_timeline"`
}

// RenderArtifact is the measured outcome of a completed recording job.
type RenderArtifact struct {
	OutputPath    string  `json:"output_path"`
	FileSize      int64   `json:"file_size"`
	Duration      float64 `json:"duration"`
	ElapsedTime   float64 `json:"elapsed_time"`
	MetadataFixed bool    `json:"metadata_fixed"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ListenAddr    string `json:"listen_addr"`
	DataDir       string `json:"data_dir"`
	RenderDir     string `json:"render_dir"`
	EditorBaseURL string `json:"editor_base_url"`
	BrowserPath   string `json:"browser_path"`
	FFmpegPath    string `json:"ffmpeg_path"`
}
