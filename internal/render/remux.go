package render

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// remuxTimeout bounds one ffmpeg stream-copy invocation.
const remuxTimeout = 60 * time.Second

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Remuxer repairs container duration metadata on captured recordings.
// In-browser recorders do not write duration headers, so a stream-copy remux
// (no re-encoding) into a fresh container fixes seekability. Remux failure
// is never fatal: the raw capture is delivered with metadata_fixed=false.
type Remuxer struct {
	ffmpegPath string
	runner     commandRunner
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	remove     func(string) error
	log        *zap.Logger
}

// NewRemuxer constructs the production remuxer. An empty ffmpegPath means
// "whatever ffmpeg PATH resolves to".
func NewRemuxer(ffmpegPath string, log *zap.Logger) *Remuxer {
	return &Remuxer{
		ffmpegPath: ffmpegPath,
		runner:     &execRunner{},
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		remove:     os.Remove,
		log:        log,
	}
}

// toolName resolves the configured ffmpeg executable name.
func (m *Remuxer) toolName() string {
	if strings.TrimSpace(m.ffmpegPath) != "" {
		return m.ffmpegPath
	}
	return "ffmpeg"
}

// Available reports whether the remux tool can be invoked on this host.
func (m *Remuxer) Available() bool {
	_, err := m.lookPath(m.toolName())
	return err == nil
}

// Fix remuxes inputPath into a new container and returns the final output
// path plus whether metadata repair actually happened. On any failure the
// original file is kept as the final output.
func (m *Remuxer) Fix(ctx context.Context, inputPath string) (string, bool, CommandLog) {
	if !m.Available() {
		m.log.Warn("remux tool unavailable, delivering raw capture",
			zap.String("tool", m.toolName()))
		return inputPath, false, CommandLog{}
	}

	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "-final.webm"

	runCtx, cancel := context.WithTimeout(ctx, remuxTimeout)
	defer cancel()

	args := buildRemuxArgs(inputPath, outputPath)
	result, runErr := m.runner.Run(runCtx, m.toolName(), args...)
	log := CommandLog{
		Command:  m.toolName(),
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if runErr != nil {
		m.log.Warn("remux failed, delivering raw capture",
			zap.Int("exit_code", result.ExitCode),
			zap.Error(runErr))
		return inputPath, false, log
	}

	if _, err := m.stat(outputPath); err != nil {
		m.log.Warn("remux completed but output file is missing", zap.Error(err))
		return inputPath, false, log
	}

	_ = m.remove(inputPath)
	return outputPath, true, log
}

// buildRemuxArgs builds the ffmpeg stream-copy args: no re-encoding, only a
// fresh container with correct duration metadata.
func buildRemuxArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-c", "copy",
		outputPath,
	}
}

// NewRemuxerForTests constructs a remuxer with injectable dependencies.
func NewRemuxerForTests(
	ffmpegPath string,
	runner commandRunner,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	remove func(string) error,
	log *zap.Logger,
) *Remuxer {
	return &Remuxer{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		lookPath:   lookPath,
		stat:       stat,
		remove:     remove,
		log:        log,
	}
}
