package render

import (
	"errors"
	"fmt"

	"manga-studio/internal/domain"
)

// ErrTimelineEmpty is returned when timeline generation yields no
// renderable clips after the single retry. Distinct from render mechanics
// failures so callers can tell "nothing to render" apart.
var ErrTimelineEmpty = errors.New("timeline generation produced no renderable clips")

// ErrNoRecordedData is returned when the recorder accumulated zero bytes.
var ErrNoRecordedData = errors.New("no recorded data")

// StageError carries the job stage at which a recording failed, with an
// optional external-command log from the remux step.
type StageError struct {
	Stage      domain.Stage
	Message    string
	CommandLog CommandLog
	Err        error
}

// Error formats stage failures for the terminal error event.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// stageErr builds a StageError without an underlying cause.
func stageErr(stage domain.Stage, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// stageWrap builds a StageError around an underlying cause.
func stageWrap(stage domain.Stage, err error, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}
