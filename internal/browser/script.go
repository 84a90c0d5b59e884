package browser

import (
	"encoding/json"
	"fmt"
)

// Expressions evaluated against the editor page. The page contract is small:
// a loaded flag, a playback flag, a timeline object, and a handful of
// window-level functions probed via Peer.Call.
const (
	// ExprEditorLoaded is the readiness signal the editor sets once its
	// assets are in place.
	ExprEditorLoaded = "window.editorLoaded === true"

	// ExprIsPlaying reports whether timeline playback is running.
	ExprIsPlaying = "Boolean(window.isPlaying)"

	// ExprClipCount counts non-background timeline clips. Background beds
	// do not count as renderable content.
	ExprClipCount = "(window.timeline && window.timeline.clips ? window.timeline.clips.filter(c => c.type !== 'background').length : 0)"

	// ExprRecorderState reads the in-page recorder state, or 'missing'
	// before setup has run.
	ExprRecorderState = "(window.__captureRecorder ? window.__captureRecorder.state : 'missing')"

	// ExprChunkBytes totals the bytes accumulated by the recorder so far.
	ExprChunkBytes = "(window.__captureChunks || []).reduce((n, c) => n + c.size, 0)"
)

// Page functions probed via Peer.Call. Absence is reported as CallAbsent
// rather than detected through thrown exceptions.
const (
	FnGenerateTimeline = "generateAITimeline"
	FnSaveTimeline     = "saveTimeline"
	FnTimelineDuration = "getTimelineDuration"
	FnTotalDuration    = "computeTotalDuration"
	FnTogglePlayback   = "togglePlayback"
	FnSeekTo           = "seekTo"
)

// setupScriptTemplate builds the in-page capture graph as one all-or-nothing
// promise. It captures the editor canvas at a fixed frame rate, routes every
// <audio> element through a shared AudioContext into one mixed destination,
// combines the tracks into a single stream, and starts a MediaRecorder
// against it with a 100 ms timeslice so chunks accumulate incrementally
// instead of arriving only at stop. Failures resolve with an error string
// because the result crosses the CDP boundary.
const setupScriptTemplate = `(() => new Promise((resolve) => {
  try {
    const canvas = document.getElementById('editor-canvas');
    if (!canvas) {
      resolve({ error: 'editor canvas not found' });
      return;
    }
    const videoStream = canvas.captureStream(%d);

    if (!window.__captureAudioCtx) {
      window.__captureAudioCtx = new (window.AudioContext || window.webkitAudioContext)();
    }
    const audioCtx = window.__captureAudioCtx;
    if (!window.__captureMixDest) {
      window.__captureMixDest = audioCtx.createMediaStreamDestination();
    }
    const mixDest = window.__captureMixDest;
    window.__captureSources = window.__captureSources || new WeakMap();

    for (const el of Array.from(document.querySelectorAll('audio'))) {
      try {
        if (!window.__captureSources.has(el)) {
          const src = audioCtx.createMediaElementSource(el);
          window.__captureSources.set(el, src);
          src.connect(mixDest);
          src.connect(audioCtx.destination);
        }
      } catch (err) {
        console.warn('audio element not routed:', err);
      }
    }

    const combined = new MediaStream([
      ...videoStream.getVideoTracks(),
      ...mixDest.stream.getAudioTracks(),
    ]);
    if (combined.getVideoTracks().length === 0) {
      resolve({ error: 'combined stream has no video track' });
      return;
    }

    const recorder = new MediaRecorder(combined, {
      mimeType: 'video/webm;codecs=vp9,opus',
      videoBitsPerSecond: %d,
      audioBitsPerSecond: %d,
    });
    window.__captureChunks = [];
    recorder.ondataavailable = (e) => {
      if (e.data && e.data.size > 0) {
        window.__captureChunks.push(e.data);
      }
    };
    recorder.start(100);
    window.__captureRecorder = recorder;

    resolve({
      video_tracks: combined.getVideoTracks().length,
      audio_tracks: combined.getAudioTracks().length,
      recorder_state: recorder.state,
    });
  } catch (err) {
    resolve({ error: String((err && err.message) || err) });
  }
}))()`

// SetupScript renders the capture-graph setup for the given frame rate and
// target bitrates.
func SetupScript(fps, videoBitrate, audioBitrate int) string {
	return fmt.Sprintf(setupScriptTemplate, fps, videoBitrate, audioBitrate)
}

// ScriptStopRecorder stops the in-page recorder if it is not already
// inactive, reporting whether a stop was issued.
const ScriptStopRecorder = `(() => {
  const r = window.__captureRecorder;
  if (r && r.state !== 'inactive') {
    r.stop();
    return true;
  }
  return false;
})()`

// ScriptTriggerDownload combines the accumulated chunks into one blob and
// triggers a same-origin synthetic download of it. Moving the bytes out as a
// browser download sidesteps the payload and timeout ceilings of
// round-tripping binary data as text over CDP. Returns the blob size.
const ScriptTriggerDownload = `(() => {
  const chunks = window.__captureChunks || [];
  const blob = new Blob(chunks, { type: 'video/webm' });
  const url = URL.createObjectURL(blob);
  const a = document.createElement('a');
  a.href = url;
  a.download = 'recording.webm';
  document.body.appendChild(a);
  a.click();
  a.remove();
  return blob.size;
})()`

// callProbeTemplate wraps one window-level function invocation in a
// tri-state probe so missing functions surface as data, not exceptions.
const callProbeTemplate = `(async () => {
  const fn = window[%q];
  if (typeof fn !== 'function') {
    return { outcome: 'absent' };
  }
  try {
    const value = await fn(...%s);
    return { outcome: 'ok', value: value === undefined ? null : value };
  } catch (err) {
    return { outcome: 'failed', error: String((err && err.message) || err) };
  }
})()`

// callProbeScript renders the tri-state probe for a function and its args.
func callProbeScript(name string, args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode call args for %s: %w", name, err)
	}
	return fmt.Sprintf(callProbeTemplate, name, encoded), nil
}
