package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"manga-studio/internal/domain"
	"manga-studio/internal/store"
)

// progressPollInterval is how often the streaming endpoint drains the
// job's progress queue.
const progressPollInterval = 500 * time.Millisecond

// submitRender validates the project and starts a recording job. The
// response carries only the job id; everything else is observed through the
// progress stream.
func (h *handlers) submitRender(c echo.Context) error {
	projectID := c.Param("id")
	if _, err := h.deps.Projects.GetProject(c.Request().Context(), projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return err
	}

	var req domain.RenderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.ProjectID = projectID

	jobID := h.deps.Renderer.Submit(req)
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
}

// streamProgress serves the job's progress queue as server-sent events. The
// stream ends when it observes an error event or a complete event carrying a
// download reference; each event is delivered at most once.
func (h *handlers) streamProgress(c echo.Context) error {
	jobID := c.Param("jobID")
	h.deps.Hub.Subscribe(jobID)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	for {
		for _, event := range h.deps.Hub.Drain(jobID) {
			data, err := json.Marshal(event)
			if err != nil {
				h.deps.Log.Error("encode progress event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
				return nil
			}
			resp.Flush()

			if event.Stage == domain.StageError ||
				(event.Stage == domain.StageComplete && event.DownloadURL != "") {
				h.deps.Hub.Forget(jobID)
				return nil
			}
		}

		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

// download streams the artifact once and deletes it. Unknown job ids and
// already-consumed artifacts are deliberately indistinguishable.
func (h *handlers) download(c echo.Context) error {
	jobID := c.Param("jobID")

	artifact, ok := h.deps.Registry.Claim(jobID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "render not found")
	}
	if _, err := os.Stat(artifact.OutputPath); err != nil {
		h.deps.Log.Warn("registered artifact missing on disk",
			zap.String("job_id", jobID), zap.String("path", artifact.OutputPath))
		return echo.NewHTTPError(http.StatusNotFound, "render not found")
	}

	// Single-use artifact: remove the job's render directory once the
	// response has been written.
	defer func() {
		if err := os.RemoveAll(filepath.Dir(artifact.OutputPath)); err != nil {
			h.deps.Log.Warn("cleanup render directory", zap.Error(err))
		}
	}()

	return c.Attachment(artifact.OutputPath, filepath.Base(artifact.OutputPath))
}
