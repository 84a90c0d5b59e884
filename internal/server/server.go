// Package server exposes the HTTP surface: project CRUD, render job
// submission, the progress stream, the single-use artifact download, and the
// availability probe.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"manga-studio/internal/domain"
	"manga-studio/internal/jobs"
	"manga-studio/internal/store"
)

// Submitter starts a recording job and returns its id immediately.
type Submitter interface {
	Submit(req domain.RenderRequest) string
}

// Deps are the explicitly-owned services the handlers operate on. They are
// constructed once at process start and injected; no package-level state.
type Deps struct {
	Projects    store.Store
	Hub         *jobs.Hub
	Registry    *jobs.Registry
	Renderer    Submitter
	Diagnostics func() domain.DiagnosticReport
	Providers   func() []domain.NarrationProviderOption
	Log         *zap.Logger
}

// New builds the echo instance with all routes registered.
func New(deps Deps) *echo.Echo {
	h := &handlers{deps: deps}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(deps.Log))

	api := e.Group("/api")

	api.POST("/projects", h.createProject)
	api.GET("/projects", h.listProjects)
	api.GET("/projects/:id", h.getProject)
	api.DELETE("/projects/:id", h.deleteProject)
	api.POST("/projects/:id/pages", h.addPage)
	api.PUT("/projects/:id/pages/:page/panels", h.setPanels)
	api.PUT("/projects/:id/pages/:page/panels/:panel/narration", h.saveNarration)

	api.POST("/projects/:id/render", h.submitRender)
	api.GET("/render/availability", h.availability)
	api.GET("/render/:jobID/progress", h.streamProgress)
	api.GET("/render/:jobID/download", h.download)

	api.GET("/narration/providers", h.narrationProviders)

	return e
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Info("request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("took", time.Since(start)))
			return err
		}
	}
}

type handlers struct {
	deps Deps
}

type createProjectRequest struct {
	Title  string `json:"title"`
	Series string `json:"series"`
}

func (h *handlers) createProject(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}

	project, err := h.deps.Projects.CreateProject(c.Request().Context(), req.Title, req.Series)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, project)
}

func (h *handlers) listProjects(c echo.Context) error {
	projects, err := h.deps.Projects.ListProjects(c.Request().Context())
	if err != nil {
		return err
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	return c.JSON(http.StatusOK, projects)
}

func (h *handlers) getProject(c echo.Context) error {
	project, err := h.deps.Projects.GetProject(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

func (h *handlers) deleteProject(c echo.Context) error {
	err := h.deps.Projects.DeleteProject(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type addPageRequest struct {
	Number    int    `json:"number"`
	ImagePath string `json:"image_path"`
}

func (h *handlers) addPage(c echo.Context) error {
	var req addPageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ImagePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "image_path is required")
	}

	err := h.deps.Projects.AddPage(c.Request().Context(), c.Param("id"), req.Number, req.ImagePath)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) setPanels(c echo.Context) error {
	pageNumber, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid page number")
	}

	var panels []domain.Panel
	if err := c.Bind(&panels); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.deps.Projects.SetPanels(c.Request().Context(), c.Param("id"), pageNumber, panels); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type saveNarrationRequest struct {
	Text      string `json:"text"`
	AudioPath string `json:"audio_path"`
}

func (h *handlers) saveNarration(c echo.Context) error {
	pageNumber, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid page number")
	}
	panelIndex, err := strconv.Atoi(c.Param("panel"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid panel index")
	}

	var req saveNarrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = h.deps.Projects.SaveNarration(c.Request().Context(),
		c.Param("id"), pageNumber, panelIndex, req.Text, req.AudioPath)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "panel not found")
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) narrationProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Providers())
}

func (h *handlers) availability(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Diagnostics())
}
