package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"followpilot/internal/cleanup"
	"followpilot/internal/export"
	"followpilot/internal/listimport"
	"followpilot/internal/safety"
	"followpilot/internal/stats"
	"followpilot/internal/task"
)

// Cleaner runs the un-follow flow for one task.
type Cleaner interface {
	Run(ctx context.Context, id string) (cleanup.Result, error)
}

// StatsReader exposes follow accounting.
type StatsReader interface {
	Summary(ctx context.Context, now time.Time) (stats.Summary, error)
}

type Deps struct {
	Manager  *task.Manager
	Settings *safety.Store
	Stats    StatsReader
	Cleanup  Cleaner
	// BaseCtx bounds background work; cancelling it stops cleanups.
	BaseCtx context.Context
}

type API struct {
	manager  *task.Manager
	settings *safety.Store
	stats    StatsReader
	cleaner  Cleaner
	baseCtx  context.Context

	wg       sync.WaitGroup
	mu       sync.Mutex
	cleaning map[string]struct{}
	results  map[string]cleanupStatus
}

func NewAPI(deps Deps) *API {
	if deps.BaseCtx == nil {
		deps.BaseCtx = context.Background()
	}
	return &API{
		manager:  deps.Manager,
		settings: deps.Settings,
		stats:    deps.Stats,
		cleaner:  deps.Cleanup,
		baseCtx:  deps.BaseCtx,
		cleaning: make(map[string]struct{}),
		results:  make(map[string]cleanupStatus),
	}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", Health)
	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.CreateTask)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.POST("/tasks/:id/start", a.StartTask)
		api.POST("/tasks/:id/pause", a.PauseTask)
		api.POST("/tasks/:id/stop", a.StopTask)
		api.DELETE("/tasks/:id", a.DeleteTask)
		api.POST("/tasks/:id/cleanup", a.StartCleanup)
		api.GET("/tasks/:id/cleanup", a.GetCleanup)
		api.GET("/tasks/:id/export", a.ExportTask)
		api.DELETE("/history/:id", a.DeleteHistory)

		api.GET("/settings/safety", a.GetSafety)
		api.PUT("/settings/safety", a.PutSafety)
		api.DELETE("/settings/safety", a.ResetSafety)

		api.GET("/stats", a.GetStats)
		api.GET("/events", a.Events)
	}
}

// taskView decorates a task with the remaining-time estimate.
type taskView struct {
	*task.Task
	Estimate string `json:"estimate"`
}

type snapshotResponse struct {
	Active  []taskView          `json:"active"`
	Stopped []*task.StoppedTask `json:"stopped"`
}

type stopRequest struct {
	Reason task.StopReason `json:"reason"`
}

// CreateTask accepts a JSON body, or a multipart form with a "file" list for
// list imports.
func (a *API) CreateTask(c *gin.Context) {
	var params task.CreateParams
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		parsed, err := a.bindListUpload(c)
		if err != nil {
			log.Warn().Err(err).Msg("invalid list upload")
			writeError(c, err)
			return
		}
		params = parsed
	} else if err := c.ShouldBindJSON(&params); err != nil {
		log.Warn().Err(err).Msg("invalid create task request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	created, err := a.manager.Create(c.Request.Context(), params)
	if err != nil {
		log.Warn().Str("type", string(params.Type)).Err(err).Msg("failed to create task")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a.view(c, created))
}

func (a *API) bindListUpload(c *gin.Context) (task.CreateParams, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return task.CreateParams{}, errBadUpload
	}
	f, err := header.Open()
	if err != nil {
		return task.CreateParams{}, errBadUpload
	}
	defer f.Close()
	parsed, err := listimport.Parse(f)
	if err != nil {
		return task.CreateParams{}, err
	}
	if len(parsed.Skipped) > 0 {
		log.Info().Str("file", header.Filename).Int("skipped", len(parsed.Skipped)).Msg("list entries skipped")
	}
	return task.CreateParams{
		Type:        task.TypeListImport,
		SourceInput: header.Filename,
		Usernames:   parsed.Usernames,
	}, nil
}

// ListTasks returns the active and archived collections.
func (a *API) ListTasks(c *gin.Context) {
	snap, err := a.manager.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := snapshotResponse{Active: make([]taskView, 0, len(snap.Active)), Stopped: snap.Stopped}
	if resp.Stopped == nil {
		resp.Stopped = []*task.StoppedTask{}
	}
	for _, t := range snap.Active {
		resp.Active = append(resp.Active, a.view(c, t))
	}
	c.JSON(http.StatusOK, resp)
}

// GetTask returns an active or archived task
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	active, stopped, err := a.manager.Find(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			log.Warn().Str("task_id", id).Msg("task not found on get")
		}
		writeError(c, err)
		return
	}
	if stopped != nil {
		c.JSON(http.StatusOK, stopped)
		return
	}
	c.JSON(http.StatusOK, a.view(c, active))
}

// ExportTask streams a zip with the task document and its audit trail.
func (a *API) ExportTask(c *gin.Context) {
	id := c.Param("id")
	active, stopped, err := a.manager.Find(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	t, doc := active, any(active)
	if stopped != nil {
		t, doc = &stopped.Task, stopped
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(t)+`"`)
	c.Status(http.StatusOK)
	if err := export.Write(c.Writer, t, doc, a.manager.Store().Now()); err != nil {
		log.Warn().Str("task_id", id).Err(err).Msg("export failed")
		return
	}
	log.Info().Str("task_id", id).Msg("serving task export")
}

func (a *API) StartTask(c *gin.Context) {
	a.transition(c, a.manager.Start)
}

func (a *API) PauseTask(c *gin.Context) {
	a.transition(c, a.manager.Pause)
}

func (a *API) transition(c *gin.Context, fn func(context.Context, string) (*task.Task, error)) {
	updated, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.view(c, updated))
}

// StopTask archives a task; the reason defaults to manual.
func (a *API) StopTask(c *gin.Context) {
	req := stopRequest{Reason: task.StopManual}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	stopped, err := a.manager.Stop(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stopped)
}

func (a *API) DeleteTask(c *gin.Context) {
	if err := a.manager.DeleteActive(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) DeleteHistory(c *gin.Context) {
	if err := a.manager.DeleteStopped(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) GetSafety(c *gin.Context) {
	s, err := a.settings.Load(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// PutSafety replaces the pacing settings wholesale.
func (a *API) PutSafety(c *gin.Context) {
	var s safety.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := a.settings.Save(c.Request.Context(), s); err != nil {
		writeError(c, err)
		return
	}
	log.Info().Int("interval", s.RequestIntervalSeconds).Int("jitter", s.RequestRandomRangeSeconds).
		Int("failed_pause", s.FailedPauseIntervalSeconds).Msg("safety settings saved")
	c.JSON(http.StatusOK, s)
}

func (a *API) ResetSafety(c *gin.Context) {
	if err := a.settings.Reset(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	a.GetSafety(c)
}

type statsResponse struct {
	Follows stats.Summary `json:"follows"`
	Active  int           `json:"active"`
	Stopped int           `json:"stopped"`
	Running *taskView     `json:"running,omitempty"`
}

func (a *API) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	summary, err := a.stats.Summary(ctx, a.manager.Store().Now())
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := a.manager.Snapshot(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := statsResponse{Follows: summary, Active: len(snap.Active), Stopped: len(snap.Stopped)}
	for _, t := range snap.Active {
		if t.Status == task.StatusRunning {
			v := a.view(c, t)
			resp.Running = &v
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) view(c *gin.Context, t *task.Task) taskView {
	s, err := a.settings.Load(c.Request.Context())
	if err != nil {
		s = safety.Default()
	}
	return taskView{Task: t, Estimate: safety.EstimateRemaining(t.Total, t.Progress, s)}
}
