package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"followpilot/internal/cleanup"
)

type cleanupStatus struct {
	Running    bool            `json:"running"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Result     *cleanup.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// StartCleanup launches the un-follow flow in the background. One run per
// task at a time.
func (a *API) StartCleanup(c *gin.Context) {
	id := c.Param("id")
	if _, _, err := a.manager.Find(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	a.mu.Lock()
	if _, busy := a.cleaning[id]; busy {
		a.mu.Unlock()
		writeError(c, errCleanupRunning)
		return
	}
	status := cleanupStatus{Running: true, StartedAt: time.Now().UTC()}
	a.cleaning[id] = struct{}{}
	a.results[id] = status
	a.wg.Add(1)
	a.mu.Unlock()

	go a.runCleanup(a.baseCtx, id)
	log.Info().Str("task_id", id).Msg("cleanup scheduled")
	c.JSON(http.StatusAccepted, status)
}

func (a *API) runCleanup(ctx context.Context, id string) {
	defer a.wg.Done()
	res, err := a.cleaner.Run(ctx, id)

	finished := time.Now().UTC()
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cleaning, id)
	status := a.results[id]
	status.Running = false
	status.FinishedAt = &finished
	status.Result = &res
	if err != nil {
		status.Error = err.Error()
		log.Warn().Str("task_id", id).Err(err).Msg("cleanup failed")
	}
	a.results[id] = status
}

// GetCleanup reports the latest cleanup run of a task.
func (a *API) GetCleanup(c *gin.Context) {
	a.mu.Lock()
	status, ok := a.results[c.Param("id")]
	a.mu.Unlock()
	if !ok {
		writeError(c, errNoCleanupResult)
		return
	}
	c.JSON(http.StatusOK, status)
}

// WaitAll waits for background cleanups, returning false if ctx ends first.
func (a *API) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
