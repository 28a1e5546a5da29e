package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"followpilot/internal/task"
)

const eventBuffer = 16

// Events streams store changes as server-sent events until the client goes
// away or the service shuts down.
func (a *API) Events(c *gin.Context) {
	changes := make(chan task.Change, eventBuffer)
	unsubscribe := a.manager.Store().Subscribe(func(ch task.Change) {
		select {
		case changes <- ch:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"at": a.manager.Store().Now()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-a.baseCtx.Done():
			return false
		case ch := <-changes:
			c.SSEvent("change", ch)
			return true
		}
	})
}

// RegisterMetrics exposes g at /metrics.
func RegisterMetrics(router *gin.Engine, g prometheus.Gatherer) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

// Health answers liveness probes.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
