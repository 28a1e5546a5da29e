package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"followpilot/internal/listimport"
	"followpilot/internal/safety"
	"followpilot/internal/task"
)

var (
	errBadUpload       = errors.New("multipart field \"file\" is required")
	errCleanupRunning  = errors.New("cleanup already running for task")
	errNoCleanupResult = errors.New("no cleanup has run for task")
)

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrTaskNotFound), errors.Is(err, errNoCleanupResult):
		status = http.StatusNotFound
	case errors.Is(err, errCleanupRunning):
		status = http.StatusConflict
	case errors.Is(err, task.ErrInvalidType),
		errors.Is(err, task.ErrEmptySource),
		errors.Is(err, task.ErrEmptyList),
		errors.Is(err, task.ErrListTooLong),
		errors.Is(err, task.ErrInvalidEdge),
		errors.Is(err, task.ErrInvalidReason),
		errors.Is(err, safety.ErrInvalidSettings),
		errors.Is(err, listimport.ErrNoUsernames),
		errors.Is(err, errBadUpload):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
