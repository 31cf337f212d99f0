package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"PromptToMovie-server/models"
	"PromptToMovie-server/service"
)

// ExecuteRun starts a queued run. It answers within the trigger timeout and never waits
// for the pipeline. POST /internal/runs/:run_id/execute
func (h *Handler) ExecuteRun(c *gin.Context) {
	token := c.GetHeader(service.TriggerTokenHeader)
	if h.Secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"started": false, "error": "invalid trigger token"})
		return
	}

	runID := c.Param("run_id")
	movie, err := models.GetMovieByID(h.DB.WithContext(c.Request.Context()), runID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"started": false, "error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"started": false, "error": err.Error()})
		return
	}
	if movie.Status != models.MovieStatusQueued {
		c.JSON(http.StatusConflict, gin.H{"started": false, "error": "run is " + movie.Status})
		return
	}

	if err := h.Runner.Start(c.Request.Context(), runID); err != nil {
		h.Log.Error().Err(err).Str("run_id", runID).Msg("execute: start failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"started": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}
