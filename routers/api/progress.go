package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"PromptToMovie-server/models"
	"PromptToMovie-server/progress"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GetProgress GET /v1/api/movies/:movie_id/progress
func (h *Handler) GetProgress(c *gin.Context) {
	movie, view, err := h.Ledger.Read(c.Request.Context(), c.Param("movie_id"))
	if errors.Is(err, progress.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "movie not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read progress failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": movie, "progress": view})
}

// ProgressWebSocket pushes the run view whenever status, progress or stage changes
// and closes once the run is terminal. GET /movies/:movie_id/wss
func (h *Handler) ProgressWebSocket(c *gin.Context) {
	runID := c.Param("movie_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// drain client frames so a closed socket ends the loop
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	_, view, err := h.Ledger.Read(ctx, runID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	if err := conn.WriteJSON(view); err != nil || terminal(view) {
		return
	}

	interval := h.WSInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := snapshotOf(view)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_, cur, err := h.Ledger.Read(ctx, runID)
		if err != nil {
			h.Log.Debug().Err(err).Str("run_id", runID).Msg("progress read failed")
			continue
		}
		if snap := snapshotOf(cur); snap != prev {
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			prev = snap
		}
		if terminal(cur) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, cur.OverallStatus))
			return
		}
	}
}

type snapshot struct {
	status   string
	progress int
	stage    string
	detail   string
	scenes   int
}

func snapshotOf(v *progress.RunView) snapshot {
	return snapshot{
		status:   v.OverallStatus,
		progress: v.OverallProgress,
		stage:    v.CurrentStage,
		detail:   v.CurrentStageDetail,
		scenes:   v.Stats.ScenesCompleted,
	}
}

func terminal(v *progress.RunView) bool {
	return v.OverallStatus == models.RunStatusCompleted || v.OverallStatus == models.RunStatusFailed
}
