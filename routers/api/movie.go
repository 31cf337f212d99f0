package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"PromptToMovie-server/models"
)

const maxSceneCount = 20

var aspectRatios = map[string]bool{
	"16:9": true,
	"9:16": true,
	"1:1":  true,
	"4:3":  true,
	"21:9": true,
}

type createMovieRequest struct {
	UserID       string `json:"user_id"`
	Title        string `json:"title"`
	Prompt       string `json:"prompt"`
	Style        string `json:"style"`
	SceneCount   int    `json:"scene_count"`
	AspectRatio  string `json:"aspect_ratio"`
	WithDialogue bool   `json:"with_dialogue"`
	WithMusic    bool   `json:"with_music"`
}

// CreateMovie creates a queued run and fires the trigger. POST /v1/api/movies
func (h *Handler) CreateMovie(c *gin.Context) {
	var req createMovieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	if req.SceneCount <= 0 {
		req.SceneCount = h.Config.DefaultSceneCount
	}
	if req.SceneCount > maxSceneCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scene_count must be at most 20"})
		return
	}
	if req.AspectRatio == "" {
		req.AspectRatio = h.Config.AspectRatio
	}
	if !aspectRatios[req.AspectRatio] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported aspect_ratio " + req.AspectRatio})
		return
	}

	movie := &models.Movie{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Title:        req.Title,
		Prompt:       req.Prompt,
		Style:        req.Style,
		AspectRatio:  req.AspectRatio,
		SceneCount:   req.SceneCount,
		WithDialogue: req.WithDialogue,
		WithMusic:    req.WithMusic,
		Status:       models.MovieStatusQueued,
	}
	h.createAndStart(c, movie, "")
}

// RestartMovie starts a fresh run with the parameters of a finished one. The old run
// is left as it is. POST /v1/api/movies/:movie_id/restart
func (h *Handler) RestartMovie(c *gin.Context) {
	old, ok := h.loadMovie(c)
	if !ok {
		return
	}
	if !old.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "movie is still " + old.Status})
		return
	}
	movie := &models.Movie{
		ID:           uuid.NewString(),
		UserID:       old.UserID,
		Title:        old.Title,
		Prompt:       old.Prompt,
		Style:        old.Style,
		AspectRatio:  old.AspectRatio,
		SceneCount:   old.SceneCount,
		WithDialogue: old.WithDialogue,
		WithMusic:    old.WithMusic,
		Status:       models.MovieStatusQueued,
	}
	h.createAndStart(c, movie, old.ID)
}

func (h *Handler) createAndStart(c *gin.Context, movie *models.Movie, restartedFrom string) {
	if err := models.CreateMovie(h.DB.WithContext(c.Request.Context()), movie); err != nil {
		h.Log.Error().Err(err).Msg("create movie failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create movie failed: " + err.Error()})
		return
	}

	started := true
	if err := h.Trigger.Start(c.Request.Context(), movie.ID); err != nil {
		h.Log.Error().Err(err).Str("run_id", movie.ID).Msg("run could not be started")
		started = false
	}

	resp := gin.H{
		"movie_id": movie.ID,
		"status":   movie.Status,
		"started":  started,
	}
	if restartedFrom != "" {
		resp["restarted_from"] = restartedFrom
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetMovie returns the movie with its scenes and characters. GET /v1/api/movies/:movie_id
func (h *Handler) GetMovie(c *gin.Context) {
	movie, ok := h.loadMovie(c)
	if !ok {
		return
	}
	db := h.DB.WithContext(c.Request.Context())
	scenes, err := models.GetScenesByMovieID(db, movie.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load scenes failed: " + err.Error()})
		return
	}
	characters, err := models.GetCharactersByMovieID(db, movie.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load characters failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"movie":      movie,
		"scenes":     scenes,
		"characters": characters,
	})
}

// GetScenes GET /v1/api/movies/:movie_id/scenes
func (h *Handler) GetScenes(c *gin.Context) {
	movie, ok := h.loadMovie(c)
	if !ok {
		return
	}
	scenes, err := models.GetScenesByMovieID(h.DB.WithContext(c.Request.Context()), movie.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load scenes failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"movie_id": movie.ID, "scenes": scenes})
}

func (h *Handler) loadMovie(c *gin.Context) (*models.Movie, bool) {
	movie, err := models.GetMovieByID(h.DB.WithContext(c.Request.Context()), c.Param("movie_id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "movie not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load movie failed: " + err.Error()})
		return nil, false
	}
	return movie, true
}
