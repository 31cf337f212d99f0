package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"PromptToMovie-server/logger"
	"PromptToMovie-server/routers/api"
)

func InitRouter(h *api.Handler, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Gin(log))

	v1 := r.Group("/v1/api")
	{
		v1.POST("/movies", h.CreateMovie)
		v1.GET("/movies/:movie_id", h.GetMovie)
		v1.GET("/movies/:movie_id/scenes", h.GetScenes)
		v1.GET("/movies/:movie_id/progress", h.GetProgress)
		v1.POST("/movies/:movie_id/restart", h.RestartMovie)
		v1.GET("/providers/status", h.ProviderStatus)
	}
	r.GET("/movies/:movie_id/wss", h.ProgressWebSocket)
	r.POST("/internal/runs/:run_id/execute", h.ExecuteRun)
	return r
}
