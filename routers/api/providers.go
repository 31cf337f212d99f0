package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"PromptToMovie-server/providers"
)

// ProviderStatus validates the provider bindings for a run with dialogue and music,
// unless ?dialogue=false or ?music=false narrow it. GET /v1/api/providers/status
func (h *Handler) ProviderStatus(c *gin.Context) {
	req := providers.Requirements{
		Dialogue: queryBool(c, "dialogue", true),
		Music:    queryBool(c, "music", true),
	}
	report, err := h.Registry.Validate(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read provider bindings failed: " + err.Error()})
		return
	}
	resp := gin.H{"report": report}
	if !report.OK {
		resp["message"] = report.MissingMessage()
	}
	c.JSON(http.StatusOK, resp)
}

func queryBool(c *gin.Context, key string, def bool) bool {
	v, ok := c.GetQuery(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
