package approval

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the evaluation endpoint over HTTP.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates approval HTTP handlers.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes mounts the evaluation route.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/referrals/:id/evaluate", h.evaluate)
}

// evaluate runs the decision pipeline for one referral. The response is
// always 200 with the outcome; failed evaluations surface as the fail-closed
// outcome, not as an HTTP error.
func (h *Handlers) evaluate(c *gin.Context) {
	out := h.engine.Evaluate(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, out)
}
