package api

import (
	"context"
	"net/http"

	"gardenia/internal/models"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// Executor runs one action the same way the rule engine does.
type Executor interface {
	Execute(ctx context.Context, rule models.Rule) error
}

// RegisterActionRoutes wires manual device actions. A manual action goes
// through the same execution path as a fired rule, under a synthetic rule
// named "@" + username so history attributes it.
func RegisterActionRoutes(router *gin.Engine, executor Executor, mw *middleware.MiddlewareManager) {
	r := router.Group("/api/action", mw.RequireUser(), mw.RequireGrant("automation"))

	r.POST("/:target", func(c *gin.Context) {
		var req struct {
			Action   string `json:"action" binding:"required"`
			Duration int    `json:"duration"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		if req.Action != "on" && req.Action != "off" {
			c.JSON(http.StatusBadRequest, gin.H{"error": `action must be "on" or "off"`})
			return
		}
		if req.Duration < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration must not be negative"})
			return
		}
		rule := models.Rule{
			Name:     "@" + middleware.User(c).Username,
			Target:   c.Param("target"),
			Action:   req.Action,
			Duration: req.Duration,
		}
		if err := executor.Execute(c, rule); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
