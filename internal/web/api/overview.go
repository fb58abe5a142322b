package api

import (
	"net/http"

	"gardenia/internal/models"
	"gardenia/internal/store"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterOverviewRoutes wires the per-target state mirror. Readable without
// a session when overview visibility is public.
func RegisterOverviewRoutes(router *gin.Engine, kv store.KV, mw *middleware.MiddlewareManager) {
	router.GET("/api/overview", mw.PublicOrUser("overview"), func(c *gin.Context) {
		targets, err := kv.List(c, []string{"automation", "targets"})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := []gin.H{}
		for _, entry := range targets {
			var target models.Target
			if err := entry.Decode(&target); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			var overview models.Overview
			found, err := kv.Get(c, []string{"overview", target.Module}, &overview)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if !found {
				overview.Status = "unknown"
			}
			out = append(out, gin.H{"target": target, "overview": overview})
		}
		c.JSON(http.StatusOK, out)
	})
}
