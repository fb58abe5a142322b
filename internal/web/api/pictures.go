package api

import (
	"net/http"

	"gardenia/internal/camera"
	"gardenia/internal/history"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterPictureRoutes wires stored camera pictures and manual capture.
func RegisterPictureRoutes(router *gin.Engine, cam *camera.Camera, hist *history.History, mw *middleware.MiddlewareManager) {
	r := router.Group("/api/pictures", mw.RequireUser())

	r.GET("", func(c *gin.Context) {
		names, err := cam.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if names == nil {
			names = []string{}
		}
		c.JSON(http.StatusOK, names)
	})

	r.GET("/:name", func(c *gin.Context) {
		path, err := cam.Path(c.Param("name"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "picture not found"})
			return
		}
		c.File(path)
	})

	r.POST("", mw.RequireGrant("automation"), func(c *gin.Context) {
		name, err := cam.Capture(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		hist.Push(c, middleware.User(c).Username, "action_picture", map[string]any{
			"rule": "@" + middleware.User(c).Username, "picture": name, "public": true,
		})
		c.JSON(http.StatusCreated, gin.H{"picture": name})
	})

	r.DELETE("/:name", mw.RequireGrant("automation"), func(c *gin.Context) {
		if err := cam.Delete(c.Param("name")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "picture not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
