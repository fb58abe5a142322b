package api

import (
	"net/http"
	"strconv"

	"gardenia/internal/history"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterHistoryRoutes wires the audit log. Unauthenticated readers only
// ever see publicly tagged entries, and only when history visibility allows.
func RegisterHistoryRoutes(router *gin.Engine, hist *history.History, mw *middleware.MiddlewareManager) {
	router.GET("/api/history", mw.PublicOrUser("history"), func(c *gin.Context) {
		page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
		if err != nil || page < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad page"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 || limit > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad limit"})
			return
		}
		publicOnly := middleware.User(c).Username == ""
		actionsOnly := c.Query("actions") == "true"
		entries, err := hist.Page(c, page, limit, publicOnly, actionsOnly)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entries)
	})
}
