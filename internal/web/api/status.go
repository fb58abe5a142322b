package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"gardenia/internal/store"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// Scheduler runs a tick out of cadence.
type Scheduler interface {
	Kick()
}

// RegisterStatusRoutes wires liveness, instance status and the manual tick.
func RegisterStatusRoutes(router *gin.Engine, kv store.KV, sched Scheduler, shutdown func(), mw *middleware.MiddlewareManager) {
	router.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})

	// Instance status is intentionally unauthenticated: the setup flow needs
	// it before any user exists.
	router.GET("/api/status", func(c *gin.Context) {
		var status string
		if _, err := kv.Get(c, []string{"status"}, &status); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if status == "" {
			status = "setup"
		}
		out := gin.H{"status": status}
		var lastTick string
		if found, err := kv.Get(c, []string{"settings", "tickrate", "last_tick"}, &lastTick); err == nil && found {
			out["last_tick"] = lastTick
		}
		pings := gin.H{}
		entries, err := kv.List(c, []string{"ping"})
		if err == nil {
			for _, entry := range entries {
				var result map[string]any
				if entry.Decode(&result) == nil {
					pings[entry.Key[len(entry.Key)-1]] = result
				}
			}
		}
		out["ping"] = pings
		c.JSON(http.StatusOK, out)
	})

	authed := router.Group("/api", mw.RequireUser())

	// Live camera frame, proxied so the camera itself never has to be
	// reachable from the client's network.
	authed.GET("/camera", func(c *gin.Context) {
		var url string
		if _, err := kv.Get(c, []string{"settings", "camera", "url"}, &url); err != nil || url == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "camera endpoint not configured"})
			return
		}
		client := &http.Client{Timeout: 30 * time.Second}
		req, err := http.NewRequestWithContext(c, http.MethodGet, strings.TrimRight(url, "/")+"/capture", nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.JSON(http.StatusBadGateway, gin.H{"error": "camera returned an error"})
			return
		}
		c.Header("Content-Type", resp.Header.Get("Content-Type"))
		c.Status(http.StatusOK)
		io.Copy(c.Writer, resp.Body)
	})

	authed.POST("/tick", mw.RequireGrant("automation"), func(c *gin.Context) {
		sched.Kick()
		c.JSON(http.StatusAccepted, gin.H{"status": "tick scheduled"})
	})

	// Asks the supervisor to restart us with fresh state.
	authed.POST("/exit", mw.RequireGrant("admin"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "exiting"})
		go shutdown()
	})
}
