package api

import (
	"net/http"
	"strings"
	"time"

	"gardenia/internal/actuator"
	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"
	"gardenia/internal/telemetry"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterSettingsRoutes wires configuration management. Everything here is
// admin-only.
func RegisterSettingsRoutes(router *gin.Engine, kv store.KV, hist *history.History,
	netatmo *telemetry.Client, tapo *actuator.Client, mw *middleware.MiddlewareManager) {

	r := router.Group("/api/settings", mw.RequireUser(), mw.RequireGrant("admin"))

	r.GET("", func(c *gin.Context) {
		settings := gin.H{}
		read := func(name string, key []string) {
			var value any
			if _, err := kv.Get(c, key, &value); err == nil {
				settings[name] = value
			}
		}
		read("tickrate", []string{"settings", "tickrate", "tickrate"})
		read("last_tick", []string{"settings", "tickrate", "last_tick"})
		read("control_url", []string{"settings", "control", "url"})
		read("camera_url", []string{"settings", "camera", "url"})
		read("camera_max_pictures", []string{"settings", "camera", "max_pictures"})
		read("netatmo_user_mail", []string{"settings", "netatmo", "user_mail"})
		read("netatmo_modules", []string{"settings", "netatmo", "modules"})
		read("tapo_api", []string{"settings", "tapo", "api"})
		read("tapo_username", []string{"settings", "tapo", "username"})
		read("tapo_modules", []string{"settings", "tapo", "modules"})
		visibility := gin.H{}
		entries, err := kv.List(c, []string{"settings", "visibility"})
		if err == nil {
			for _, entry := range entries {
				var value string
				if entry.Decode(&value) == nil {
					visibility[entry.Key[len(entry.Key)-1]] = value
				}
			}
		}
		settings["visibility"] = visibility
		c.JSON(http.StatusOK, settings)
	})

	r.PUT("/visibility/:surface", func(c *gin.Context) {
		surface := c.Param("surface")
		switch surface {
		case "overview", "data", "history":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown surface"})
			return
		}
		var req struct {
			Visibility string `json:"visibility" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || (req.Visibility != "public" && req.Visibility != "private") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		key := []string{"settings", "visibility", surface}
		hist.UpdateSetting(c, middleware.User(c).Username, key, req.Visibility)
		if err := kv.Set(c, key, req.Visibility); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.PUT("/tickrate", func(c *gin.Context) {
		var req struct {
			Tickrate int `json:"tickrate" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		if req.Tickrate < 60 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tickrate must be at least 60 seconds"})
			return
		}
		key := []string{"settings", "tickrate", "tickrate"}
		hist.UpdateSetting(c, middleware.User(c).Username, key, req.Tickrate)
		if err := kv.Set(c, key, req.Tickrate); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.PUT("/control", func(c *gin.Context) {
		var req struct {
			URL   string `json:"url" binding:"required"`
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		user := middleware.User(c).Username
		hist.UpdateSetting(c, user, []string{"settings", "control", "url"}, req.URL)
		if err := kv.Set(c, []string{"settings", "control", "url"}, req.URL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := kv.Set(c, []string{"settings", "control", "token"}, req.Token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/control/test", func(c *gin.Context) {
		var url string
		if _, err := kv.Get(c, []string{"settings", "control", "url"}, &url); err != nil || url == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "control endpoint not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": probe(c, strings.TrimRight(url, "/")+"/ping")})
	})

	r.PUT("/camera", func(c *gin.Context) {
		var req struct {
			URL         string `json:"url" binding:"required"`
			MaxPictures int    `json:"max_pictures"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		user := middleware.User(c).Username
		hist.UpdateSetting(c, user, []string{"settings", "camera", "url"}, req.URL)
		if err := kv.Set(c, []string{"settings", "camera", "url"}, req.URL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if req.MaxPictures > 0 {
			if err := kv.Set(c, []string{"settings", "camera", "max_pictures"}, req.MaxPictures); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/camera/test", func(c *gin.Context) {
		var url string
		if _, err := kv.Get(c, []string{"settings", "camera", "url"}, &url); err != nil || url == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "camera endpoint not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": probe(c, strings.TrimRight(url, "/")+"/ping")})
	})

	r.PUT("/netatmo", func(c *gin.Context) {
		var req struct {
			ClientID     string `json:"client_id" binding:"required"`
			ClientSecret string `json:"client_secret" binding:"required"`
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		for key, value := range map[string]string{
			"client_id": req.ClientID, "client_secret": req.ClientSecret, "refresh_token": req.RefreshToken,
		} {
			if err := kv.Set(c, []string{"settings", "netatmo", key}, value); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		hist.Push(c, middleware.User(c).Username, "update_settings", map[string]any{"name": "netatmo"})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Re-authenticates with the weather cloud and rediscovers the station
	// modules.
	r.POST("/netatmo/refresh", func(c *gin.Context) {
		if err := netatmo.RefreshToken(c); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if err := netatmo.FetchStation(c); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		var modules []models.StationModule
		if _, err := kv.Get(c, []string{"settings", "netatmo", "modules"}, &modules); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, modules)
	})

	r.PUT("/tapo", func(c *gin.Context) {
		var req struct {
			API      string `json:"api" binding:"required"`
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		for key, value := range map[string]string{
			"api": req.API, "username": req.Username, "password": req.Password,
		} {
			if err := kv.Set(c, []string{"settings", "tapo", key}, value); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		hist.Push(c, middleware.User(c).Username, "update_settings", map[string]any{"name": "tapo"})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Re-authenticates with the plug cloud and rediscovers paired devices.
	r.POST("/tapo/refresh", func(c *gin.Context) {
		if err := tapo.Login(c); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if err := tapo.FetchDevices(c); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		var modules []models.PlugModule
		if _, err := kv.Get(c, []string{"settings", "tapo", "modules"}, &modules); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, modules)
	})
}

func probe(c *gin.Context, url string) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(c, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
