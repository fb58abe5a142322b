package api

import (
	"errors"
	"net/http"

	"gardenia/auth"
	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterAuthRoutes wires setup, sessions, API tokens and user management.
func RegisterAuthRoutes(router *gin.Engine, kv store.KV, authModule *auth.AuthModule, hist *history.History, mw *middleware.MiddlewareManager) {
	// First-run setup: creates the initial admin and flips the instance to
	// configured. Rejected once configured.
	router.POST("/api/setup", func(c *gin.Context) {
		var status string
		if _, err := kv.Get(c, []string{"status"}, &status); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if status == "configured" {
			c.JSON(http.StatusConflict, gin.H{"error": "already configured"})
			return
		}
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		user := models.User{Username: req.Username, GrantAdmin: true, GrantAutomation: true, GrantData: true}
		if err := authModule.CreateUser(c, user, req.Password); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defaults := map[string][]string{
			"private": {"overview", "data", "history"},
		}
		for visibility, surfaces := range defaults {
			for _, surface := range surfaces {
				if err := kv.Set(c, []string{"settings", "visibility", surface}, visibility); err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
					return
				}
			}
		}
		if err := kv.Set(c, []string{"settings", "tickrate", "tickrate"}, 60); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := kv.Set(c, []string{"status"}, "configured"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		hist.Push(c, req.Username, "setup", nil)
		c.JSON(http.StatusCreated, gin.H{"status": "configured"})
	})

	router.POST("/api/login", func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		token, err := authModule.Login(c, req.Username, req.Password, c.ClientIP())
		if errors.Is(err, auth.ErrTooManyAttempts) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.SetCookie(middleware.SessionCookie, token, 24*3600, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	authed := router.Group("/api", mw.RequireUser())
	{
		authed.POST("/logout", func(c *gin.Context) {
			if token, err := c.Cookie(middleware.SessionCookie); err == nil {
				if err := authModule.Logout(c, token); err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
					return
				}
			}
			c.SetCookie(middleware.SessionCookie, "", -1, "/", "", false, true)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		authed.GET("/user", func(c *gin.Context) {
			c.JSON(http.StatusOK, middleware.User(c).Sanitized())
		})

		authed.POST("/token", func(c *gin.Context) {
			token, err := authModule.GenerateJWT(middleware.User(c).Username)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})

		authed.POST("/password", func(c *gin.Context) {
			var req struct {
				OldPassword string `json:"old_password" binding:"required"`
				NewPassword string `json:"new_password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			user := middleware.User(c)
			if err := authModule.ChangePassword(c, user.Username, req.OldPassword, req.NewPassword); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			hist.Push(c, user.Username, "change_password", nil)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	admin := router.Group("/api/users", mw.RequireUser(), mw.RequireGrant("admin"))
	{
		admin.GET("", func(c *gin.Context) {
			entries, err := kv.List(c, []string{"users"})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			users := []models.User{}
			for _, entry := range entries {
				var user models.User
				if err := entry.Decode(&user); err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
					return
				}
				users = append(users, user.Sanitized())
			}
			c.JSON(http.StatusOK, users)
		})

		admin.POST("", func(c *gin.Context) {
			var req struct {
				credentialsRequest
				GrantAdmin      bool `json:"grant_admin"`
				GrantAutomation bool `json:"grant_automation"`
				GrantData       bool `json:"grant_data"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			user := models.User{
				Username:        req.Username,
				GrantAdmin:      req.GrantAdmin,
				GrantAutomation: req.GrantAutomation,
				GrantData:       req.GrantData,
			}
			if err := authModule.CreateUser(c, user, req.Password); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			hist.Push(c, middleware.User(c).Username, "create_user", map[string]any{"name": req.Username})
			c.JSON(http.StatusCreated, user.Sanitized())
		})

		admin.PUT("/:name", func(c *gin.Context) {
			var req struct {
				GrantAdmin      bool `json:"grant_admin"`
				GrantAutomation bool `json:"grant_automation"`
				GrantData       bool `json:"grant_data"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			name := c.Param("name")
			var user models.User
			found, err := kv.Get(c, []string{"users", name}, &user)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			user.GrantAdmin = req.GrantAdmin
			user.GrantAutomation = req.GrantAutomation
			user.GrantData = req.GrantData
			if err := kv.Set(c, []string{"users", name}, user); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			hist.Push(c, middleware.User(c).Username, "update_user", map[string]any{"name": name})
			c.JSON(http.StatusOK, user.Sanitized())
		})

		admin.DELETE("/:name", func(c *gin.Context) {
			name := c.Param("name")
			if name == middleware.User(c).Username {
				c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete yourself"})
				return
			}
			if err := kv.Delete(c, []string{"users", name}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			hist.Push(c, middleware.User(c).Username, "delete_user", map[string]any{"name": name})
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
}
