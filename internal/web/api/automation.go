package api

import (
	"context"
	"log"
	"net/http"

	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// Plugs drives plug targets; used here to force a disabled target off.
type Plugs interface {
	Apply(ctx context.Context, target models.Target, status string, duration int) error
}

// RegisterAutomationRoutes wires target and rule management.
func RegisterAutomationRoutes(router *gin.Engine, kv store.KV, hist *history.History,
	plugs Plugs, mw *middleware.MiddlewareManager) {

	r := router.Group("/api/automation", mw.RequireUser(), mw.RequireGrant("automation"))

	r.GET("/targets", func(c *gin.Context) {
		entries, err := kv.List(c, []string{"automation", "targets"})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		targets := []models.Target{}
		for _, entry := range entries {
			var target models.Target
			if err := entry.Decode(&target); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			targets = append(targets, target)
		}
		c.JSON(http.StatusOK, targets)
	})

	r.PUT("/targets/:name", func(c *gin.Context) {
		name := c.Param("name")
		if name == "" || len(name) > 64 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target name must be 1-64 characters"})
			return
		}
		var target models.Target
		if err := c.ShouldBindJSON(&target); err != nil || target.Module == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		target.Name = name
		var existing models.Target
		existed, err := kv.Get(c, []string{"automation", "targets", name}, &existing)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := kv.Set(c, []string{"automation", "targets", name}, target); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// A freshly disabled plug must not stay powered with nothing left
		// to turn it off.
		if target.Disabled && (!existed || !existing.Disabled) && target.Module != models.CameraModule {
			enabled := target
			enabled.Disabled = false
			if err := plugs.Apply(c, enabled, "off", 0); err != nil {
				log.Printf("WEB: failed to force %s off on disable: %v", target.Name, err)
			}
		}
		hist.Push(c, middleware.User(c).Username, "update_target", map[string]any{"name": name})
		c.JSON(http.StatusOK, target)
	})

	r.DELETE("/targets/:name", func(c *gin.Context) {
		name := c.Param("name")
		var target models.Target
		found, err := kv.Get(c, []string{"automation", "targets", name}, &target)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
			return
		}
		if err := kv.Delete(c, []string{"automation", "targets", name}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := kv.Delete(c, []string{"overview", target.Module}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		hist.Push(c, middleware.User(c).Username, "delete_target", map[string]any{"name": name})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/rules", func(c *gin.Context) {
		entries, err := kv.List(c, []string{"automation", "rules"})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rules := []models.Rule{}
		for _, entry := range entries {
			var rule models.Rule
			if err := entry.Decode(&rule); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			rules = append(rules, rule)
		}
		c.JSON(http.StatusOK, rules)
	})

	r.PUT("/rules/:name", func(c *gin.Context) {
		var rule models.Rule
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		rule.Name = c.Param("name")
		if err := rule.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if found, err := kv.Get(c, []string{"automation", "targets", rule.Target}, nil); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		} else if !found {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target does not exist"})
			return
		}
		// Hit tracking belongs to the engine; edits never reset or forge it.
		var existing models.Rule
		if found, err := kv.Get(c, []string{"automation", "rules", rule.Name}, &existing); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		} else if found {
			rule.Hits = existing.Hits
			rule.LastHit = existing.LastHit
			rule.LastHitT = existing.LastHitT
		} else {
			rule.Hits = 0
			rule.LastHit = ""
			rule.LastHitT = 0
		}
		if err := kv.Set(c, []string{"automation", "rules", rule.Name}, rule); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		hist.Push(c, middleware.User(c).Username, "update_rule", map[string]any{"name": rule.Name})
		c.JSON(http.StatusOK, rule)
	})

	r.DELETE("/rules/:name", func(c *gin.Context) {
		name := c.Param("name")
		if found, err := kv.Get(c, []string{"automation", "rules", name}, nil); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		} else if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		if err := kv.Delete(c, []string{"automation", "rules", name}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		hist.Push(c, middleware.User(c).Username, "delete_rule", map[string]any{"name": name})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
