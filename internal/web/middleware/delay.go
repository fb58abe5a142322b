package middleware

import (
	"math/rand"
	"net/http"
	"time"

	"gardenia/internal/models"

	"github.com/gin-gonic/gin"
)

// MutationDelay pads every mutating request with a short random delay,
// keeping response timing from leaking whether a write hit anything.
func (m *MiddlewareManager) MutationDelay() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			time.Sleep(time.Duration(250+rand.Intn(500)) * time.Millisecond)
		}
		c.Next()
	}
}

func hasGrant(user models.User, grant string) bool {
	if user.Username == "" {
		return false
	}
	if user.GrantAdmin {
		return true
	}
	switch grant {
	case "admin":
		return user.GrantAdmin
	case "automation":
		return user.GrantAutomation
	case "data":
		return user.GrantData
	}
	return false
}
