package middleware

import (
	"strings"

	"gardenia/auth"
	"gardenia/internal/models"
	"gardenia/internal/store"

	"github.com/gin-gonic/gin"
)

// SessionCookie carries the browser session token.
const SessionCookie = "gardenia_session"

type MiddlewareManager struct {
	store store.KV
	auth  *auth.AuthModule
}

func NewMiddlewareManager(kv store.KV, authModule *auth.AuthModule) *MiddlewareManager {
	return &MiddlewareManager{store: kv, auth: authModule}
}

// User returns the authenticated user set by the auth middlewares.
func User(c *gin.Context) models.User {
	user, _ := c.Get("user")
	u, _ := user.(models.User)
	return u
}

// resolve authenticates from the session cookie or a bearer JWT.
func (m *MiddlewareManager) resolve(c *gin.Context) (models.User, bool) {
	if token, err := c.Cookie(SessionCookie); err == nil && token != "" {
		if user, err := m.auth.Session(c, token); err == nil {
			return user, true
		}
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if user, err := m.auth.ValidateJWT(c, strings.TrimPrefix(header, "Bearer ")); err == nil {
			return user, true
		}
	}
	return models.User{}, false
}
