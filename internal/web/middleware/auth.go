package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireUser rejects unauthenticated requests.
func (m *MiddlewareManager) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := m.resolve(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// RequireGrant rejects users missing a grant. Admins pass every check.
func (m *MiddlewareManager) RequireGrant(grant string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := User(c)
		if !hasGrant(user, grant) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// PublicOrUser admits unauthenticated readers when the named surface is set
// to public visibility, and authenticated users always.
func (m *MiddlewareManager) PublicOrUser(surface string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := m.resolve(c); ok {
			c.Set("user", user)
			c.Next()
			return
		}
		var visibility string
		if _, err := m.store.Get(c, []string{"settings", "visibility", surface}, &visibility); err == nil && visibility == "public" {
			c.Next()
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		c.Abort()
	}
}
