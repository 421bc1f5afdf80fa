package middleware

import (
	"net/http"

	"github.com/afumu/barlens/web/api"
	"github.com/afumu/barlens/web/transport"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware guards state-changing requests when a password hash is
// configured. Reads stay open.
func AuthMiddleware(a *api.API) gin.HandlerFunc {
	whitelist := map[string]bool{
		"/api/v1/auth/verify": true,
	}
	return func(c *gin.Context) {
		if !a.Password.Enabled() {
			c.Next()
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || whitelist[c.Request.URL.Path] {
			c.Next()
			return
		}
		if token := api.Token(c); token == "" || !a.Password.IsValidSession(token) {
			transport.Unauthorized(c, "password verification required")
			return
		}
		c.Next()
	}
}
