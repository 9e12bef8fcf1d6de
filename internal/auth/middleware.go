package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyIdentity is the key used to store the verified identity in the Gin context.
	ContextKeyIdentity = "identity"
)

// RequireIdentity is a middleware that requires a valid bearer token.
// The verified identity is stored once and read by handlers with GetIdentity.
func RequireIdentity(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing bearer token",
			})
			return
		}

		identity, err := v.Verify(c.Request.Context(), raw)
		if err != nil {
			log.Printf("Rejected bearer token on %s: %v", c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid token",
			})
			return
		}

		c.Set(ContextKeyIdentity, identity)
		c.Next()
	}
}

// GetIdentity retrieves the verified identity from the Gin context.
func GetIdentity(c *gin.Context) *Identity {
	value, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil
	}

	identity, ok := value.(*Identity)
	if !ok {
		return nil
	}

	return identity
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
