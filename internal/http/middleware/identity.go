package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safevisit/backend/internal/lifecycle"
)

// Headers set by the auth proxy in front of the API once the user has signed in.
const (
	UserIDHeader    = "X-User-Id"
	UserNameHeader  = "X-User-Name"
	UserEmailHeader = "X-User-Email"
)

const identityKey = "identity"

func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := lifecycle.Identity{
			ID:          strings.TrimSpace(c.GetHeader(UserIDHeader)),
			DisplayName: strings.TrimSpace(c.GetHeader(UserNameHeader)),
			Email:       strings.TrimSpace(c.GetHeader(UserEmailHeader)),
		}
		if id.ID == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Sign in required")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (lifecycle.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return lifecycle.Identity{}, false
	}
	id, ok := v.(lifecycle.Identity)
	return id, ok
}
