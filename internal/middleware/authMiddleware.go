package middleware

import (
	"net/http"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/auth"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/gwerror"
	"github.com/gin-gonic/gin"
)

const IdentityKey = "identity"

// HeaderValidator validates the value of an Authorization header.
type HeaderValidator interface {
	ValidateHeader(header string) (*auth.Identity, error)
}

// RequireAuth validates the bearer token and stores the identity in the
// context under IdentityKey.
func RequireAuth(validator HeaderValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := validator.ValidateHeader(c.GetHeader("Authorization"))
		if err != nil {
			gwErr, ok := gwerror.As(err)
			if !ok {
				gwErr = gwerror.Unauthorized("invalid or expired token", err)
			}
			AbortWithError(c, gwErr)
			return
		}

		c.Set(IdentityKey, identity)
		c.Set(subjectKey, identity.Subject)
		c.Next()
	}
}

// RequireRole must run after RequireAuth. It rejects identities whose role
// claim differs from role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			AbortWithError(c, gwerror.Unauthorized("authentication required", nil))
			return
		}
		if identity.Claims["role"] != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "insufficient permissions",
				"code":  "forbidden",
			})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the identity stored by RequireAuth.
func GetIdentity(c *gin.Context) (*auth.Identity, bool) {
	v, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*auth.Identity)
	return identity, ok
}

// AbortWithError renders a gateway error the same way the dispatcher does.
func AbortWithError(c *gin.Context, err *gwerror.Error) {
	for k, vv := range err.Headers() {
		for _, v := range vv {
			c.Header(k, v)
		}
	}
	c.AbortWithStatusJSON(err.StatusCode(), err.Body())
}
