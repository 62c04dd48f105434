package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sitroom_server/server/common/transport/httpresp"
)

type tokenAuth interface {
	ParseAuthContext(token string) (userID, tenantID, role string, err error)
}

// AuthRequired resolves the caller's identity from the bearer token and puts
// it on the request context; handlers read it back through the auth_* keys.
func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		userID, tenantID, role, err := auth.ParseAuthContext(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set("auth_access_token", token)
		c.Set("auth_user_id", userID)
		c.Set("auth_tenant_id", tenantID)
		c.Set("auth_role", role)
		c.Next()
	}
}
