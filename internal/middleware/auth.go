package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/pkg/jwt"
	"github.com/leapingturtlefrog/Friendsly/pkg/response"
)

const (
	UserIDKey     = "user_id"
	NameKey       = "name"
	RoleKey       = "role"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// AuthMiddleware validates identity tokens locally. The token's role claim
// is trusted as given; role issuance is out of scope here, but role-gated
// routes are still enforced.
type AuthMiddleware struct {
	tokens *jwt.Manager
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(tokens *jwt.Manager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth validates the caller's token from the Authorization header,
// falling back to the `token` query parameter for WebSocket upgrades where
// browsers cannot set headers.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader(AuthHeaderKey); authHeader != "" {
			if !strings.HasPrefix(authHeader, BearerPrefix) {
				response.Unauthorized(c, "invalid authorization format")
				c.Abort()
				return
			}
			token = strings.TrimPrefix(authHeader, BearerPrefix)
		} else {
			token = c.Query("token")
		}

		if token == "" {
			response.Unauthorized(c, "missing token")
			c.Abort()
			return
		}

		claims, err := m.tokens.Validate(token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(NameKey, claims.Name)
		c.Set(RoleKey, claims.Role)

		c.Next()
	}
}

// RequireRole enforces a role gate. Must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != role {
			response.Forbidden(c, "operation requires role "+string(role))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID extracts the user ID from the Gin context.
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(UserIDKey); exists {
		return id.(string)
	}
	return ""
}

// GetName extracts the display name from the Gin context.
func GetName(c *gin.Context) string {
	if name, exists := c.Get(NameKey); exists {
		return name.(string)
	}
	return ""
}

// GetRole extracts the role from the Gin context.
func GetRole(c *gin.Context) domain.Role {
	if role, exists := c.Get(RoleKey); exists {
		return domain.Role(role.(string))
	}
	return ""
}
