package middleware

import (
	"Rendezvous/internal/pkg/response"
	"Rendezvous/internal/pkg/security"
	"Rendezvous/internal/service"
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	CtxUserID        = "user_id"
	CtxEmailVerified = "email_verified"
)

// BearerCredential 优先取 Authorization 头，浏览器 WS 无法设置头时取 ?token=
func BearerCredential(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return c.Query("token")
}

// AuthMiddleware 负责验证 JWT 并将用户身份信息注入 Context
func AuthMiddleware(identity security.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := BearerCredential(c)
		if credential == "" {
			response.Fail(c, service.Unauthorized, "Token 缺失或格式错误")
			return
		}

		id, err := identity.Verify(c.Request.Context(), credential)
		if err != nil {
			response.Error(c, service.AuthError(err))
			return
		}

		c.Set(CtxUserID, id.UserID)
		c.Set(CtxEmailVerified, id.EmailVerified)

		newCtx := context.WithValue(c.Request.Context(), CtxUserID, id.UserID)
		c.Request = c.Request.WithContext(newCtx)

		c.Next()
	}
}
