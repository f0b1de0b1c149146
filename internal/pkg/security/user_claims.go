package security

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserClaims 身份提供方签发的 Token 载荷
type UserClaims struct {
	UserID        string `json:"user_id"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Identity 已验证的用户身份
type Identity struct {
	UserID        string
	EmailVerified bool
	Signature     string
}
