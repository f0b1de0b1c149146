package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("token 缺失")
	ErrTokenInvalid = errors.New("token 无效或已过期")
	ErrTokenRevoked = errors.New("token 已注销")
)

// IdentityProvider 外部身份提供方边界：凭据 -> 已验证身份
type IdentityProvider interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// RevocationChecker 判断 Token 是否已被注销 (登出黑名单)
type RevocationChecker interface {
	IsRevoked(ctx context.Context, signature string) (bool, error)
}

type jwtProvider struct {
	secret  []byte
	issuer  string
	revoked RevocationChecker
}

// NewJWTProvider 基于 HS256 共享密钥校验身份提供方签发的 Token
func NewJWTProvider(secret, issuer string, revoked RevocationChecker) IdentityProvider {
	return &jwtProvider{secret: []byte(secret), issuer: issuer, revoked: revoked}
}

func (p *jwtProvider) Verify(ctx context.Context, credential string) (*Identity, error) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	claims, err := p.parse(tokenString)
	if err != nil {
		return nil, err
	}

	signature, err := ExtractSignature(tokenString)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	if p.revoked != nil {
		revoked, err := p.revoked.IsRevoked(ctx, signature)
		if err != nil {
			return nil, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return &Identity{
		UserID:        claims.UserID,
		EmailVerified: claims.EmailVerified,
		Signature:     signature,
	}, nil
}

func (p *jwtProvider) parse(tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// GenerateToken 签发 Token，仅供测试与 imctl 本地调试使用
func GenerateToken(secret, issuer, userID string, emailVerified bool, ttl time.Duration) (string, error) {
	claims := &UserClaims{
		UserID:        userID,
		EmailVerified: emailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("签名 Token 失败: %w", err)
	}

	return tokenString, nil
}

// ExtractSignature 从 Token 字符串中提取签名
func ExtractSignature(tokenString string) (string, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return "", errors.New("token 格式不正确")
	}
	return parts[2], nil
}
