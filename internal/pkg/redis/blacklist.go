package redis

import (
	"Rendezvous/internal/pkg/consts"
	"context"
	"time"
)

// TokenBlacklist 基于 Redis 的 Token 吊销表，键为签名
type TokenBlacklist struct{}

func NewTokenBlacklist() *TokenBlacklist {
	return &TokenBlacklist{}
}

// IsRevoked 签名是否已被吊销
func (s *TokenBlacklist) IsRevoked(ctx context.Context, signature string) (bool, error) {
	return Exists(ctx, consts.TokenBlacklistKey+signature)
}

// Revoke 吊销签名，ttl 取 Token 剩余有效期即可
func (s *TokenBlacklist) Revoke(ctx context.Context, signature string, ttl time.Duration) error {
	return SetWithExpiration(ctx, consts.TokenBlacklistKey+signature, 1, ttl)
}
