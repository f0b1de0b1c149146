package api

import (
	"Rendezvous/internal/api/handler"
	"Rendezvous/internal/api/middleware"
	"Rendezvous/internal/pkg/security"
)

// HandlersGroup 封装了所有已初始化的 Handler 实例
type HandlersGroup struct {
	Identity  security.IdentityProvider
	Origins   *middleware.OriginPolicy
	IMHandler *handler.IMHandler
	WsHandler *handler.WsHandler
}
