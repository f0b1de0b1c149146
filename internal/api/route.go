package api

import (
	"Rendezvous/internal/api/middleware"
	"Rendezvous/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware(group.Origins))
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"code":    200,
				"message": "pong",
				"data":    nil,
			})
		})

		// 鉴权在升级前由连接管理完成，支持 ?token=
		apiGroup.GET("/im/ws", group.WsHandler.Connect)

		messageGroup := apiGroup.Group("/messages")
		messageGroup.Use(middleware.AuthMiddleware(group.Identity))
		{
			messageGroup.POST("", group.IMHandler.SendMessage)
			messageGroup.GET("/unread", group.IMHandler.Unread)
			messageGroup.GET("/conversations", group.IMHandler.Conversations)
			messageGroup.GET("/conversation/:id", group.IMHandler.ListMessages)
			messageGroup.PUT("/conversation/:id/read", group.IMHandler.MarkConversationRead)
			messageGroup.DELETE("/conversation/:id", group.IMHandler.DeleteConversation)
			messageGroup.PUT("/:id/read", group.IMHandler.MarkMessageRead)
		}
	}

	return r
}
