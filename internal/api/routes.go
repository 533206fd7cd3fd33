package api

import (
	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/KaifLake/internal/handler"
	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	"github.com/Gopher0727/KaifLake/utils/ratelimit"
)

// Handlers groups the HTTP handlers mounted by SetupRoutes.
type Handlers struct {
	Auth    *handler.AuthHandler
	User    *handler.UserHandler
	Chat    *handler.ChatHandler
	Message *handler.MessageHandler
	Media   *handler.MediaHandler
}

// SetupRoutes 设置所有路由
func SetupRoutes(r *gin.Engine, mw *MiddlewareManager, h *Handlers, m *metrics.Metrics) {
	// 应用全局中间件. Recovery 在 Logger 之内, 保证 panic 也会记录 500
	r.Use(mw.RequestID(), mw.Logger(), mw.Recovery(), mw.CORS(), mw.Metrics())

	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	api.GET("/health", handler.Health)

	RegisterAuthRoutes(api, mw, h.Auth)

	protected := api.Group("")
	protected.Use(mw.JWTAuth())
	RegisterUserRoutes(protected, mw, h.User)
	RegisterChatRoutes(protected, mw, h.Chat)
	RegisterMessageRoutes(protected, mw, h.Message)
	protected.POST("/media", mw.RateLimiterByEndpoint(ratelimit.EndpointAPI), h.Media.Upload) // 上传媒体
}

func RegisterAuthRoutes(api *gin.RouterGroup, mw *MiddlewareManager, authHandler *handler.AuthHandler) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", mw.RateLimiterByEndpoint(ratelimit.EndpointRegister), authHandler.Register) // 注册
		auth.POST("/login", mw.RateLimiterByEndpoint(ratelimit.EndpointLogin), authHandler.Login)          // 登录
		auth.POST("/logout", mw.JWTAuth(), authHandler.Logout)                                             // 登出
	}
}

func RegisterUserRoutes(protected *gin.RouterGroup, mw *MiddlewareManager, userHandler *handler.UserHandler) {
	users := protected.Group("/users")
	users.Use(mw.RateLimiterByEndpoint(ratelimit.EndpointAPI))
	{
		users.GET("/me", userHandler.GetMe)                 // 获取当前用户信息
		users.PUT("/me", userHandler.UpdateMe)              // 更新昵称、简介、头像
		users.GET("/me/contacts", userHandler.ListContacts) // 联系人列表
		users.POST("/me/contacts", userHandler.AddContact)  // 添加联系人
		users.GET("/search", userHandler.Search)            // 搜索用户
		users.GET("/:id", userHandler.GetUser)              // 公开资料
	}
}

func RegisterChatRoutes(protected *gin.RouterGroup, mw *MiddlewareManager, chatHandler *handler.ChatHandler) {
	chats := protected.Group("/chats")
	chats.Use(mw.RateLimiterByEndpoint(ratelimit.EndpointAPI))
	{
		chats.GET("", chatHandler.ListChats)
		chats.POST("", chatHandler.CreateChat)
		chats.GET("/:id", chatHandler.GetChat)
		chats.POST("/:id/read", chatHandler.MarkRead) // 已读游标
	}
}

func RegisterMessageRoutes(protected *gin.RouterGroup, mw *MiddlewareManager, messageHandler *handler.MessageHandler) {
	messages := protected.Group("/messages")
	{
		messages.GET("", mw.RateLimiterByEndpoint(ratelimit.EndpointAPI), messageHandler.ListMessages) // 分页拉取历史消息
		messages.POST("", mw.RateLimiterByEndpoint(ratelimit.EndpointMessage), messageHandler.SendMessage)
		messages.PUT("/:id", mw.RateLimiterByEndpoint(ratelimit.EndpointMessage), messageHandler.EditMessage)
		messages.DELETE("/:id", mw.RateLimiterByEndpoint(ratelimit.EndpointMessage), messageHandler.DeleteMessage)
		messages.POST("/:id/reactions", mw.RateLimiterByEndpoint(ratelimit.EndpointMessage), messageHandler.ToggleReaction)
	}
}
