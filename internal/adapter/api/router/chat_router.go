package router

import (
	"github.com/labstack/echo/v4"

	"gigchat/internal/adapter/api/handler"
	"gigchat/internal/adapter/api/middleware"
)

// SetupChatRouter wires the messaging REST surface (excluding the websocket
// stream).
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	messageGroup := e.Group("/v1/messages")
	messageGroup.Use(authMiddleware.Authenticate)
	messageGroup.POST("", chatHandler.SendMessage) // POST /v1/messages - Send message

	conversationGroup := e.Group("/v1/conversations")
	conversationGroup.Use(authMiddleware.Authenticate)

	conversationGroup.GET("", chatHandler.GetConversations)
	conversationGroup.GET("/:id", chatHandler.GetConversation)
	conversationGroup.GET("/:id/messages", chatHandler.GetMessages)
	conversationGroup.PUT("/:id/read", chatHandler.MarkConversationRead)
	conversationGroup.PUT("/:id/messages/:messageId/read", chatHandler.MarkMessageRead)
	conversationGroup.POST("/:id/typing", chatHandler.Typing)

	presenceGroup := e.Group("/v1/presence")
	presenceGroup.Use(authMiddleware.Authenticate)
	presenceGroup.GET("/:userId", chatHandler.GetPresence)
}
