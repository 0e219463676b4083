package router

import (
	"github.com/labstack/echo/v4"

	"gigchat/internal/adapter/api/handler"
	"gigchat/internal/adapter/api/middleware"
)

func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	// The live stream: conversations, messages, typing, presence.
	e.GET("/ws", wsHandler.HandleWebSocket, authMiddleware.Authenticate)
}
