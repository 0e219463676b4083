package router

import (
	"github.com/labstack/echo/v4"

	"gigchat/internal/adapter/api/handler"
	"gigchat/internal/adapter/api/middleware"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	SetupChatRouter(e, handler.GetChatHandler(), authMiddleware)
	SetupAttachmentRouter(e, handler.GetAttachmentHandler(), authMiddleware)
	SetupWebSocketRouter(e, handler.GetWebSocketHandler(), authMiddleware)
	SetupHealthRouter(e, handler.GetHealthHandler())
}
