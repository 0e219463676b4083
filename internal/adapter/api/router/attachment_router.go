package router

import (
	"github.com/labstack/echo/v4"

	"gigchat/internal/adapter/api/handler"
	"gigchat/internal/adapter/api/middleware"
)

func SetupAttachmentRouter(e *echo.Echo, attachmentHandler *handler.AttachmentHandler, authMiddleware *middleware.AuthMiddleware) {
	attachmentGroup := e.Group("/v1/attachments")
	attachmentGroup.Use(authMiddleware.Authenticate)

	attachmentGroup.POST("", attachmentHandler.Upload) // POST /v1/attachments - Upload before send
}
