package handler

import (
	ws "gigchat/internal/infrastructure/websocket"
	"gigchat/internal/usecase"
)

var (
	chatHandler       *ChatHandler
	attachmentHandler *AttachmentHandler
	websocketHandler  *WebSocketHandler
	healthHandler     *HealthHandler
)

func Setup(
	messaging *usecase.MessagingUseCase,
	typing *usecase.TypingUseCase,
	presence *usecase.PresenceUseCase,
	attachments *usecase.AttachmentUseCase,
	manager *ws.Manager,
) {
	chatHandler = NewChatHandler(messaging, typing, presence)
	attachmentHandler = NewAttachmentHandler(attachments)
	websocketHandler = NewWebSocketHandler(manager, messaging, typing, presence)
	healthHandler = NewHealthHandler()
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetAttachmentHandler() *AttachmentHandler {
	return attachmentHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return websocketHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
