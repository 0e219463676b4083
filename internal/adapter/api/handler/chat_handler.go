package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"gigchat/internal/adapter/api/middleware"
	"gigchat/internal/domain/entity"
	"gigchat/internal/usecase"
	"gigchat/pkg/logger"
	"gigchat/pkg/response"
	"gigchat/pkg/utils"
)

type ChatHandler struct {
	messaging *usecase.MessagingUseCase
	typing    *usecase.TypingUseCase
	presence  *usecase.PresenceUseCase
}

func NewChatHandler(messaging *usecase.MessagingUseCase, typing *usecase.TypingUseCase, presence *usecase.PresenceUseCase) *ChatHandler {
	return &ChatHandler{
		messaging: messaging,
		typing:    typing,
		presence:  presence,
	}
}

type sendMessageRequest struct {
	ReceiverID  string              `json:"receiver_id" validate:"required"`
	Content     string              `json:"content"`
	Type        string              `json:"type" validate:"omitempty,oneof=text image file"`
	Attachments []entity.Attachment `json:"attachments,omitempty"`
	JobID       string              `json:"job_id,omitempty"`
	ClientRef   string              `json:"client_ref,omitempty"`
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

// SendMessage persists a message addressed to another user.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	session := middleware.SessionFromContext(c)

	// Sending transitions the sender's typing indicator to idle; best effort.
	if session != nil && req.ReceiverID != "" {
		conversationID := entity.DeriveConversationID(session.UserID, req.ReceiverID)
		if err := h.typing.Stop(c.Request().Context(), session, conversationID); err != nil {
			logger.Debug("Typing clear on send failed for %s: %v", conversationID, err)
		}
	}

	message, err := h.messaging.Send(c.Request().Context(), session, usecase.SendMessageInput{
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		Type:        entity.MessageType(req.Type),
		Attachments: req.Attachments,
		JobID:       req.JobID,
		ClientRef:   req.ClientRef,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// GetConversations returns the caller's conversation list, most recent
// first.
func (h *ChatHandler) GetConversations(c echo.Context) error {
	session := middleware.SessionFromContext(c)
	params := utils.GetPaginationParams(c)

	conversations, total, err := h.messaging.ListConversations(c.Request().Context(), session, params.PageSize, params.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Paginated(c, conversations, total, params.Page, params.PageSize)
}

func (h *ChatHandler) GetConversation(c echo.Context) error {
	session := middleware.SessionFromContext(c)

	conversation, err := h.messaging.GetConversation(c.Request().Context(), session, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// GetMessages serves one backward page of history for the initial backfill;
// the live stream takes over from there.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	session := middleware.SessionFromContext(c)

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	before := utils.GetCursorParam(c)
	beforeID := c.QueryParam("before_id")

	messages, err := h.messaging.ListMessages(c.Request().Context(), session, c.Param("id"), limit, before, beforeID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, messages)
}

func (h *ChatHandler) MarkConversationRead(c echo.Context) error {
	session := middleware.SessionFromContext(c)

	updated, err := h.messaging.MarkConversationRead(c.Request().Context(), session, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"messages_marked": updated})
}

func (h *ChatHandler) MarkMessageRead(c echo.Context) error {
	session := middleware.SessionFromContext(c)

	if err := h.messaging.MarkMessageRead(c.Request().Context(), session, c.Param("id"), c.Param("messageId")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]bool{"is_read": true})
}

// Typing signals a keystroke (typing=true) or an emptied input
// (typing=false) in the conversation.
func (h *ChatHandler) Typing(c echo.Context) error {
	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	session := middleware.SessionFromContext(c)
	conversationID := c.Param("id")

	var err error
	if req.Typing {
		err = h.typing.KeyPressed(c.Request().Context(), session, conversationID)
	} else {
		err = h.typing.Stop(c.Request().Context(), session, conversationID)
	}
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]bool{"typing": req.Typing})
}

// GetPresence returns a one-shot presence reading along with the staleness
// verdict.
func (h *ChatHandler) GetPresence(c echo.Context) error {
	session := middleware.SessionFromContext(c)

	presence, err := h.presence.Get(c.Request().Context(), session, c.Param("userId"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"presence":      presence,
		"likely_online": h.presence.LikelyOnline(presence),
	})
}
