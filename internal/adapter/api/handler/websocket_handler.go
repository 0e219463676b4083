package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"gigchat/internal/domain/entity"
	ws "gigchat/internal/infrastructure/websocket"
	"gigchat/internal/usecase"
	apperrors "gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

// WebSocketHandler bridges the engine's live subscriptions to browser
// clients that have no document-store SDK of their own. Each connection
// owns its subscription handles and closes every one on teardown, so
// listener growth is bounded by open connections.
type WebSocketHandler struct {
	manager   *ws.Manager
	messaging *usecase.MessagingUseCase
	typing    *usecase.TypingUseCase
	presence  *usecase.PresenceUseCase
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Restrict in production
	},
}

func NewWebSocketHandler(manager *ws.Manager, messaging *usecase.MessagingUseCase, typing *usecase.TypingUseCase, presence *usecase.PresenceUseCase) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		messaging: messaging,
		typing:    typing,
		presence:  presence,
	}
}

// streamCommand is one inbound client frame.
type streamCommand struct {
	Action         string              `json:"action"`
	ConversationID string              `json:"conversation_id,omitempty"`
	ReceiverID     string              `json:"receiver_id,omitempty"`
	UserID         string              `json:"user_id,omitempty"`
	Content        string              `json:"content,omitempty"`
	Type           string              `json:"type,omitempty"`
	Attachments    []entity.Attachment `json:"attachments,omitempty"`
	JobID          string              `json:"job_id,omitempty"`
	ClientRef      string              `json:"client_ref,omitempty"`
}

// streamEvent is one outbound server frame.
type streamEvent struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	UserID         string      `json:"user_id,omitempty"`
	ClientRef      string      `json:"client_ref,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Error          string      `json:"error,omitempty"`
	ErrorCode      string      `json:"error_code,omitempty"`
}

// streamConn is the per-connection subscription registry.
type streamConn struct {
	h       *WebSocketHandler
	session *usecase.Session
	client  *ws.Client

	mu           sync.Mutex
	msgSubs      map[string]*usecase.MessageSubscription
	typingSubs   map[string]*usecase.TypingSubscription
	presenceSubs map[string]*usecase.PresenceSubscription
	convSub      *usecase.ConversationSubscription
}

func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID, ok := c.Get("uid").(string)
	if !ok || userID == "" {
		return apperrors.Unauthenticated("Authentication required", nil)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return apperrors.Internal("Failed to upgrade connection", err)
	}

	client := ws.NewClient(userID, conn)
	h.manager.Register <- client

	session := &usecase.Session{UserID: userID}
	sc := &streamConn{
		h:            h,
		session:      session,
		client:       client,
		msgSubs:      make(map[string]*usecase.MessageSubscription),
		typingSubs:   make(map[string]*usecase.TypingSubscription),
		presenceSubs: make(map[string]*usecase.PresenceSubscription),
	}

	// Session start doubles as presence connect; the teardown write on
	// disconnect is best effort by design.
	if err := h.presence.Connect(c.Request().Context(), session); err != nil {
		logger.Warn("Presence connect failed for %s: %v", userID, err)
	}

	sc.openConversationStream()

	go client.WritePump()
	client.ReadPump(h.manager, sc.dispatch)

	sc.teardown()
	return nil
}

func (sc *streamConn) openConversationStream() {
	sub, err := sc.h.messaging.SubscribeConversations(context.Background(), sc.session, func(conversations []*entity.Conversation) {
		sc.emit(streamEvent{Type: "conversations", Data: conversations})
	})
	if err != nil {
		logger.Error("Conversation stream failed for %s: %v", sc.session.UserID, err)
		sc.emitError("", err)
		return
	}

	sc.mu.Lock()
	sc.convSub = sub
	sc.mu.Unlock()
}

func (sc *streamConn) dispatch(raw []byte) {
	var cmd streamCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		sc.emitError("", apperrors.BadRequest("Malformed command frame", err))
		return
	}

	switch cmd.Action {
	case "send":
		sc.handleSend(cmd)
	case "subscribe_messages":
		sc.handleSubscribeMessages(cmd)
	case "unsubscribe_messages":
		sc.handleUnsubscribeMessages(cmd)
	case "mark_read":
		sc.handleMarkRead(cmd)
	case "typing":
		sc.handleTyping(cmd, true)
	case "stop_typing":
		sc.handleTyping(cmd, false)
	case "subscribe_typing":
		sc.handleSubscribeTyping(cmd)
	case "unsubscribe_typing":
		sc.handleUnsubscribeTyping(cmd)
	case "subscribe_presence":
		sc.handleSubscribePresence(cmd)
	case "unsubscribe_presence":
		sc.handleUnsubscribePresence(cmd)
	case "heartbeat":
		sc.handleHeartbeat()
	default:
		sc.emitError("", apperrors.BadRequest("Unknown action: "+cmd.Action, nil))
	}
}

// handleSend inserts an optimistic pending entry into the open message
// stream (if any), then performs the write. On failure the pending entry is
// dropped and the error surfaced - a failed send is never silent.
func (sc *streamConn) handleSend(cmd streamCommand) {
	clientRef := cmd.ClientRef
	if clientRef == "" {
		clientRef = uuid.New().String()
	}

	msgType := entity.MessageType(cmd.Type)
	if msgType == "" {
		msgType = entity.MessageTypeText
	}

	conversationID := entity.DeriveConversationID(sc.session.UserID, cmd.ReceiverID)

	sc.mu.Lock()
	msgSub := sc.msgSubs[conversationID]
	sc.mu.Unlock()

	if msgSub != nil {
		msgSub.TrackPending(&entity.Message{
			ConversationID: conversationID,
			SenderID:       sc.session.UserID,
			ReceiverID:     cmd.ReceiverID,
			Content:        cmd.Content,
			Type:           msgType,
			Attachments:    cmd.Attachments,
			JobID:          cmd.JobID,
			ClientRef:      clientRef,
		})
	}

	// Sending clears the local typing indicator.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sc.h.typing.Stop(ctx, sc.session, conversationID); err != nil {
		logger.Debug("Typing clear on send failed for %s: %v", conversationID, err)
	}

	message, err := sc.h.messaging.Send(ctx, sc.session, usecase.SendMessageInput{
		ReceiverID:  cmd.ReceiverID,
		Content:     cmd.Content,
		Type:        msgType,
		Attachments: cmd.Attachments,
		JobID:       cmd.JobID,
		ClientRef:   clientRef,
	})
	if err != nil {
		if msgSub != nil {
			msgSub.DropPending(clientRef)
		}
		sc.emitError(clientRef, err)
		return
	}

	sc.emit(streamEvent{Type: "sent", ConversationID: conversationID, ClientRef: clientRef, Data: message})
}

func (sc *streamConn) handleSubscribeMessages(cmd streamCommand) {
	conversationID := cmd.ConversationID

	sc.mu.Lock()
	if _, exists := sc.msgSubs[conversationID]; exists {
		sc.mu.Unlock()
		return
	}
	sc.mu.Unlock()

	sub, err := sc.h.messaging.SubscribeMessages(context.Background(), sc.session, conversationID, 0, func(messages []*entity.Message) {
		sc.emit(streamEvent{Type: "messages", ConversationID: conversationID, Data: messages})
	})
	if err != nil {
		sc.emitError("", err)
		return
	}

	sc.mu.Lock()
	sc.msgSubs[conversationID] = sub
	sc.mu.Unlock()
}

func (sc *streamConn) handleUnsubscribeMessages(cmd streamCommand) {
	sc.mu.Lock()
	sub := sc.msgSubs[cmd.ConversationID]
	delete(sc.msgSubs, cmd.ConversationID)
	sc.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	// The conversation view is gone; a still-armed idle timer must not fire
	// a stale clear against it.
	sc.h.typing.Release(sc.session, cmd.ConversationID)
}

func (sc *streamConn) handleMarkRead(cmd streamCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updated, err := sc.h.messaging.MarkConversationRead(ctx, sc.session, cmd.ConversationID)
	if err != nil {
		sc.emitError("", err)
		return
	}
	sc.emit(streamEvent{Type: "read", ConversationID: cmd.ConversationID, Data: map[string]int{"messages_marked": updated}})
}

func (sc *streamConn) handleTyping(cmd streamCommand, typing bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if typing {
		err = sc.h.typing.KeyPressed(ctx, sc.session, cmd.ConversationID)
	} else {
		err = sc.h.typing.Stop(ctx, sc.session, cmd.ConversationID)
	}
	if err != nil {
		sc.emitError("", err)
	}
}

func (sc *streamConn) handleSubscribeTyping(cmd streamCommand) {
	conversationID := cmd.ConversationID

	sc.mu.Lock()
	if _, exists := sc.typingSubs[conversationID]; exists {
		sc.mu.Unlock()
		return
	}
	sc.mu.Unlock()

	sub, err := sc.h.typing.Listen(context.Background(), sc.session, conversationID, cmd.UserID, func(isTyping bool) {
		sc.emit(streamEvent{Type: "typing", ConversationID: conversationID, UserID: cmd.UserID, Data: isTyping})
	})
	if err != nil {
		sc.emitError("", err)
		return
	}

	sc.mu.Lock()
	sc.typingSubs[conversationID] = sub
	sc.mu.Unlock()
}

func (sc *streamConn) handleUnsubscribeTyping(cmd streamCommand) {
	sc.mu.Lock()
	sub := sc.typingSubs[cmd.ConversationID]
	delete(sc.typingSubs, cmd.ConversationID)
	sc.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (sc *streamConn) handleSubscribePresence(cmd streamCommand) {
	userID := cmd.UserID

	sc.mu.Lock()
	if _, exists := sc.presenceSubs[userID]; exists {
		sc.mu.Unlock()
		return
	}
	sc.mu.Unlock()

	sub, err := sc.h.presence.Listen(context.Background(), sc.session, userID, func(presence *entity.Presence) {
		sc.emit(streamEvent{Type: "presence", UserID: userID, Data: presence})
	})
	if err != nil {
		sc.emitError("", err)
		return
	}

	sc.mu.Lock()
	sc.presenceSubs[userID] = sub
	sc.mu.Unlock()
}

func (sc *streamConn) handleUnsubscribePresence(cmd streamCommand) {
	sc.mu.Lock()
	sub := sc.presenceSubs[cmd.UserID]
	delete(sc.presenceSubs, cmd.UserID)
	sc.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (sc *streamConn) handleHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sc.h.presence.Heartbeat(ctx, sc.session); err != nil {
		logger.Debug("Presence heartbeat failed for %s: %v", sc.session.UserID, err)
	}
}

// teardown closes every subscription the connection opened and writes the
// best-effort offline record.
func (sc *streamConn) teardown() {
	sc.mu.Lock()
	msgSubs := sc.msgSubs
	typingSubs := sc.typingSubs
	presenceSubs := sc.presenceSubs
	convSub := sc.convSub
	sc.msgSubs = make(map[string]*usecase.MessageSubscription)
	sc.typingSubs = make(map[string]*usecase.TypingSubscription)
	sc.presenceSubs = make(map[string]*usecase.PresenceSubscription)
	sc.convSub = nil
	sc.mu.Unlock()

	for conversationID, sub := range msgSubs {
		sub.Close()
		sc.h.typing.Release(sc.session, conversationID)
	}
	for _, sub := range typingSubs {
		sub.Close()
	}
	for _, sub := range presenceSubs {
		sub.Close()
	}
	if convSub != nil {
		convSub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sc.h.presence.Disconnect(ctx, sc.session); err != nil {
		logger.Debug("Offline presence write failed for %s: %v", sc.session.UserID, err)
	}
}

func (sc *streamConn) emit(event streamEvent) {
	frame, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal stream event: %v", err)
		return
	}
	sc.h.manager.SendToUser(sc.session.UserID, frame)
}

func (sc *streamConn) emitError(clientRef string, err error) {
	event := streamEvent{Type: "error", ClientRef: clientRef, Error: err.Error()}
	var appErr *apperrors.AppError
	if e, ok := err.(*apperrors.AppError); ok {
		appErr = e
	}
	if appErr != nil {
		event.ErrorCode = appErr.Code
		event.Error = appErr.Message
	}
	sc.emit(event)
}
