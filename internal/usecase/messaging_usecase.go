package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

// MessagingUseCase is the client-side sync engine for 1:1 chat: sends,
// history, live message/conversation subscriptions, and read-state tracking.
// Ordering always follows the backend-assigned timestamp; client clocks are
// never trusted for ordering.
type MessagingUseCase struct {
	messageRepo repository.MessageRepository
	convRepo    repository.ConversationRepository
	pageSize    int

	// openSubs counts live subscriptions. Callers that open one must close
	// it; the counter exists so leaks are observable.
	openSubs atomic.Int64
}

func NewMessagingUseCase(messageRepo repository.MessageRepository, convRepo repository.ConversationRepository, pageSize int) *MessagingUseCase {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &MessagingUseCase{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		pageSize:    pageSize,
	}
}

type SendMessageInput struct {
	ReceiverID  string
	Content     string
	Type        entity.MessageType
	Attachments []entity.Attachment
	JobID       string

	// ClientRef correlates an optimistic pending entry with the confirmed
	// message. Generated when empty. Send is at-least-once: a retry with the
	// same ref lets subscribers drop the duplicate pending entry.
	ClientRef string
}

// Send persists a message. The store assigns id and timestamp; the
// conversation index (lastMessage, updatedAt, receiver's unread count) is
// updated in the same atomic write, so the increment is never lost. A failed
// send always returns an error - it is never silently dropped.
func (uc *MessagingUseCase) Send(ctx context.Context, session *Session, input SendMessageInput) (*entity.Message, error) {
	if err := session.require(); err != nil {
		return nil, err
	}
	if input.ReceiverID == "" {
		return nil, errors.BadRequest("Receiver is required", nil)
	}
	if input.ReceiverID == session.UserID {
		return nil, errors.BadRequest("You cannot message yourself", nil)
	}
	if input.Content == "" && len(input.Attachments) == 0 {
		return nil, errors.BadRequest("Message needs content or an attachment", nil)
	}

	msgType := input.Type
	if msgType == "" {
		msgType = entity.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, errors.BadRequest("Unknown message type", nil)
	}

	clientRef := input.ClientRef
	if clientRef == "" {
		clientRef = uuid.New().String()
	}

	message := &entity.Message{
		ConversationID: entity.DeriveConversationID(session.UserID, input.ReceiverID),
		SenderID:       session.UserID,
		ReceiverID:     input.ReceiverID,
		Content:        input.Content,
		Type:           msgType,
		Attachments:    input.Attachments,
		JobID:          input.JobID,
		ClientRef:      clientRef,
	}

	if err := uc.messageRepo.Create(ctx, message); err != nil {
		logger.Error("Send failed for conversation %s: %v", message.ConversationID, err)
		return nil, err
	}

	return message, nil
}

func (uc *MessagingUseCase) GetConversation(ctx context.Context, session *Session, conversationID string) (*entity.Conversation, error) {
	if err := uc.authorizeParticipant(session, conversationID); err != nil {
		return nil, err
	}

	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(session.UserID) {
		return nil, errors.PermissionDenied("Not a participant of this conversation", nil)
	}
	return conversation, nil
}

func (uc *MessagingUseCase) ListConversations(ctx context.Context, session *Session, limit, offset int) ([]*entity.Conversation, int64, error) {
	if err := session.require(); err != nil {
		return nil, 0, err
	}
	return uc.convRepo.ListByUser(ctx, session.UserID, limit, offset)
}

// ListMessages returns one backward page of history, oldest-first. A zero
// cursor yields the newest page; pass the timestamp and id of the oldest
// message already held to fetch the page before it. The id pins the exact
// boundary when several messages share a timestamp.
func (uc *MessagingUseCase) ListMessages(ctx context.Context, session *Session, conversationID string, limit int, before time.Time, beforeID string) ([]*entity.Message, error) {
	if err := uc.authorizeParticipant(session, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > uc.pageSize {
		limit = uc.pageSize
	}
	return uc.messageRepo.ListByConversation(ctx, conversationID, limit, before, beforeID)
}

// MarkMessageRead flips isRead on one message. Idempotent: repeating it
// leaves isRead true with no further side effects.
func (uc *MessagingUseCase) MarkMessageRead(ctx context.Context, session *Session, conversationID, messageID string) error {
	if err := uc.authorizeParticipant(session, conversationID); err != nil {
		return err
	}
	return uc.messageRepo.MarkRead(ctx, conversationID, messageID)
}

// MarkConversationRead batch-marks every unread message addressed to the
// caller and zeroes their unread counter. Invoke it when a conversation view
// becomes active and again as messages arrive while it stays active, so the
// badge never shows unread for an on-screen conversation.
func (uc *MessagingUseCase) MarkConversationRead(ctx context.Context, session *Session, conversationID string) (int, error) {
	if err := uc.authorizeParticipant(session, conversationID); err != nil {
		return 0, err
	}
	return uc.messageRepo.MarkConversationRead(ctx, conversationID, session.UserID)
}

func (uc *MessagingUseCase) authorizeParticipant(session *Session, conversationID string) error {
	if err := session.require(); err != nil {
		return err
	}
	a, b, ok := entity.ConversationParticipants(conversationID)
	if !ok {
		return errors.BadRequest("Malformed conversation id", nil)
	}
	if session.UserID != a && session.UserID != b {
		return errors.PermissionDenied("Not a participant of this conversation", nil)
	}
	return nil
}

// OpenSubscriptions reports the number of live subscriptions not yet closed.
// It should return to its prior value after every conversation screen tears
// down.
func (uc *MessagingUseCase) OpenSubscriptions() int64 {
	return uc.openSubs.Load()
}

// MessageSubscription is a live, cancellable view over one conversation's
// newest messages, merged with any optimistic pending entries. Callers must
// call Close exactly once when the conversation view goes away; Close is
// idempotent and no callback runs after it returns.
type MessageSubscription struct {
	mu        sync.Mutex
	closed    bool
	unsub     repository.Unsubscribe
	uc        *MessagingUseCase
	fn        func([]*entity.Message)
	confirmed []*entity.Message
	pending   []*entity.Message
}

// SubscribeMessages opens a push subscription over the newest pageSize
// messages of the conversation. fn receives the full merged page,
// timestamp-ascending, on every backend change and on every pending-entry
// mutation. Events are re-sorted here so delivery order never depends on
// network arrival order.
func (uc *MessagingUseCase) SubscribeMessages(ctx context.Context, session *Session, conversationID string, pageSize int, fn func([]*entity.Message)) (*MessageSubscription, error) {
	if err := uc.authorizeParticipant(session, conversationID); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = uc.pageSize
	}

	sub := &MessageSubscription{
		uc: uc,
		fn: fn,
	}

	unsub, err := uc.messageRepo.Subscribe(ctx, conversationID, pageSize, sub.onBackendPage)
	if err != nil {
		return nil, err
	}
	sub.unsub = unsub
	uc.openSubs.Add(1)

	return sub, nil
}

func (s *MessageSubscription) onBackendPage(messages []*entity.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logger.Debug("%v", errors.StaleSubscription("Message event after unsubscribe"))
		return
	}

	s.confirmed = sortMessages(messages)

	// Reconcile: a confirmed message retires the pending entry that carries
	// its client ref, so nothing renders twice.
	confirmedRefs := make(map[string]struct{}, len(s.confirmed))
	for _, m := range s.confirmed {
		if m.ClientRef != "" {
			confirmedRefs[m.ClientRef] = struct{}{}
		}
	}
	kept := s.pending[:0]
	for _, p := range s.pending {
		if _, ok := confirmedRefs[p.ClientRef]; !ok {
			kept = append(kept, p)
		}
	}
	s.pending = kept

	merged := s.merged()
	fn := s.fn
	s.mu.Unlock()

	fn(merged)
}

// TrackPending inserts an optimistic entry for a message whose send is still
// in flight. The entry is replaced by the confirmed message once the backend
// pushes it, matched by ClientRef.
func (s *MessageSubscription) TrackPending(message *entity.Message) {
	if message == nil || message.ClientRef == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for _, p := range s.pending {
		if p.ClientRef == message.ClientRef {
			s.mu.Unlock()
			return
		}
	}
	s.pending = append(s.pending, message)
	merged := s.merged()
	fn := s.fn
	s.mu.Unlock()

	fn(merged)
}

// DropPending removes an optimistic entry whose send failed, so the caller
// can surface the error without a ghost message lingering in the view.
func (s *MessageSubscription) DropPending(clientRef string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.ClientRef != clientRef {
			kept = append(kept, p)
		}
	}
	s.pending = kept
	merged := s.merged()
	fn := s.fn
	s.mu.Unlock()

	fn(merged)
}

// merged must be called with s.mu held.
func (s *MessageSubscription) merged() []*entity.Message {
	out := make([]*entity.Message, 0, len(s.confirmed)+len(s.pending))
	out = append(out, s.confirmed...)
	// Pending entries have no server timestamp yet; they trail the confirmed
	// page in track order.
	out = append(out, s.pending...)
	return out
}

// Close tears the subscription down. Idempotent; after it returns no further
// callback is delivered, including events already in flight.
func (s *MessageSubscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.uc.openSubs.Add(-1)
}

func sortMessages(messages []*entity.Message) []*entity.Message {
	out := make([]*entity.Message, len(messages))
	copy(out, messages)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ConversationSubscription is a live, cancellable view over the caller's
// conversation list, most recent first.
type ConversationSubscription struct {
	mu     sync.Mutex
	closed bool
	unsub  repository.Unsubscribe
	uc     *MessagingUseCase
	fn     func([]*entity.Conversation)
}

func (uc *MessagingUseCase) SubscribeConversations(ctx context.Context, session *Session, fn func([]*entity.Conversation)) (*ConversationSubscription, error) {
	if err := session.require(); err != nil {
		return nil, err
	}

	sub := &ConversationSubscription{
		uc: uc,
		fn: fn,
	}

	unsub, err := uc.convRepo.Subscribe(ctx, session.UserID, sub.onBackendList)
	if err != nil {
		return nil, err
	}
	sub.unsub = unsub
	uc.openSubs.Add(1)

	return sub, nil
}

func (s *ConversationSubscription) onBackendList(conversations []*entity.Conversation) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logger.Debug("%v", errors.StaleSubscription("Conversation event after unsubscribe"))
		return
	}

	out := make([]*entity.Conversation, len(conversations))
	copy(out, conversations)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	fn := s.fn
	s.mu.Unlock()

	fn(out)
}

func (s *ConversationSubscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.uc.openSubs.Add(-1)
}
