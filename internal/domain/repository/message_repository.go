package repository

import (
	"context"
	"time"

	"gigchat/internal/domain/entity"
)

// Unsubscribe tears down a live query. It is idempotent and releases the
// backend listener; no callback runs after it returns.
type Unsubscribe func()

type MessageRepository interface {
	// Create persists the message and, in the same atomic write, updates the
	// conversation index record: lastMessage snapshot, updatedAt, and an
	// atomic increment of unreadCount for the receiver. The store assigns
	// the id (if empty) and the timestamp.
	Create(ctx context.Context, message *entity.Message) error

	GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error)

	// ListByConversation returns up to limit messages in timestamp-ascending
	// order. A non-zero before cursor pages backward through history;
	// beforeID pins the exact boundary document so messages sharing the
	// cursor timestamp are not skipped.
	ListByConversation(ctx context.Context, conversationID string, limit int, before time.Time, beforeID string) ([]*entity.Message, error)

	// MarkRead flips isRead on a single message. Idempotent.
	MarkRead(ctx context.Context, conversationID, messageID string) error

	// MarkConversationRead flips isRead on every unread message addressed to
	// userID and zeroes unreadCount[userID] on the conversation record in a
	// single atomic batch. Returns the number of messages flipped.
	MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error)

	// Subscribe opens a live query over the newest limit messages of the
	// conversation. fn receives the full current page, timestamp-ascending,
	// once immediately and then on every change (insert or field mutation).
	Subscribe(ctx context.Context, conversationID string, limit int, fn func([]*entity.Message)) (Unsubscribe, error)
}
