package repository

import (
	"context"

	"gigchat/internal/domain/entity"
)

type TypingRepository interface {
	// Set overwrites the (conversation, user) indicator. The backend stamps
	// the update time.
	Set(ctx context.Context, conversationID, userID string, isTyping bool) error

	// Subscribe watches the peer's indicator for one conversation. fn
	// receives nil when no indicator record exists.
	Subscribe(ctx context.Context, conversationID, userID string, fn func(*entity.TypingIndicator)) (Unsubscribe, error)
}

type PresenceRepository interface {
	Set(ctx context.Context, userID string, isOnline bool) error

	GetByUserID(ctx context.Context, userID string) (*entity.Presence, error)

	// Subscribe watches a single user's presence record. fn receives nil
	// when the user has never connected.
	Subscribe(ctx context.Context, userID string, fn func(*entity.Presence)) (Unsubscribe, error)
}
