package repository

import (
	"context"

	"gigchat/internal/domain/entity"
)

type ConversationRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)

	// ListByUser returns conversations where userID is a participant,
	// ordered by updatedAt descending.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error)

	// Subscribe opens a live query over the user's conversation list. fn
	// receives the full list, most recent first, once immediately and then
	// on every index mutation.
	Subscribe(ctx context.Context, userID string, fn func([]*entity.Conversation)) (Unsubscribe, error)
}
