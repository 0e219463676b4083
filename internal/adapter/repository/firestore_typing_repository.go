package repository

import (
	"context"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

const typingCollection = "typing"

type firestoreTypingRepository struct {
	client *firestore.Client
}

func NewFirestoreTypingRepository(client *firestore.Client) repository.TypingRepository {
	return &firestoreTypingRepository{
		client: client,
	}
}

func typingDocID(conversationID, userID string) string {
	return conversationID + "_" + userID
}

func (r *firestoreTypingRepository) Set(ctx context.Context, conversationID, userID string, isTyping bool) error {
	_, err := r.client.Collection(typingCollection).Doc(typingDocID(conversationID, userID)).Set(ctx, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"isTyping":       isTyping,
		"timestamp":      firestore.ServerTimestamp,
	})
	if err != nil {
		return errors.FromBackend("Failed to write typing indicator", err)
	}
	return nil
}

func (r *firestoreTypingRepository) Subscribe(ctx context.Context, conversationID, userID string, fn func(*entity.TypingIndicator)) (repository.Unsubscribe, error) {
	docRef := r.client.Collection(typingCollection).Doc(typingDocID(conversationID, userID))

	ctx, cancel := context.WithCancel(ctx)
	var closed atomic.Bool

	snapshots := docRef.Snapshots(ctx)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					logger.Error("Typing subscription %s ended: %v", typingDocID(conversationID, userID), err)
				}
				return
			}
			if closed.Load() {
				return
			}

			if !snap.Exists() {
				fn(nil)
				continue
			}

			var indicator entity.TypingIndicator
			if err := snap.DataTo(&indicator); err != nil {
				logger.Warn("Malformed typing indicator %s: %v", typingDocID(conversationID, userID), err)
				continue
			}
			fn(&indicator)
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
		})
	}
	return unsubscribe, nil
}
