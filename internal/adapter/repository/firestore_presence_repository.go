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

const presenceCollection = "presence"

type firestorePresenceRepository struct {
	client *firestore.Client
}

func NewFirestorePresenceRepository(client *firestore.Client) repository.PresenceRepository {
	return &firestorePresenceRepository{
		client: client,
	}
}

func (r *firestorePresenceRepository) Set(ctx context.Context, userID string, isOnline bool) error {
	_, err := r.client.Collection(presenceCollection).Doc(userID).Set(ctx, map[string]interface{}{
		"userId":     userID,
		"isOnline":   isOnline,
		"lastActive": firestore.ServerTimestamp,
	})
	if err != nil {
		return errors.FromBackend("Failed to write presence", err)
	}
	return nil
}

func (r *firestorePresenceRepository) GetByUserID(ctx context.Context, userID string) (*entity.Presence, error) {
	doc, err := r.client.Collection(presenceCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Presence", err)
		}
		return nil, errors.FromBackend("Failed to get presence", err)
	}

	var presence entity.Presence
	if err := doc.DataTo(&presence); err != nil {
		return nil, errors.Internal("Failed to parse presence data", err)
	}
	return &presence, nil
}

func (r *firestorePresenceRepository) Subscribe(ctx context.Context, userID string, fn func(*entity.Presence)) (repository.Unsubscribe, error) {
	docRef := r.client.Collection(presenceCollection).Doc(userID)

	ctx, cancel := context.WithCancel(ctx)
	var closed atomic.Bool

	snapshots := docRef.Snapshots(ctx)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					logger.Error("Presence subscription for user %s ended: %v", userID, err)
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

			var presence entity.Presence
			if err := snap.DataTo(&presence); err != nil {
				logger.Warn("Malformed presence record for user %s: %v", userID, err)
				continue
			}
			fn(&presence)
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
