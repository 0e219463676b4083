package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

const conversationsCollection = "conversations"
const messagesCollection = "messages"

// markReadBatchLimit stays under Firestore's 500-write batch cap, leaving
// room for the unread counter reset in the final batch.
const markReadBatchLimit = 400

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

func (r *firestoreMessageRepository) conversationRef(conversationID string) *firestore.DocumentRef {
	return r.client.Collection(conversationsCollection).Doc(conversationID)
}

func (r *firestoreMessageRepository) messageRef(conversationID, messageID string) *firestore.DocumentRef {
	return r.conversationRef(conversationID).Collection(messagesCollection).Doc(messageID)
}

// Create writes the message and the conversation index mutation in one
// atomic batch: either the message, the lastMessage snapshot and the unread
// increment all land, or none do. The increment uses a server-side transform
// so concurrent senders never lose a count.
func (r *firestoreMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	batch := r.client.Batch()
	batch.Set(r.messageRef(message.ConversationID, message.ID), message)

	indexUpdate := map[string]interface{}{
		"id":           message.ConversationID,
		"participants": []string{message.SenderID, message.ReceiverID},
		"lastMessage": map[string]interface{}{
			"id":        message.ID,
			"content":   message.Content,
			"senderId":  message.SenderID,
			"timestamp": firestore.ServerTimestamp,
			"type":      string(message.Type),
		},
		"updatedAt": firestore.ServerTimestamp,
		"unreadCount": map[string]interface{}{
			message.ReceiverID: firestore.Increment(1),
		},
	}
	if message.JobID != "" {
		indexUpdate["jobId"] = message.JobID
	}
	batch.Set(r.conversationRef(message.ConversationID), indexUpdate, firestore.MergeAll)

	if _, err := batch.Commit(ctx); err != nil {
		return errors.FromBackend("Failed to send message", err)
	}

	return nil
}

func (r *firestoreMessageRepository) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	doc, err := r.messageRef(conversationID, messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.FromBackend("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	return &message, nil
}

func (r *firestoreMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int, before time.Time, beforeID string) ([]*entity.Message, error) {
	query := r.conversationRef(conversationID).Collection(messagesCollection).
		OrderBy("timestamp", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if !before.IsZero() {
		// Cursor on both sort keys: a timestamp-only cursor would skip
		// messages sharing the boundary timestamp.
		if beforeID != "" {
			query = query.StartAfter(before, beforeID)
		} else {
			query = query.StartAfter(before)
		}
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching messages for conversation %s: %v", conversationID, err)
		return nil, errors.FromBackend("Failed to fetch messages", err)
	}

	// Fetched newest-first for the cursor; returned oldest-first.
	messages := make([]*entity.Message, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		var message entity.Message
		if err := docs[i].DataTo(&message); err != nil {
			logger.Warn("Skipping malformed message in conversation %s: %v", conversationID, err)
			continue
		}
		messages = append(messages, &message)
	}

	return messages, nil
}

func (r *firestoreMessageRepository) MarkRead(ctx context.Context, conversationID, messageID string) error {
	_, err := r.messageRef(conversationID, messageID).Update(ctx, []firestore.Update{
		{Path: "isRead", Value: true},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Message", err)
		}
		return errors.FromBackend("Failed to mark message read", err)
	}
	return nil
}

// MarkConversationRead batch-flips every unread incoming message and zeroes
// the caller's unread counter. The counter reset rides the final batch so a
// partial failure never leaves the counter at zero with unread messages
// still flagged.
func (r *firestoreMessageRepository) MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error) {
	query := r.conversationRef(conversationID).Collection(messagesCollection).
		Where("receiverId", "==", userID).
		Where("isRead", "==", false)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.FromBackend("Failed to fetch unread messages", err)
	}

	counterReset := []firestore.Update{
		{FieldPath: firestore.FieldPath{"unreadCount", userID}, Value: 0},
	}

	for start := 0; start < len(docs); start += markReadBatchLimit {
		end := start + markReadBatchLimit
		if end > len(docs) {
			end = len(docs)
		}

		batch := r.client.Batch()
		for _, doc := range docs[start:end] {
			batch.Update(doc.Ref, []firestore.Update{{Path: "isRead", Value: true}})
		}
		if end == len(docs) {
			batch.Update(r.conversationRef(conversationID), counterReset)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return 0, errors.FromBackend("Failed to mark conversation read", err)
		}
	}

	if len(docs) == 0 {
		// Nothing unread; still reset the counter so a drifted index heals.
		if _, err := r.conversationRef(conversationID).Update(ctx, counterReset); err != nil {
			if status.Code(err) != codes.NotFound {
				return 0, errors.FromBackend("Failed to reset unread count", err)
			}
		}
	}

	return len(docs), nil
}

func (r *firestoreMessageRepository) Subscribe(ctx context.Context, conversationID string, limit int, fn func([]*entity.Message)) (repository.Unsubscribe, error) {
	query := r.conversationRef(conversationID).Collection(messagesCollection).
		OrderBy("timestamp", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	ctx, cancel := context.WithCancel(ctx)
	var closed atomic.Bool

	snapshots := query.Snapshots(ctx)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					logger.Error("Message subscription for conversation %s ended: %v", conversationID, err)
				}
				return
			}
			// A snapshot already in flight can race the unsubscribe; drop it.
			if closed.Load() {
				logger.Debug("Discarding stale message snapshot for conversation %s", conversationID)
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				logger.Error("Failed to read message snapshot for conversation %s: %v", conversationID, err)
				continue
			}

			messages := make([]*entity.Message, 0, len(docs))
			for i := len(docs) - 1; i >= 0; i-- {
				var message entity.Message
				if err := docs[i].DataTo(&message); err != nil {
					logger.Warn("Skipping malformed message in conversation %s: %v", conversationID, err)
					continue
				}
				messages = append(messages, &message)
			}

			if closed.Load() {
				return
			}
			fn(messages)
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
