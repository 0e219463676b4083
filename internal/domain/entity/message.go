package entity

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// Attachment is immutable once referenced by a persisted message. An upload
// with no subsequent send is an orphan; cleanup is an external concern.
type Attachment struct {
	ID       string `json:"id" firestore:"id"`
	Type     string `json:"type" firestore:"type"` // "image" or "file"
	URL      string `json:"url" firestore:"url"`
	FileName string `json:"file_name" firestore:"fileName"`
	FileSize int64  `json:"file_size" firestore:"fileSize"`
	MimeType string `json:"mime_type" firestore:"mimeType"`
}

// Message is the durable chat record. ID, ConversationID, SenderID and
// Timestamp are immutable once persisted; only IsRead mutates afterwards.
// Timestamp is assigned by the backend and is the authoritative ordering key.
type Message struct {
	ID             string       `json:"id" firestore:"id"`
	ConversationID string       `json:"conversation_id" firestore:"conversationId"`
	SenderID       string       `json:"sender_id" firestore:"senderId"`
	ReceiverID     string       `json:"receiver_id" firestore:"receiverId"`
	Content        string       `json:"content" firestore:"content"`
	Type           MessageType  `json:"type" firestore:"type"`
	Attachments    []Attachment `json:"attachments,omitempty" firestore:"attachments,omitempty"`
	Timestamp      time.Time    `json:"timestamp" firestore:"timestamp,serverTimestamp"`
	IsRead         bool         `json:"is_read" firestore:"isRead"`
	JobID          string       `json:"job_id,omitempty" firestore:"jobId,omitempty"`

	// ClientRef is a caller-generated correlation id. Send is at-least-once;
	// the ref lets an optimistic pending entry reconcile with the
	// backend-confirmed message instead of rendering twice.
	ClientRef string `json:"client_ref,omitempty" firestore:"clientRef,omitempty"`
}

// Pending reports whether the message has not yet been confirmed by the
// backend (no server timestamp assigned).
func (m *Message) Pending() bool {
	return m.Timestamp.IsZero()
}
