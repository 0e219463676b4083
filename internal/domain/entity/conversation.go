package entity

import (
	"strings"
	"time"
)

// conversationIDSeparator joins the two participant ids. Firebase UIDs never
// contain an underscore, so the derived key parses back unambiguously.
const conversationIDSeparator = "_"

// DeriveConversationID returns the stable key for a 1:1 thread. It is
// symmetric: DeriveConversationID(a, b) == DeriveConversationID(b, a).
// a == b still yields a deterministic id; whether self-messaging is allowed
// is the caller's policy, not this function's.
func DeriveConversationID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + conversationIDSeparator + userB
}

// ConversationParticipants parses a derived conversation id back into its
// two participant ids.
func ConversationParticipants(conversationID string) (string, string, bool) {
	parts := strings.SplitN(conversationID, conversationIDSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// MessageSnapshot is the denormalized last-message copy carried on a
// conversation record, write-through updated on every send.
type MessageSnapshot struct {
	ID        string      `json:"id" firestore:"id"`
	Content   string      `json:"content" firestore:"content"`
	SenderID  string      `json:"sender_id" firestore:"senderId"`
	Timestamp time.Time   `json:"timestamp" firestore:"timestamp"`
	Type      MessageType `json:"type" firestore:"type"`
}

// Conversation is the per-user index record for a 1:1 thread. UnreadCount
// maps participant id to the number of messages addressed to them that they
// have not read; it is never negative.
type Conversation struct {
	ID           string           `json:"id" firestore:"id"`
	Participants []string         `json:"participants" firestore:"participants"`
	JobID        string           `json:"job_id,omitempty" firestore:"jobId,omitempty"`
	LastMessage  *MessageSnapshot `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	UnreadCount  map[string]int   `json:"unread_count" firestore:"unreadCount"`
	CreatedAt    time.Time        `json:"created_at" firestore:"createdAt"`
	UpdatedAt    time.Time        `json:"updated_at" firestore:"updatedAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the peer of userID in a 1:1 conversation, or ""
// if userID is not a participant.
func (c *Conversation) OtherParticipant(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	if c.HasParticipant(userID) {
		return userID // self-conversation
	}
	return ""
}

func (c *Conversation) UnreadFor(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}
