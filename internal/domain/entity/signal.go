package entity

import "time"

// TypingIndicator is an ephemeral per-(conversation, user) flag. It always
// represents "right now": each keystroke-triggered write overwrites it and
// it is cleared after an idle timeout or on send.
type TypingIndicator struct {
	ConversationID string    `json:"conversation_id" firestore:"conversationId"`
	UserID         string    `json:"user_id" firestore:"userId"`
	IsTyping       bool      `json:"is_typing" firestore:"isTyping"`
	Timestamp      time.Time `json:"timestamp" firestore:"timestamp,serverTimestamp"`
}

// Fresh reports whether the indicator should still be trusted. Listeners
// ignore a stuck "true" whose last update is older than maxAge, as a
// defensive measure against a missed clear event.
func (t *TypingIndicator) Fresh(now time.Time, maxAge time.Duration) bool {
	return t != nil && t.IsTyping && now.Sub(t.Timestamp) <= maxAge
}

// Presence is a per-user online/last-active record. The offline write on
// disconnect is best effort (the process may be killed first), so IsOnline
// means "likely online", not a hard guarantee.
type Presence struct {
	UserID     string    `json:"user_id" firestore:"userId"`
	IsOnline   bool      `json:"is_online" firestore:"isOnline"`
	LastActive time.Time `json:"last_active" firestore:"lastActive,serverTimestamp"`
}

// LikelyOnline combines the advisory IsOnline flag with LastActive
// staleness.
func (p *Presence) LikelyOnline(now time.Time, maxIdle time.Duration) bool {
	return p != nil && p.IsOnline && now.Sub(p.LastActive) <= maxIdle
}
