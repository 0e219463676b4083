package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveConversationIDSymmetry(t *testing.T) {
	users := []string{"1", "2", "alice", "bob", "zz9", "AbC", "u_x"}

	for _, a := range users {
		for _, b := range users {
			assert.Equal(t, DeriveConversationID(a, b), DeriveConversationID(b, a),
				"derivation must be symmetric for (%s, %s)", a, b)
		}
	}
}

func TestDeriveConversationIDSortsLexicographically(t *testing.T) {
	assert.Equal(t, "1_2", DeriveConversationID("1", "2"))
	assert.Equal(t, "1_2", DeriveConversationID("2", "1"))
	assert.Equal(t, "alice_bob", DeriveConversationID("bob", "alice"))
}

func TestDeriveConversationIDSelf(t *testing.T) {
	// Deterministic even for a == b; whether self-messaging is allowed is
	// the caller's policy.
	assert.Equal(t, "u1_u1", DeriveConversationID("u1", "u1"))
}

func TestConversationParticipants(t *testing.T) {
	a, b, ok := ConversationParticipants("1_2")
	assert.True(t, ok)
	assert.Equal(t, "1", a)
	assert.Equal(t, "2", b)

	_, _, ok = ConversationParticipants("loneid")
	assert.False(t, ok)

	_, _, ok = ConversationParticipants("_b")
	assert.False(t, ok)
}

func TestConversationHasParticipant(t *testing.T) {
	conv := &Conversation{Participants: []string{"1", "2"}}

	assert.True(t, conv.HasParticipant("1"))
	assert.False(t, conv.HasParticipant("3"))
	assert.Equal(t, "2", conv.OtherParticipant("1"))
	assert.Equal(t, "", conv.OtherParticipant("3"))
}

func TestConversationUnreadFor(t *testing.T) {
	conv := &Conversation{UnreadCount: map[string]int{"2": 3}}

	assert.Equal(t, 3, conv.UnreadFor("2"))
	assert.Equal(t, 0, conv.UnreadFor("1"))

	var empty Conversation
	assert.Equal(t, 0, empty.UnreadFor("1"))
}

func TestTypingIndicatorFresh(t *testing.T) {
	now := time.Now()

	fresh := &TypingIndicator{IsTyping: true, Timestamp: now.Add(-2 * time.Second)}
	assert.True(t, fresh.Fresh(now, 5*time.Second))

	stale := &TypingIndicator{IsTyping: true, Timestamp: now.Add(-6 * time.Second)}
	assert.False(t, stale.Fresh(now, 5*time.Second))

	cleared := &TypingIndicator{IsTyping: false, Timestamp: now}
	assert.False(t, cleared.Fresh(now, 5*time.Second))

	var missing *TypingIndicator
	assert.False(t, missing.Fresh(now, 5*time.Second))
}

func TestPresenceLikelyOnline(t *testing.T) {
	now := time.Now()

	active := &Presence{IsOnline: true, LastActive: now.Add(-time.Minute)}
	assert.True(t, active.LikelyOnline(now, 5*time.Minute))

	// isOnline=true is advisory; a dead client that never wrote its offline
	// record decays through lastActive.
	ghost := &Presence{IsOnline: true, LastActive: now.Add(-time.Hour)}
	assert.False(t, ghost.LikelyOnline(now, 5*time.Minute))

	offline := &Presence{IsOnline: false, LastActive: now}
	assert.False(t, offline.LikelyOnline(now, 5*time.Minute))

	var missing *Presence
	assert.False(t, missing.LikelyOnline(now, 5*time.Minute))
}

func TestMessagePending(t *testing.T) {
	pending := &Message{Content: "hi"}
	assert.True(t, pending.Pending())

	confirmed := &Message{Content: "hi", Timestamp: time.Now()}
	assert.False(t, confirmed.Pending())
}
