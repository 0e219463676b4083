package usecase

import (
	"context"
	"sync"
	"time"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

// TypingUseCase runs the typing-indicator lifecycle for the local user and
// exposes the peer's indicator as a live boolean.
//
// Writer side, per (conversation, user): the first keystroke writes
// isTyping=true and arms an idle timer; further keystrokes re-arm the timer
// but are coalesced to at most one backend write per coalesce window, since
// a write per keystroke is not viable at scale. The timer firing, an
// explicit stop, or send clears the flag.
//
// Listener side: the indicator is advisory. A reading older than staleAfter
// is treated as false, so a missed clear event can never leave the peer
// stuck "typing".
type TypingUseCase struct {
	repo        repository.TypingRepository
	idleTimeout time.Duration
	coalesce    time.Duration
	staleAfter  time.Duration

	mu     sync.Mutex
	states map[string]*typingState
}

type typingState struct {
	conversationID string
	userID         string
	timer          *time.Timer
	lastWrite      time.Time
	active         bool
}

func NewTypingUseCase(repo repository.TypingRepository, idleTimeout, coalesce, staleAfter time.Duration) *TypingUseCase {
	if idleTimeout <= 0 {
		idleTimeout = 3 * time.Second
	}
	if coalesce <= 0 {
		coalesce = time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Second
	}
	return &TypingUseCase{
		repo:        repo,
		idleTimeout: idleTimeout,
		coalesce:    coalesce,
		staleAfter:  staleAfter,
		states:      make(map[string]*typingState),
	}
}

func typingStateKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

// KeyPressed signals a keystroke in the conversation's input field.
func (uc *TypingUseCase) KeyPressed(ctx context.Context, session *Session, conversationID string) error {
	if err := uc.authorize(session, conversationID); err != nil {
		return err
	}

	key := typingStateKey(conversationID, session.UserID)
	now := time.Now()

	uc.mu.Lock()
	st, ok := uc.states[key]
	if !ok {
		st = &typingState{conversationID: conversationID, userID: session.UserID}
		uc.states[key] = st
	}

	needWrite := !st.active || now.Sub(st.lastWrite) >= uc.coalesce
	st.active = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(uc.idleTimeout, func() {
		uc.expire(key)
	})
	if needWrite {
		st.lastWrite = now
	}
	uc.mu.Unlock()

	if !needWrite {
		return nil
	}

	if err := uc.repo.Set(ctx, conversationID, session.UserID, true); err != nil {
		// Allow the next keystroke to retry immediately.
		uc.mu.Lock()
		if st, ok := uc.states[key]; ok {
			st.lastWrite = time.Time{}
		}
		uc.mu.Unlock()
		return err
	}
	return nil
}

// Stop clears the local indicator, for message sent or input emptied.
// Idempotent.
func (uc *TypingUseCase) Stop(ctx context.Context, session *Session, conversationID string) error {
	if err := uc.authorize(session, conversationID); err != nil {
		return err
	}

	key := typingStateKey(conversationID, session.UserID)

	uc.mu.Lock()
	st, ok := uc.states[key]
	wasActive := ok && st.active
	if ok {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.active = false
	}
	uc.mu.Unlock()

	if !wasActive {
		return nil
	}
	return uc.repo.Set(ctx, conversationID, session.UserID, false)
}

// Release cancels the idle timer for a conversation being torn down, without
// writing. A timer left armed would fire a stale clear against a closed
// conversation.
func (uc *TypingUseCase) Release(session *Session, conversationID string) {
	if session == nil {
		return
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	key := typingStateKey(conversationID, session.UserID)
	if st, ok := uc.states[key]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(uc.states, key)
	}
}

// Shutdown cancels every armed idle timer.
func (uc *TypingUseCase) Shutdown() {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	for key, st := range uc.states {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(uc.states, key)
	}
}

// expire runs when the idle timer fires. The originating request context is
// long gone, so the clear is written on a background context.
func (uc *TypingUseCase) expire(key string) {
	uc.mu.Lock()
	st, ok := uc.states[key]
	if !ok || !st.active {
		uc.mu.Unlock()
		return
	}
	st.active = false
	st.timer = nil
	conversationID, userID := st.conversationID, st.userID
	uc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := uc.repo.Set(ctx, conversationID, userID, false); err != nil {
		// Best effort; listeners fall back to the staleness check.
		logger.Warn("Failed to auto-clear typing indicator for %s: %v", conversationID, err)
	}
}

func (uc *TypingUseCase) authorize(session *Session, conversationID string) error {
	if err := session.require(); err != nil {
		return err
	}
	a, b, ok := entity.ConversationParticipants(conversationID)
	if !ok {
		return errors.BadRequest("Malformed conversation id", nil)
	}
	if session.UserID != a && session.UserID != b {
		return errors.PermissionDenied("Not a participant of this conversation", nil)
	}
	return nil
}

// TypingSubscription delivers the peer's effective typing state as a
// deduplicated boolean stream.
type TypingSubscription struct {
	mu         sync.Mutex
	closed     bool
	unsub      repository.Unsubscribe
	fn         func(bool)
	last       *bool
	expiry     *time.Timer
	staleAfter time.Duration
}

// Listen watches otherUserID's indicator in the conversation. fn receives
// the initial state and every change. Indicators not refreshed within
// staleAfter read as false, including by a local timer when no newer event
// arrives, so a stuck true always decays.
func (uc *TypingUseCase) Listen(ctx context.Context, session *Session, conversationID, otherUserID string, fn func(bool)) (*TypingSubscription, error) {
	if err := uc.authorize(session, conversationID); err != nil {
		return nil, err
	}
	a, b, _ := entity.ConversationParticipants(conversationID)
	if otherUserID != a && otherUserID != b {
		return nil, errors.BadRequest("User is not a participant of this conversation", nil)
	}

	sub := &TypingSubscription{
		fn:         fn,
		staleAfter: uc.staleAfter,
	}

	unsub, err := uc.repo.Subscribe(ctx, conversationID, otherUserID, sub.onIndicator)
	if err != nil {
		return nil, err
	}
	sub.unsub = unsub

	return sub, nil
}

func (s *TypingSubscription) onIndicator(indicator *entity.TypingIndicator) {
	now := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	effective := indicator.Fresh(now, s.staleAfter)

	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if effective {
		remaining := s.staleAfter - now.Sub(indicator.Timestamp)
		s.expiry = time.AfterFunc(remaining, s.onExpiry)
	}

	changed := s.last == nil || *s.last != effective
	s.last = &effective
	fn := s.fn
	s.mu.Unlock()

	if changed {
		fn(effective)
	}
}

func (s *TypingSubscription) onExpiry() {
	s.mu.Lock()
	if s.closed || s.last == nil || !*s.last {
		s.mu.Unlock()
		return
	}
	effective := false
	s.last = &effective
	s.expiry = nil
	fn := s.fn
	s.mu.Unlock()

	fn(false)
}

// Close is idempotent; no callback runs after it returns.
func (s *TypingSubscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	unsub := s.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
