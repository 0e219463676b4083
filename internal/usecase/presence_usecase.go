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

// PresenceUseCase maintains the local user's online record and lets peers
// observe each other. The offline write on disconnect is best effort - the
// process can die before it lands - so readers combine the flag with
// LastActive staleness rather than trusting it outright.
type PresenceUseCase struct {
	repo       repository.PresenceRepository
	staleAfter time.Duration
}

func NewPresenceUseCase(repo repository.PresenceRepository, staleAfter time.Duration) *PresenceUseCase {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &PresenceUseCase{
		repo:       repo,
		staleAfter: staleAfter,
	}
}

// Connect marks the user online. Call on session start.
func (uc *PresenceUseCase) Connect(ctx context.Context, session *Session) error {
	if err := session.require(); err != nil {
		return err
	}
	return uc.repo.Set(ctx, session.UserID, true)
}

// Heartbeat refreshes lastActive while the app stays foregrounded.
func (uc *PresenceUseCase) Heartbeat(ctx context.Context, session *Session) error {
	if err := session.require(); err != nil {
		return err
	}
	return uc.repo.Set(ctx, session.UserID, true)
}

// Disconnect marks the user offline, stamping lastActive. Best effort:
// failures are logged, not retried, since peers decay the record anyway.
func (uc *PresenceUseCase) Disconnect(ctx context.Context, session *Session) error {
	if err := session.require(); err != nil {
		return err
	}
	if err := uc.repo.Set(ctx, session.UserID, false); err != nil {
		logger.Warn("Failed to write offline presence for %s: %v", session.UserID, err)
		return err
	}
	return nil
}

// Get returns a peer's presence once. A user who never connected reads as
// offline.
func (uc *PresenceUseCase) Get(ctx context.Context, session *Session, userID string) (*entity.Presence, error) {
	if err := session.require(); err != nil {
		return nil, err
	}

	presence, err := uc.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, "NOT_FOUND") {
			return nil, nil
		}
		return nil, err
	}
	return presence, nil
}

// LikelyOnline applies the configured staleness window to a presence record.
func (uc *PresenceUseCase) LikelyOnline(presence *entity.Presence) bool {
	return presence.LikelyOnline(time.Now(), uc.staleAfter)
}

// PresenceSubscription is a live, cancellable view over one peer's presence.
type PresenceSubscription struct {
	mu     sync.Mutex
	closed bool
	unsub  repository.Unsubscribe
	fn     func(*entity.Presence)
}

// Listen watches userID's presence record. fn receives nil when the user has
// never connected.
func (uc *PresenceUseCase) Listen(ctx context.Context, session *Session, userID string, fn func(*entity.Presence)) (*PresenceSubscription, error) {
	if err := session.require(); err != nil {
		return nil, err
	}

	sub := &PresenceSubscription{fn: fn}

	unsub, err := uc.repo.Subscribe(ctx, userID, sub.onPresence)
	if err != nil {
		return nil, err
	}
	sub.unsub = unsub

	return sub, nil
}

func (s *PresenceSubscription) onPresence(presence *entity.Presence) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn := s.fn
	s.mu.Unlock()

	fn(presence)
}

func (s *PresenceSubscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
