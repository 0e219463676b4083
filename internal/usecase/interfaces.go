package usecase

import (
	"context"
	"io"

	"gigchat/pkg/errors"
)

// Session is the explicit authenticated context for every messaging
// operation. It replaces any ambient current-user state so the engine stays
// testable without a live auth subsystem and so auth transitions cannot race
// in-flight operations.
type Session struct {
	UserID string
}

func (s *Session) require() error {
	if s == nil || s.UserID == "" {
		return errors.Unauthenticated("No active session", nil)
	}
	return nil
}

// SessionVerifier turns a bearer credential into a Session.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*Session, error)
}

// ObjectUploader writes a byte stream to object storage and reports the
// resolvable URL plus size and content type read back from storage, not
// trusted from the caller.
type ObjectUploader interface {
	Upload(ctx context.Context, file io.Reader, objectName, mimeType string) (url string, size int64, storedMime string, err error)
}
