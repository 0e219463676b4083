package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"gigchat/internal/usecase"
	"gigchat/pkg/errors"
)

// AuthClient adapts Firebase Auth to the engine's session contract. The
// engine never holds ambient auth state; every operation receives the
// Session this client produces.
type AuthClient struct {
	client *auth.Client
}

func NewAuthClient(client *auth.Client) *AuthClient {
	return &AuthClient{
		client: client,
	}
}

func (a *AuthClient) VerifySession(ctx context.Context, idToken string) (*usecase.Session, error) {
	token, err := a.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, errors.Unauthenticated("Invalid or expired token", err)
	}
	return &usecase.Session{UserID: token.UID}, nil
}
