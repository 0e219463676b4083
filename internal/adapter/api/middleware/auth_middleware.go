package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"gigchat/internal/usecase"
)

// AuthMiddleware resolves a bearer credential into the explicit Session that
// every messaging operation requires.
type AuthMiddleware struct {
	verifier usecase.SessionVerifier
}

func NewAuthMiddleware(verifier usecase.SessionVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			// Browsers cannot set headers on websocket upgrades; allow the
			// token as a query parameter on those requests.
			token = c.QueryParam("token")
		}
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization is required")
		}

		session, err := m.verifier.VerifySession(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set("session", session)
		c.Set("uid", session.UserID)

		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// SessionFromContext returns the Session placed by Authenticate, or nil.
func SessionFromContext(c echo.Context) *usecase.Session {
	session, _ := c.Get("session").(*usecase.Session)
	return session
}
