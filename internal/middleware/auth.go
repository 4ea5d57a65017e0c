package middleware

import (
	"net/http"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"chapterfin/internal/services"
)

const callerContextKey = "caller"

// RequireAuth verifies the Firebase session cookie and resolves the
// verified identity to a chapter member, placing a services.Caller in the
// request context for the handlers.
func RequireAuth(authClient *auth.Client, members services.MemberStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authClient == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "auth not configured")
			}

			cookie, err := c.Cookie("session")
			if err != nil || cookie.Value == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session")
			}

			decodedToken, err := authClient.VerifySessionCookie(c.Request().Context(), cookie.Value)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
			}

			email, _ := decodedToken.Claims["email"].(string)
			if email == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "session carries no email")
			}

			member, err := members.ByEmail(c.Request().Context(), email)
			if err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "no member for this identity")
			}

			c.Set(callerContextKey, services.Caller{
				MemberID:  member.ID,
				ChapterID: member.ChapterID,
				Role:      member.Role,
			})
			return next(c)
		}
	}
}

// CallerFrom extracts the verified caller placed by RequireAuth
func CallerFrom(c echo.Context) services.Caller {
	if caller, ok := c.Get(callerContextKey).(services.Caller); ok {
		return caller
	}
	return services.Caller{}
}
