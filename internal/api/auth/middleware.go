package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ContextKey represents keys for context values
type ContextKey string

const ReviewerContextKey ContextKey = "reviewer_id"

// RequireReviewer rejects requests without a valid bearer token and stores
// the token subject as the reviewer id.
func RequireReviewer(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			reviewerID, err := tokenService.ValidateToken(tokenParts[1])
			if err != nil {
				log.Debug().Err(err).Str("remote_ip", c.RealIP()).Msg("Rejected reviewer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(ReviewerContextKey), reviewerID)
			return next(c)
		}
	}
}

// ReviewerID returns the reviewer id set by RequireReviewer.
func ReviewerID(c echo.Context) (string, bool) {
	id, ok := c.Get(string(ReviewerContextKey)).(string)
	return id, ok && id != ""
}
