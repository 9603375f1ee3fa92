package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahmedmanch666/slam/internal/middleware"
	"github.com/ahmedmanch666/slam/internal/service"
)

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{service.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
	{service.ErrMissingToken, http.StatusBadRequest, "missing_token"},
	{service.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{service.ErrTokenRevokedOrExpired, http.StatusUnauthorized, "token_revoked_or_expired"},
	{service.ErrUserNotFound, http.StatusUnauthorized, "user_not_found"},
}

// writeError maps service errors to status codes. Anything unrecognised is
// logged and reported as internal_error without detail.
func (h HandlerSet) writeError(c *gin.Context, err error) {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			c.JSON(entry.status, gin.H{"error": entry.code})
			return
		}
	}

	h.log.Error().
		Err(err).
		Str("path", c.Request.URL.Path).
		Str("request_id", middleware.RequestIDFrom(c)).
		Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func invalidJSON(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
}
