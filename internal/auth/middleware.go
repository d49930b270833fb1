package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jukebox-rooms/pkg/jwt"
	"github.com/jukebox-rooms/pkg/redis"
)

const (
	AuthCookie    = "auth_token"
	SessionCookie = "session_id"

	userIDKey    = "user_id"
	sessionIDKey = "session_id"
)

// Identify resolves who is calling without rejecting anyone. Hosts carry a
// signed auth cookie; every browser gets a session cookie so guests can be
// told apart.
func Identify(signer *jwt.Signer, sessionTTL time.Duration, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get token from cookie or query param (for WebSocket)
		token, _ := c.Cookie(AuthCookie)
		if token == "" {
			token = strings.TrimPrefix(c.Query("token"), "Bearer ")
		}
		if token != "" {
			if claims, err := signer.ValidateToken(token); err == nil {
				c.Set(userIDKey, claims.UserID)
			}
		}

		sessionID, err := c.Cookie(SessionCookie)
		if err != nil || sessionID == "" {
			sessionID = uuid.New().String()
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     SessionCookie,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   int(sessionTTL.Seconds()),
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(sessionIDKey, sessionID)

		c.Next()
	}
}

// RequireHost lets through callers with a valid auth cookie whose Spotify
// credential is on file.
func RequireHost(tokenStore *redis.TokenStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}

		if _, err := tokenStore.GetTokens(c.Request.Context(), userID); err != nil {
			if errors.Is(err, redis.ErrTokenNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Spotify account not connected"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load credential"})
			return
		}

		c.Next()
	}
}

// UserID is the authenticated host account, or empty for guests.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// Identity is who the caller is inside a room: the host account when logged
// in, the browser session otherwise.
func Identity(c *gin.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return c.GetString(sessionIDKey)
}
