package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jukebox-rooms/internal/spotify"
	"github.com/jukebox-rooms/pkg/database"
	"github.com/jukebox-rooms/pkg/jwt"
	"github.com/jukebox-rooms/pkg/models"
	"github.com/jukebox-rooms/pkg/redis"
)

const (
	stateCookie = "oauth_state"
	stateTTL    = 10 * time.Minute
)

type Handler struct {
	spotifyAuth *spotify.Auth
	tokenStore  *redis.TokenStore
	db          *database.MySQLDB
	signer      *jwt.Signer
	frontendURL string
	secure      bool
	logger      zerolog.Logger
}

func NewHandler(
	spotifyAuth *spotify.Auth,
	tokenStore *redis.TokenStore,
	db *database.MySQLDB,
	signer *jwt.Signer,
	frontendURL string,
	secure bool,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		spotifyAuth: spotifyAuth,
		tokenStore:  tokenStore,
		db:          db,
		signer:      signer,
		frontendURL: frontendURL,
		secure:      secure,
		logger:      logger.With().Str("component", "auth").Logger(),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.GET("/login", h.login)
		auth.GET("/callback", h.callback)
		auth.GET("/status", h.status)
		auth.POST("/logout", h.logout)
	}
}

func (h *Handler) login(c *gin.Context) {
	state := uuid.New().String()
	h.setCookie(c, stateCookie, state, int(stateTTL.Seconds()))
	c.JSON(http.StatusOK, gin.H{"url": h.spotifyAuth.AuthURL(state)})
}

func (h *Handler) callback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	state, _ := c.Cookie(stateCookie)
	if state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	h.setCookie(c, stateCookie, "", -1)

	ctx := c.Request.Context()

	// Exchange code for tokens
	grant, err := h.spotifyAuth.Exchange(ctx, code)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Code exchange failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not complete Spotify login"})
		return
	}

	profile, err := h.spotifyAuth.CurrentUser(ctx, grant.AccessToken)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Profile lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not load Spotify profile"})
		return
	}

	user, err := h.db.UpsertUserBySpotifyID(ctx, &models.User{
		ID:          uuid.New(),
		SpotifyID:   profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to store user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store user"})
		return
	}
	userID := user.ID.String()

	if err := h.tokenStore.Upsert(ctx, userID, grant.AccessToken, grant.TokenType, grant.ExpiresIn, grant.RefreshToken); err != nil {
		h.logger.Error().Err(err).Str("user", userID).Msg("Failed to store tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store tokens"})
		return
	}

	// Generate JWT
	jwtToken, err := h.signer.GenerateToken(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	h.setCookie(c, AuthCookie, jwtToken, 0)
	h.logger.Info().Str("user", userID).Msg("Host logged in")

	c.Redirect(http.StatusFound, h.frontendURL)
}

// status reports whether the caller is a host whose Spotify credential is
// usable right now.
func (h *Handler) status(c *gin.Context) {
	userID := UserID(c)
	if userID == "" {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	ctx := c.Request.Context()
	user, err := h.db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": h.tokenStore.EnsureFresh(ctx, userID),
		"user":          user,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if userID := UserID(c); userID != "" {
		if err := h.tokenStore.DeleteToken(c.Request.Context(), userID); err != nil {
			h.logger.Warn().Err(err).Str("user", userID).Msg("Failed to delete tokens")
		}
	}
	h.setCookie(c, AuthCookie, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setCookie(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
