package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jukebox-rooms/pkg/models"
)

const defaultRefreshGrace = 30 * time.Second

var (
	ErrTokenNotFound        = errors.New("token not found")
	ErrIncompleteCredential = errors.New("credential needs an access token and a positive lifetime")
	ErrNoRefreshToken       = errors.New("no refresh token stored")
)

// TokenInfo is the stored OAuth credential of one host.
type TokenInfo struct {
	OwnerID      string    `json:"owner_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Refresher performs the refresh_token grant against the provider.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*models.TokenGrant, error)
}

type TokenStore struct {
	client    *redis.Client
	refresher Refresher
	logger    zerolog.Logger
	now       func() time.Time
	grace     time.Duration
	inflight  singleflight.Group
}

type TokenStoreOption func(*TokenStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenStoreOption {
	return func(s *TokenStore) { s.now = now }
}

// WithRefreshGrace refreshes tokens that expire within d.
func WithRefreshGrace(d time.Duration) TokenStoreOption {
	return func(s *TokenStore) { s.grace = d }
}

// NewTokenStore creates a new token store with the given Redis client
func NewTokenStore(client *redis.Client, refresher Refresher, logger zerolog.Logger, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		client:    client,
		refresher: refresher,
		logger:    logger.With().Str("component", "token_store").Logger(),
		now:       time.Now,
		grace:     defaultRefreshGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func tokenKey(ownerID string) string {
	return fmt.Sprintf("token:%s", ownerID)
}

// StoreTokens writes the whole credential in a single SET.
func (s *TokenStore) StoreTokens(ctx context.Context, ownerID string, token *TokenInfo) error {
	if token.AccessToken == "" || token.ExpiresAt.IsZero() {
		return ErrIncompleteCredential
	}
	token.OwnerID = ownerID

	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := s.client.Set(ctx, tokenKey(ownerID), tokenJSON, 0).Err(); err != nil { // 0 means no expiration
		return fmt.Errorf("failed to store token: %w", err)
	}

	return nil
}

// GetTokens retrieves the host's credential from Redis
func (s *TokenStore) GetTokens(ctx context.Context, ownerID string) (*TokenInfo, error) {
	tokenJSON, err := s.client.Get(ctx, tokenKey(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token TokenInfo
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

// DeleteToken removes the host's credential from Redis
func (s *TokenStore) DeleteToken(ctx context.Context, ownerID string) error {
	return s.client.Del(ctx, tokenKey(ownerID)).Err()
}

// Upsert stores a credential from a token grant. expiresIn is relative to now;
// an empty refreshToken keeps the stored one.
func (s *TokenStore) Upsert(ctx context.Context, ownerID, accessToken, tokenType string, expiresIn int, refreshToken string) error {
	if accessToken == "" || expiresIn <= 0 {
		return ErrIncompleteCredential
	}

	if refreshToken == "" {
		existing, err := s.GetTokens(ctx, ownerID)
		if err != nil && !errors.Is(err, ErrTokenNotFound) {
			return err
		}
		if existing != nil {
			refreshToken = existing.RefreshToken
		}
	}

	return s.StoreTokens(ctx, ownerID, &TokenInfo{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresAt:    s.now().Add(time.Duration(expiresIn) * time.Second).UTC(),
	})
}

// EnsureFresh reports whether the host has a usable access token, refreshing
// it first when it has expired or is about to. A failed refresh leaves the
// stored credential untouched.
func (s *TokenStore) EnsureFresh(ctx context.Context, ownerID string) bool {
	token, err := s.GetTokens(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, ErrTokenNotFound) {
			s.logger.Warn().Err(err).Str("owner", ownerID).Msg("Failed to load token")
		}
		return false
	}

	if s.fresh(token) {
		return true
	}

	// concurrent callers for the same owner share one refresh
	_, err, _ = s.inflight.Do(ownerID, func() (interface{}, error) {
		return nil, s.refresh(context.WithoutCancel(ctx), ownerID)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("owner", ownerID).Msg("Token refresh failed")
		return false
	}
	return true
}

func (s *TokenStore) fresh(token *TokenInfo) bool {
	return token.AccessToken != "" && s.now().Add(s.grace).Before(token.ExpiresAt)
}

func (s *TokenStore) refresh(ctx context.Context, ownerID string) error {
	// another instance may have refreshed since the caller looked
	token, err := s.GetTokens(ctx, ownerID)
	if err != nil {
		return err
	}
	if s.fresh(token) {
		return nil
	}
	if token.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	grant, err := s.refresher.RefreshToken(ctx, token.RefreshToken)
	if err != nil {
		return err
	}

	if err := s.Upsert(ctx, ownerID, grant.AccessToken, grant.TokenType, grant.ExpiresIn, grant.RefreshToken); err != nil {
		return err
	}

	s.logger.Debug().Str("owner", ownerID).Int("expires_in", grant.ExpiresIn).Msg("Token refreshed")
	return nil
}
