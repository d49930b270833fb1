package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jukebox-rooms/pkg/models"
)

const (
	defaultAccountsURL = "https://accounts.spotify.com"
	defaultAPIURL      = "https://api.spotify.com/v1"

	maxBodyBytes = 1 << 20
)

var scopes = []string{
	"user-read-private",
	"user-read-email",
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
}

type endpoints struct {
	accountsURL string
	apiURL      string
}

// Option overrides the provider endpoints, mostly for tests.
type Option func(*endpoints)

func WithAccountsURL(u string) Option {
	return func(e *endpoints) { e.accountsURL = strings.TrimRight(u, "/") }
}

func WithAPIURL(u string) Option {
	return func(e *endpoints) { e.apiURL = strings.TrimRight(u, "/") }
}

func newEndpoints(opts []Option) endpoints {
	e := endpoints{accountsURL: defaultAccountsURL, apiURL: defaultAPIURL}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Auth talks to the accounts service: the login redirect, the authorization
// code grant and the refresh grant.
type Auth struct {
	config     *oauth2.Config
	httpClient *http.Client
	endpoints  endpoints
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// User is the subset of the provider profile needed to register a host.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

func NewAuth(clientID, clientSecret, redirectURI string, httpClient *http.Client, opts ...Option) *Auth {
	e := newEndpoints(opts)
	return &Auth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   e.accountsURL + "/authorize",
				TokenURL:  e.accountsURL + "/api/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
		endpoints:  e,
	}
}

// AuthURL returns the provider login page for the given CSRF state.
func (a *Auth) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for the host's first credential.
func (a *Auth) Exchange(ctx context.Context, code string) (*models.TokenGrant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("spotify: code exchange failed: %w", err)
	}

	grant := &models.TokenGrant{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		grant.ExpiresIn = int(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	return grant, nil
}

// RefreshToken performs the refresh_token grant. A grant without a refresh
// token means the provider kept the old one.
func (a *Auth) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenGrant, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return a.doTokenRequest(ctx, data)
}

func (a *Auth) doTokenRequest(ctx context.Context, data url.Values) (*models.TokenGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(a.config.ClientID + ":" + a.config.ClientSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading token response: %v", ErrProviderUnavailable, err)
	}

	var token tokenResponse
	decodeErr := json.Unmarshal(body, &token)

	if resp.StatusCode != http.StatusOK {
		return nil, &TokenError{Status: resp.StatusCode, Code: token.Error, Description: token.ErrorDescription}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("spotify: malformed token response: %w", decodeErr)
	}
	if token.Error != "" {
		return nil, &TokenError{Status: resp.StatusCode, Code: token.Error, Description: token.ErrorDescription}
	}
	if token.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	if token.ExpiresIn <= 0 {
		return nil, ErrMissingExpiry
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}

	return &models.TokenGrant{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: token.RefreshToken,
	}, nil
}

// CurrentUser fetches the profile that owns accessToken.
func (a *Auth) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoints.apiURL+"/me", nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, body)
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("spotify: malformed profile: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("spotify: profile without id")
	}
	return &user, nil
}
