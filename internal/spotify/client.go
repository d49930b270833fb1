package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jukebox-rooms/pkg/redis"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Credentials hands out fresh access tokens per host.
type Credentials interface {
	EnsureFresh(ctx context.Context, ownerID string) bool
	GetTokens(ctx context.Context, ownerID string) (*redis.TokenInfo, error)
}

// Client issues Web API calls on behalf of a host. Every call first makes sure
// the host's token is fresh and fails with ErrUnauthenticated without touching
// the network when it is not.
type Client struct {
	credentials Credentials
	httpClient  *http.Client
	endpoints   endpoints
	logger      zerolog.Logger
}

func NewClient(credentials Credentials, httpClient *http.Client, logger zerolog.Logger, opts ...Option) *Client {
	return &Client{
		credentials: credentials,
		httpClient:  httpClient,
		endpoints:   newEndpoints(opts),
		logger:      logger.With().Str("component", "spotify").Logger(),
	}
}

// Request performs an authenticated call. endpoint is relative to the API
// root and may carry a query string. A 204 reply returns a nil body and a nil
// error.
func (c *Client) Request(ctx context.Context, ownerID, method, endpoint string, body interface{}) (json.RawMessage, error) {
	if !c.credentials.EnsureFresh(ctx, ownerID) {
		return nil, ErrUnauthenticated
	}
	token, err := c.credentials.GetTokens(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("spotify: failed to encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoints.apiURL+"/"+strings.TrimLeft(endpoint, "/"), reader)
	if err != nil {
		return nil, err
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrProviderUnavailable, method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrProviderUnavailable, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, data)
		c.logger.Debug().
			Str("owner", ownerID).
			Str("endpoint", endpoint).
			Int("status", apiErr.Status).
			Str("message", apiErr.Message).
			Msg("Provider returned an error")
		return nil, apiErr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}

// CurrentTrack returns what the host is playing. A nil track with a nil error
// means the host is connected but nothing is playing.
func (c *Client) CurrentTrack(ctx context.Context, ownerID string) (*CurrentTrack, error) {
	data, err := c.Request(ctx, ownerID, http.MethodGet, "me/player/currently-playing", nil)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var playing currentlyPlaying
	if err := json.Unmarshal(data, &playing); err != nil {
		c.logger.Warn().Err(err).Str("owner", ownerID).Msg("Unreadable currently-playing payload")
		return nil, nil
	}
	return playing.normalize(), nil
}

func (c *Client) Play(ctx context.Context, ownerID string) error {
	_, err := c.Request(ctx, ownerID, http.MethodPut, "me/player/play", nil)
	return err
}

func (c *Client) Pause(ctx context.Context, ownerID string) error {
	_, err := c.Request(ctx, ownerID, http.MethodPut, "me/player/pause", nil)
	return err
}

func (c *Client) SkipNext(ctx context.Context, ownerID string) error {
	_, err := c.Request(ctx, ownerID, http.MethodPost, "me/player/next", nil)
	return err
}

func (c *Client) SkipPrevious(ctx context.Context, ownerID string) error {
	_, err := c.Request(ctx, ownerID, http.MethodPost, "me/player/previous", nil)
	return err
}

// Enqueue adds uri to the host's playback queue.
func (c *Client) Enqueue(ctx context.Context, ownerID, uri string) error {
	params := url.Values{}
	params.Set("uri", uri)
	_, err := c.Request(ctx, ownerID, http.MethodPost, "me/player/queue?"+params.Encode(), nil)
	return err
}

// Search never fails. Failures degrade to an empty sequence and connected is
// false when the host could not be reached or is not authenticated.
func (c *Client) Search(ctx context.Context, ownerID, query string, limit int) (tracks TrackSeq, connected bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return emptyTracks, true
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	data, err := c.Request(ctx, ownerID, http.MethodGet, "search?"+params.Encode(), nil)
	if err != nil {
		c.logger.Debug().Err(err).Str("owner", ownerID).Msg("Search failed")
		return emptyTracks, false
	}

	var resp searchResponse
	if data != nil {
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn().Err(err).Str("owner", ownerID).Msg("Unreadable search payload")
			return emptyTracks, true
		}
	}

	items := resp.Tracks.Items
	return func(yield func(TrackSummary) bool) {
		for _, item := range items {
			summary, ok := item.summary()
			if !ok {
				continue
			}
			if !yield(summary) {
				return
			}
		}
	}, true
}

// Devices lists the host's Spotify Connect devices.
func (c *Client) Devices(ctx context.Context, ownerID string) ([]Device, error) {
	data, err := c.Request(ctx, ownerID, http.MethodGet, "me/player/devices", nil)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var resp devicesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("spotify: malformed devices payload: %w", err)
	}
	return resp.Devices, nil
}
