package spotify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthenticated means the host has no usable credential; the call was
	// never sent to the provider.
	ErrUnauthenticated = errors.New("spotify: host is not authenticated")

	// ErrProviderUnavailable covers network failures, timeouts and 5xx replies.
	ErrProviderUnavailable = errors.New("spotify: provider unavailable")

	// ErrProviderRejected covers 4xx replies such as a missing playback device
	// or an insufficient scope.
	ErrProviderRejected = errors.New("spotify: request rejected")

	ErrMissingAccessToken = errors.New("spotify: token response without access_token")
	ErrMissingExpiry      = errors.New("spotify: token response without expires_in")
)

// APIError is an HTTP error reply from the Web API.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("spotify: status %d: %s (%s)", e.Status, e.Message, e.Reason)
	}
	return fmt.Sprintf("spotify: status %d: %s", e.Status, e.Message)
}

// Unwrap classifies the reply as rejected (4xx) or unavailable (5xx).
func (e *APIError) Unwrap() error {
	if e.Status >= 400 && e.Status < 500 {
		return ErrProviderRejected
	}
	return ErrProviderUnavailable
}

// NoActiveDevice reports the provider's "no active device" rejection.
func (e *APIError) NoActiveDevice() bool {
	return e.Reason == "NO_ACTIVE_DEVICE" ||
		(e.Status == http.StatusNotFound && strings.Contains(strings.ToLower(e.Message), "no active device"))
}

// TokenError is a failed grant at the token endpoint, e.g. invalid_grant.
type TokenError struct {
	Status      int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("spotify: token request failed with status %d", e.Status)
	}
	if e.Description == "" {
		return fmt.Sprintf("spotify: token request failed with status %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("spotify: token request failed with status %d: %s: %s", e.Status, e.Code, e.Description)
}

func (e *TokenError) Unwrap() error {
	if e.Status >= 500 {
		return ErrProviderUnavailable
	}
	return ErrProviderRejected
}

// errorEnvelope matches both the Web API shape {"error":{"status","message","reason"}}
// and the accounts shape {"error":"...","error_description":"..."}.
type errorEnvelope struct {
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

type apiErrorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return apiErr
	}

	var structured apiErrorBody
	if err := json.Unmarshal(env.Error, &structured); err == nil {
		if structured.Message != "" {
			apiErr.Message = structured.Message
		}
		apiErr.Reason = structured.Reason
		return apiErr
	}

	var code string
	if err := json.Unmarshal(env.Error, &code); err == nil && code != "" {
		apiErr.Message = code
		if env.ErrorDescription != "" {
			apiErr.Message = code + ": " + env.ErrorDescription
		}
	}
	return apiErr
}
