package tidal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// apiErrorBody is the JSON error payload returned by the Tidal API.
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// get makes a single GET request to the Tidal API and returns the response
// body. Retry policy deliberately lives with the caller: the engine funnels
// every call through one shared request throttle that owns retries.
//
// The round-trip runs inside the client's circuit breaker; an open breaker
// surfaces as a temporary *Error so callers retry it like a 503.
func (c *Client) get(ctx context.Context, path string, query url.Values, accessToken string) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	c.logDebugf("tidal: GET %s", path)

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, endpoint, accessToken)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: "circuit breaker open"}
	}
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, endpoint, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tidewatch/1.0")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &Error{Status: resp.StatusCode, Message: resp.Status}
		var parsed apiErrorBody
		if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.Message != "" {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}
		return nil, apiErr
	}

	return body, nil
}

// decode unmarshals a response body into v.
func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
