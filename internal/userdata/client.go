// Package userdata talks to the application data store's RPC surface.
package userdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrClearFailed wraps every failure of the data-clearing RPC.
var ErrClearFailed = errors.New("clearing user data failed")

// Client calls the data store with the caller's own credential. The clearing
// RPC selects rows by the identity inside the bearer token, so no elevated
// key is ever attached here.
type Client struct {
	BaseURL    string
	AnonKey    string
	HTTPClient *http.Client
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AnonKey:    anonKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ClearOwnData invokes the clear_my_data RPC as the caller.
func (c *Client) ClearOwnData(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rest/v1/rpc/clear_my_data", strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClearFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.AnonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClearFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrClearFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
