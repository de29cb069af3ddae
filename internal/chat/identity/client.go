// Package identity resolves user profile snapshots from the identity
// service over HTTP.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/foundline/chat/internal/chat/domain"
)

type profileResponse struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	Email       string `json:"email"`
}

// Client calls the identity service's user profile endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a profile resolver rooted at the given base URL.
func NewClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// UserProfile fetches one user's profile. A 404 maps to domain.ErrNotFound
// so callers can fall back to their own denormalized snapshot.
func (c *Client) UserProfile(ctx context.Context, userID string) (domain.Profile, error) {
	endpoint := c.baseURL + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Profile{}, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Profile{}, fmt.Errorf("profile request returned %s", resp.Status)
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Profile{}, fmt.Errorf("decode profile response: %w", err)
	}
	return domain.Profile{
		DisplayName: body.DisplayName,
		PhotoURL:    body.PhotoURL,
		Email:       body.Email,
	}, nil
}
