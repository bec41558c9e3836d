package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HelixClient provides the minimal Helix surface the relay needs: resolving
// the authenticated user's login during account linking.
type HelixClient struct {
	ClientID   string
	HTTPClient *http.Client
	// BaseURL overrides the Helix API base, for tests.
	BaseURL string
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return "https://api.twitch.tv/helix"
}

// User is the subset of the Helix users payload the relay cares about.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// GetAuthenticatedUser returns the user the bearer token belongs to.
func (hc *HelixClient) GetAuthenticatedUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix users request failed: %s", resp.Status)
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("helix users response empty")
	}
	return &body.Data[0], nil
}
