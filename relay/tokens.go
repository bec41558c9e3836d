package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/telemetry"
	"github.com/onnwee/chat-relay/twitchapi"
	"github.com/onnwee/chat-relay/youtubeapi"
)

// TokenStore is the slice of the user store the token manager needs.
type TokenStore interface {
	Get(ctx context.Context, id string) (*db.UserRecord, error)
	UpdateTwitchTokens(ctx context.Context, id, access, refresh string, expiry time.Time) error
	UpdateYouTubeTokens(ctx context.Context, id, access, refresh string, expiry time.Time) error
	SetNeedsRelink(ctx context.Context, id, provider string, needs bool) error
}

// RefreshFunc performs a provider-specific refresh-grant exchange and returns
// the new access token, the (possibly rotated) refresh token, and the expiry.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, expiry time.Time, err error)

// TokenManager hands out access tokens that are guaranteed to outlive the
// refresh skew, refreshing on demand. Refreshes for the same (user, provider)
// pair are serialized: providers rotate refresh tokens on use, so a second
// concurrent exchange with the stale token could strand the account. The
// second caller waits and reuses the first caller's result.
type TokenManager struct {
	store          TokenStore
	skew           time.Duration
	refreshTwitch  RefreshFunc
	refreshYouTube RefreshFunc
	group          singleflight.Group
}

func NewTokenManager(store TokenStore, skew time.Duration, refreshTwitch, refreshYouTube RefreshFunc) *TokenManager {
	if skew <= 0 {
		skew = 60 * time.Second
	}
	return &TokenManager{
		store:          store,
		skew:           skew,
		refreshTwitch:  refreshTwitch,
		refreshYouTube: refreshYouTube,
	}
}

// EnsureValid returns an access token for user+provider that is valid for at
// least the refresh skew. On a rejected refresh grant it returns *AuthError
// and flags the record as needing relink.
func (m *TokenManager) EnsureValid(ctx context.Context, userID, provider string) (string, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", userID, err)
	}
	if rec == nil {
		return "", fmt.Errorf("no such user %s", userID)
	}
	if tok, ok := m.currentToken(rec, provider); ok {
		return tok, nil
	}
	v, err, _ := m.group.Do(userID+"/"+provider, func() (any, error) {
		return m.refresh(ctx, userID, provider)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// currentToken returns the stored access token when it is still usable:
// now < expiry - skew.
func (m *TokenManager) currentToken(rec *db.UserRecord, provider string) (string, bool) {
	var access string
	var expiry time.Time
	switch provider {
	case db.ProviderTwitch:
		access, expiry = rec.Twitch.AccessToken, rec.Twitch.Expiry
	case db.ProviderYouTube:
		access, expiry = rec.YouTube.AccessToken, rec.YouTube.Expiry
	default:
		return "", false
	}
	if access == "" {
		return "", false
	}
	if time.Now().Before(expiry.Add(-m.skew)) {
		return access, true
	}
	return "", false
}

func (m *TokenManager) refresh(ctx context.Context, userID, provider string) (string, error) {
	// Re-read inside the flight: a caller that queued behind a completed
	// refresh must use the freshly persisted token, not exchange again.
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", userID, err)
	}
	if rec == nil {
		return "", fmt.Errorf("no such user %s", userID)
	}
	if tok, ok := m.currentToken(rec, provider); ok {
		return tok, nil
	}

	var refreshToken string
	var fn RefreshFunc
	switch provider {
	case db.ProviderTwitch:
		refreshToken, fn = rec.Twitch.RefreshToken, m.refreshTwitch
	case db.ProviderYouTube:
		refreshToken, fn = rec.YouTube.RefreshToken, m.refreshYouTube
	default:
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	if refreshToken == "" {
		return "", &AuthError{Provider: provider, UserID: userID, Err: errors.New("no refresh token stored")}
	}

	access, newRefresh, expiry, err := fn(ctx, refreshToken)
	if err != nil {
		telemetry.IncTokenRefreshFailure(provider)
		if errors.Is(err, twitchapi.ErrInvalidGrant) || errors.Is(err, youtubeapi.ErrInvalidGrant) {
			if serr := m.store.SetNeedsRelink(ctx, userID, provider, true); serr != nil {
				slog.Warn("failed to flag user for relink", slog.String("user", userID), slog.String("provider", provider), slog.Any("err", serr))
			}
			return "", &AuthError{Provider: provider, UserID: userID, Err: err}
		}
		return "", fmt.Errorf("refresh %s token for user %s: %w", provider, userID, err)
	}

	switch provider {
	case db.ProviderTwitch:
		// Twitch rotates refresh tokens; persist the new one atomically with
		// the access token so no caller ever sees the stale pair.
		err = m.store.UpdateTwitchTokens(ctx, userID, access, newRefresh, expiry)
	case db.ProviderYouTube:
		err = m.store.UpdateYouTubeTokens(ctx, userID, access, newRefresh, expiry)
	}
	if err != nil {
		return "", fmt.Errorf("persist refreshed %s token for user %s: %w", provider, userID, err)
	}
	telemetry.IncTokenRefresh(provider)
	slog.Info("token refreshed", slog.String("user", userID), slog.String("provider", provider))
	return access, nil
}
