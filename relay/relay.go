// Package relay implements the core forwarding engine: token lifecycle
// management, per-user YouTube live-chat polling, routing between the two
// platforms, and task lifecycle for linked users.
package relay

import (
	"context"
	"fmt"
)

// AuthError reports a refresh-grant rejection for one of a user's linked
// providers. It means the account needs a fresh authorization, not a retry;
// callers skip the operation and leave the needs-relink flag to the store.
type AuthError struct {
	Provider string
	UserID   string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error for user %s provider %s: %v", e.UserID, e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenProvider yields a valid access token for a user+provider pair,
// refreshing first when the stored token expires soon.
type TokenProvider interface {
	EnsureValid(ctx context.Context, userID, provider string) (string, error)
}

// ChatListener is the relay's view of the Twitch connection. Implemented by
// the chat package.
type ChatListener interface {
	Run(ctx context.Context) error
	Join(channel string)
	Part(channel string)
	Say(channel, text string)
}
