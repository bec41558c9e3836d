package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/twitchapi"
)

// encodeState builds the OAuth state parameter. Both providers redirect to
// the same callback, so the state carries the provider discriminator and the
// user id being linked, plus a random nonce.
func encodeState(provider, userID string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("state gen error: %w", err)
	}
	return provider + ":" + userID + ":" + hex.EncodeToString(b), nil
}

// parseState splits a state parameter into provider and user id.
func parseState(state string) (provider, userID string, err error) {
	parts := strings.SplitN(state, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed state")
	}
	if parts[0] != db.ProviderTwitch && parts[0] != db.ProviderYouTube {
		return "", "", fmt.Errorf("unknown provider in state: %q", parts[0])
	}
	return parts[0], parts[1], nil
}

// HandleTwitchOAuthStart initiates the Twitch linking flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TwitchClientID == "" || h.cfg.RedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	uid := h.userID(w, r)
	st, err := encodeState(db.ProviderTwitch, uid)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	h.addOAuthState(st)
	authURL, err := twitchapi.BuildAuthorizeURL(h.cfg.TwitchClientID, h.cfg.RedirectURI, h.cfg.TwitchScopes, st)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleYouTubeOAuthStart initiates the YouTube linking flow.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.YTClientID == "" || h.cfg.RedirectURI == "" {
		http.Error(w, "youtube oauth not configured", 400)
		return
	}
	uid := h.userID(w, r)
	st, err := encodeState(db.ProviderYouTube, uid)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	h.addOAuthState(st)
	http.Redirect(w, r, h.yt.AuthCodeURL(st), http.StatusFound)
}

// HandleOAuthCallback is the shared redirect target for both providers. The
// state's provider prefix selects the exchange path.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", 400)
		return
	}
	provider, uid, err := parseState(st)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	ctx := r.Context()
	switch provider {
	case db.ProviderTwitch:
		res, err := twitchapi.ExchangeAuthCode(ctx, h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, code, h.cfg.RedirectURI)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		usr, err := h.helix.GetAuthenticatedUser(ctx, res.AccessToken)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if err := h.store.LinkTwitch(ctx, uid, usr.Login, res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn)); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		h.engine.OnUserLinked(uid, db.ProviderTwitch)
		writeJSON(w, map[string]any{"status": "ok", "provider": provider, "twitch_username": usr.Login})

	case db.ProviderYouTube:
		tok, err := h.yt.Exchange(ctx, code)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		channelID, err := h.yt.ChannelID(ctx, tok.AccessToken)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if err := h.store.LinkYouTube(ctx, uid, channelID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		h.engine.OnUserLinked(uid, db.ProviderYouTube)
		writeJSON(w, map[string]any{"status": "ok", "provider": provider, "channel_id": channelID})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
