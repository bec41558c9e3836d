package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/onnwee/chat-relay/db"
)

// HandleForward sets the caller's forwarding rule: trigger command plus
// direction. The rule takes effect immediately for subsequent messages.
func (h *Handlers) HandleForward(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Command   string `json:"command"`
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", 400)
		return
	}
	body.Command = strings.TrimSpace(body.Command)
	if body.Command == "" {
		http.Error(w, "command must not be empty", 400)
		return
	}
	if !db.ValidDirection(body.Direction) {
		http.Error(w, "direction must be yt_to_twitch or twitch_to_yt", 400)
		return
	}
	uid := h.userID(w, r)
	if err := h.engine.SetForwardingRule(r.Context(), uid, body.Command, body.Direction); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "command": body.Command, "direction": body.Direction})
}

// HandleUnlink removes one linked identity from the caller's account. Path:
// /unlink/{provider}.
func (h *Handlers) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	provider := strings.TrimPrefix(r.URL.Path, "/unlink/")
	uid := h.userID(w, r)

	var err error
	switch provider {
	case db.ProviderTwitch:
		err = h.store.UnlinkTwitch(r.Context(), uid)
	case db.ProviderYouTube:
		err = h.store.UnlinkYouTube(r.Context(), uid)
	default:
		http.Error(w, "unknown provider", 400)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	h.engine.OnUserUnlinked(uid, provider)
	writeJSON(w, map[string]any{"status": "ok", "provider": provider})
}

// HandleStatus returns a lightweight status summary: engine counters plus the
// caller's own link state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{}

	pollers, channels := h.engine.Counts()
	resp["active_pollers"] = pollers
	resp["listener_channels"] = channels

	if users, err := h.store.ListLinkedTwitchUsers(ctx); err == nil {
		resp["linked_twitch"] = len(users)
	}
	if users, err := h.store.ListLinkedYouTubeUsers(ctx); err == nil {
		resp["linked_youtube"] = len(users)
	}

	// Caller's own link state, when a cookie identifies them.
	if c, err := r.Cookie(userCookie); err == nil && c.Value != "" {
		if rec, err := h.store.Get(ctx, c.Value); err == nil && rec != nil {
			me := map[string]any{
				"twitch_linked":  rec.TwitchLinked(),
				"youtube_linked": rec.YouTubeLinked(),
			}
			if rec.TwitchLinked() {
				me["twitch_username"] = rec.Twitch.Username
				me["twitch_needs_relink"] = rec.Twitch.NeedsRelink
			}
			if rec.YouTubeLinked() {
				me["youtube_channel"] = rec.YouTube.ChannelID
				me["youtube_needs_relink"] = rec.YouTube.NeedsRelink
			}
			if rec.Rule != nil {
				me["command"] = rec.Rule.TriggerCommand
				me["direction"] = rec.Rule.Direction
			}
			resp["me"] = me
		}
	}

	writeJSON(w, resp)
}
