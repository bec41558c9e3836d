package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/telemetry"
	"github.com/onnwee/chat-relay/youtubeapi"
)

// TwitchSender delivers text into a Twitch channel. Implemented by the
// listener, which owns the single IRC connection.
type TwitchSender interface {
	Say(channel, text string)
}

// YouTubeChat is the slice of the YouTube API the router needs.
type YouTubeChat interface {
	Locate(ctx context.Context, accessToken string) (string, error)
	InsertMessage(ctx context.Context, accessToken, liveChatID, text string) error
}

// Router decides whether a message crosses platforms and delivers it.
// Sender failures are reported to the originating chat when feasible and
// never propagate as crashes.
type Router struct {
	tokens TokenProvider
	yt     YouTubeChat
	twitch TwitchSender
}

func NewRouter(tokens TokenProvider, yt YouTubeChat, twitch TwitchSender) *Router {
	return &Router{tokens: tokens, yt: yt, twitch: twitch}
}

// RouteFromYouTube forwards one YouTube live-chat message into the user's
// Twitch channel. The listener's channel membership is the only precondition.
func (r *Router) RouteFromYouTube(ctx context.Context, user *db.UserRecord, msg youtubeapi.Message) error {
	if user.Rule == nil || user.Rule.Direction != db.DirectionYTToTwitch {
		return nil
	}
	if !user.TwitchLinked() {
		return fmt.Errorf("user %s has no linked twitch channel", user.ID)
	}
	r.twitch.Say(user.Twitch.Username, fmt.Sprintf("[YT] %s: %s", msg.Author, msg.Text))
	telemetry.IncForwarded(db.DirectionYTToTwitch)
	return nil
}

// RouteFromTwitch forwards a trigger-command payload from the user's Twitch
// channel into their active YouTube live chat. An offline stream is reported
// back to the originating chat and is not an error.
func (r *Router) RouteFromTwitch(ctx context.Context, user *db.UserRecord, author, payload string) error {
	if user.Rule == nil || user.Rule.Direction != db.DirectionTwitchToYT {
		return nil
	}
	channel := user.Twitch.Username

	tok, err := r.tokens.EnsureValid(ctx, user.ID, db.ProviderYouTube)
	if err != nil {
		telemetry.IncForwardFailure(db.DirectionTwitchToYT)
		var ae *AuthError
		if errors.As(err, &ae) {
			r.notify(channel, author, "not forwarded: YouTube account needs to be re-linked")
			return err
		}
		r.notify(channel, author, "not forwarded: YouTube error")
		return err
	}

	chatID, err := r.yt.Locate(ctx, tok)
	if err != nil {
		if errors.Is(err, youtubeapi.ErrNotLive) {
			r.notify(channel, author, "not forwarded: stream offline")
			return nil
		}
		telemetry.IncForwardFailure(db.DirectionTwitchToYT)
		r.notify(channel, author, "not forwarded: YouTube error")
		return err
	}

	text := fmt.Sprintf("[Twitch] %s: %s", author, payload)
	if err := r.yt.InsertMessage(ctx, tok, chatID, text); err != nil {
		telemetry.IncForwardFailure(db.DirectionTwitchToYT)
		r.notify(channel, author, "not forwarded: could not send to YouTube")
		return err
	}
	telemetry.IncForwarded(db.DirectionTwitchToYT)
	r.notify(channel, author, "sent to YouTube chat")
	return nil
}

// notify sends a best-effort notice to the originating Twitch chat.
func (r *Router) notify(channel, author, text string) {
	if channel == "" {
		return
	}
	r.twitch.Say(channel, fmt.Sprintf("@%s %s", author, text))
	slog.Debug("forward notice sent", slog.String("channel", channel), slog.String("notice", text))
}
