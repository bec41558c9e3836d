package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/telemetry"
	"github.com/onnwee/chat-relay/youtubeapi"
)

// PollerStore is the slice of the user store a poller needs.
type PollerStore interface {
	Get(ctx context.Context, id string) (*db.UserRecord, error)
	AdvanceYouTubeCursor(ctx context.Context, id, cursor string) error
}

// LiveChatReader locates the active live chat and pages through its messages.
type LiveChatReader interface {
	Locate(ctx context.Context, accessToken string) (string, error)
	ListMessages(ctx context.Context, accessToken, liveChatID, pageToken string) ([]youtubeapi.Message, string, error)
}

// Poller drives one user's YouTube→Twitch pipeline on a fixed interval.
// Every failure is contained to the tick it happened in; the next tick starts
// clean after the normal interval, so a broken provider can never busy-loop
// or stall other users.
type Poller struct {
	userID   string
	interval time.Duration
	store    PollerStore
	tokens   TokenProvider
	yt       LiveChatReader
	router   *Router
}

func NewPoller(userID string, interval time.Duration, store PollerStore, tokens TokenProvider, yt LiveChatReader, router *Router) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{userID: userID, interval: interval, store: store, tokens: tokens, yt: yt, router: router}
}

// Run ticks until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("poller starting", slog.String("user", p.userID), slog.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopped", slog.String("user", p.userID))
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				telemetry.IncPollError()
				slog.Warn("poll tick failed", slog.String("user", p.userID), slog.Any("err", err))
			}
		}
	}
}

// tick runs one poll cycle. The cursor advances only after the whole batch
// has been handed to the router; it is the sole deduplication mechanism, so
// an aborted tick must leave it untouched.
func (p *Poller) tick(ctx context.Context) error {
	telemetry.IncPollCycle()

	rec, err := p.store.Get(ctx, p.userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if rec == nil || !rec.YouTubeLinked() {
		return nil
	}

	tok, err := p.tokens.EnsureValid(ctx, p.userID, db.ProviderYouTube)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			// needs relink; skip quietly until the user re-authorizes
			slog.Debug("poll skipped: youtube auth invalid", slog.String("user", p.userID))
			return nil
		}
		return err
	}

	chatID, err := p.yt.Locate(ctx, tok)
	if err != nil {
		if errors.Is(err, youtubeapi.ErrNotLive) {
			// stream offline is steady state, not an error
			return nil
		}
		return err
	}

	msgs, next, err := p.yt.ListMessages(ctx, tok, chatID, rec.YouTubeCursor)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if rec.Rule == nil || rec.Rule.Direction != db.DirectionYTToTwitch {
			continue
		}
		if err := p.router.RouteFromYouTube(ctx, rec, m); err != nil {
			telemetry.IncForwardFailure(db.DirectionYTToTwitch)
			slog.Warn("forward failed", slog.String("user", p.userID), slog.String("message_id", m.ID), slog.Any("err", err))
		}
	}

	// Advance past the batch whether or not anything was forwarded, so a
	// redelivered page can never be forwarded twice.
	if err := p.store.AdvanceYouTubeCursor(ctx, p.userID, next); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}
