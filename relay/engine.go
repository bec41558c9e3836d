package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/telemetry"
)

// EngineStore is the slice of the user store the engine needs.
type EngineStore interface {
	PollerStore
	ListLinkedYouTubeUsers(ctx context.Context) ([]db.UserRecord, error)
	ListLinkedTwitchUsers(ctx context.Context) ([]db.UserRecord, error)
	SetForwardingRule(ctx context.Context, id, command, direction string) error
}

// Engine orchestrates the relay: it runs the Twitch listener, keeps one
// YouTube poller per linked user, and reacts to link/unlink events from the
// web layer. No global lock serializes unrelated users; each poller is its
// own goroutine with its own cancel.
type Engine struct {
	store    EngineStore
	tokens   TokenProvider
	yt       LiveChatReader
	router   *Router
	listener ChatListener
	interval time.Duration

	ctx context.Context
	wg  sync.WaitGroup

	mu       sync.Mutex
	pollers  map[string]context.CancelFunc
	channels map[string]string // user id -> joined twitch channel
}

func NewEngine(store EngineStore, tokens TokenProvider, yt LiveChatReader, router *Router, listener ChatListener, pollInterval time.Duration) *Engine {
	return &Engine{
		store:    store,
		tokens:   tokens,
		yt:       yt,
		router:   router,
		listener: listener,
		interval: pollInterval,
		pollers:  make(map[string]context.CancelFunc),
		channels: make(map[string]string),
	}
}

// Start connects the listener, joins every linked channel, and spawns a
// poller per linked YouTube identity. It returns once everything is launched;
// tasks run until ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.listener.Run(ctx); err != nil {
			slog.Error("twitch listener exited", slog.Any("err", err))
		}
	}()

	twitchUsers, err := e.store.ListLinkedTwitchUsers(ctx)
	if err != nil {
		return fmt.Errorf("list linked twitch users: %w", err)
	}
	for _, u := range twitchUsers {
		e.joinChannel(u.ID, u.Twitch.Username)
	}

	ytUsers, err := e.store.ListLinkedYouTubeUsers(ctx)
	if err != nil {
		return fmt.Errorf("list linked youtube users: %w", err)
	}
	for _, u := range ytUsers {
		e.startPoller(u.ID)
	}

	slog.Info("relay engine started", slog.Int("twitch_channels", len(twitchUsers)), slog.Int("youtube_pollers", len(ytUsers)))
	return nil
}

// OnUserLinked is called by the web layer after an identity is attached.
func (e *Engine) OnUserLinked(userID, provider string) {
	switch provider {
	case db.ProviderTwitch:
		rec, err := e.store.Get(e.ctx, userID)
		if err != nil || rec == nil || !rec.TwitchLinked() {
			slog.Warn("linked twitch user not found", slog.String("user", userID), slog.Any("err", err))
			return
		}
		e.joinChannel(userID, rec.Twitch.Username)
	case db.ProviderYouTube:
		e.startPoller(userID)
	}
}

// OnUserUnlinked is called by the web layer after an identity is removed.
func (e *Engine) OnUserUnlinked(userID, provider string) {
	switch provider {
	case db.ProviderTwitch:
		e.partChannel(userID)
	case db.ProviderYouTube:
		e.stopPoller(userID)
	}
}

// SetForwardingRule updates the user's trigger command and direction.
func (e *Engine) SetForwardingRule(ctx context.Context, userID, command, direction string) error {
	return e.store.SetForwardingRule(ctx, userID, command, direction)
}

// Counts reports active pollers and joined channels, for the status endpoint.
func (e *Engine) Counts() (pollers, channels int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pollers), len(e.channels)
}

// Shutdown blocks until every poller and the listener have wound down, or the
// timeout elapses. Cancellation itself happens through the context given to
// Start.
func (e *Engine) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

func (e *Engine) startPoller(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pollers[userID]; ok {
		return
	}
	pctx, cancel := context.WithCancel(e.ctx)
	e.pollers[userID] = cancel
	telemetry.SetActivePollers(len(e.pollers))

	p := NewPoller(userID, e.interval, e.store, e.tokens, e.yt, e.router)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		p.Run(pctx)
	}()
}

func (e *Engine) stopPoller(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.pollers[userID]
	if !ok {
		return
	}
	cancel()
	delete(e.pollers, userID)
	telemetry.SetActivePollers(len(e.pollers))
}

func (e *Engine) joinChannel(userID, channel string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.channels[userID]; ok && prev == channel {
		return
	}
	e.channels[userID] = channel
	e.listener.Join(channel)
	telemetry.SetListenerChannels(len(e.channels))
}

func (e *Engine) partChannel(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	channel, ok := e.channels[userID]
	if !ok {
		return
	}
	e.listener.Part(channel)
	delete(e.channels, userID)
	telemetry.SetListenerChannels(len(e.channels))
}
