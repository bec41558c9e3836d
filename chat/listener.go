// Package chat owns the single long-lived Twitch IRC connection: it joins the
// channel of every linked user, extracts trigger-command payloads from their
// messages, and hands them to the relay router.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-relay/db"
)

// UserLookup resolves a Twitch login (case-insensitive) to its user record.
type UserLookup interface {
	FindByTwitchUsername(ctx context.Context, name string) (*db.UserRecord, error)
}

// ForwardFunc handles an extracted trigger payload. Wired to the relay router.
type ForwardFunc func(ctx context.Context, user *db.UserRecord, author, payload string) error

// Listener is the event-driven half of the relay. Inbound events are matched
// and filtered inline; the actual forwarding (network calls) is dispatched to
// goroutines behind a semaphore so one slow forward never blocks events from
// other channels on the same connection.
type Listener struct {
	client      *twitch.Client
	store       UserLookup
	botUsername string
	forward     ForwardFunc
	sem         chan struct{}
	wg          sync.WaitGroup
}

func NewListener(botUsername, botToken string, store UserLookup, dispatchConcurrency int) *Listener {
	if dispatchConcurrency <= 0 {
		dispatchConcurrency = 4
	}
	return &Listener{
		client:      twitch.NewClient(botUsername, botToken),
		store:       store,
		botUsername: strings.ToLower(botUsername),
		sem:         make(chan struct{}, dispatchConcurrency),
	}
}

// SetForward wires the payload handler. Must be called before Run.
func (l *Listener) SetForward(fn ForwardFunc) { l.forward = fn }

// Run connects and blocks until ctx is canceled, then disconnects and drains
// in-flight forwards.
func (l *Listener) Run(ctx context.Context) error {
	l.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		l.handleMessage(ctx, msg.User.Name, msg.Message)
	})

	go func() {
		<-ctx.Done()
		if err := l.client.Disconnect(); err != nil {
			slog.Debug("twitch disconnect", slog.Any("err", err))
		}
	}()

	err := l.client.Connect()
	l.wg.Wait()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// Join subscribes to a channel's chat. Safe to call before or after Run.
func (l *Listener) Join(channel string) {
	l.client.Join(strings.ToLower(channel))
}

// Part leaves a channel's chat.
func (l *Listener) Part(channel string) {
	l.client.Depart(strings.ToLower(channel))
}

// Say sends text into a channel.
func (l *Listener) Say(channel, text string) {
	l.client.Say(strings.ToLower(channel), text)
}

// handleMessage filters one inbound chat event and dispatches eligible
// payloads. Filtering runs inline (no network); forwarding runs behind the
// semaphore.
func (l *Listener) handleMessage(ctx context.Context, author, text string) {
	login := strings.ToLower(author)
	if login == l.botUsername {
		// echo suppression: never react to our own messages
		return
	}
	rec, err := l.store.FindByTwitchUsername(ctx, login)
	if err != nil {
		slog.Warn("user lookup failed", slog.String("login", login), slog.Any("err", err))
		return
	}
	if rec == nil || rec.Rule == nil || rec.Rule.Direction != db.DirectionTwitchToYT {
		return
	}
	if !strings.HasPrefix(text, rec.Rule.TriggerCommand) {
		return
	}
	payload := strings.TrimSpace(strings.TrimPrefix(text, rec.Rule.TriggerCommand))
	if l.forward == nil {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			return
		}
		if err := l.forward(ctx, rec, login, payload); err != nil {
			slog.Warn("forward from twitch failed", slog.String("login", login), slog.Any("err", err))
		}
	}()
}
