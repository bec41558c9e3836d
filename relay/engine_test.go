package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/youtubeapi"
)

// fakeListener satisfies ChatListener and records membership changes.
type fakeListener struct {
	mu      sync.Mutex
	joined  []string
	parted  []string
	started chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{started: make(chan struct{})}
}

func (f *fakeListener) Run(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return nil
}

func (f *fakeListener) Join(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channel)
}

func (f *fakeListener) Part(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parted = append(f.parted, channel)
}

func (f *fakeListener) Say(string, string) {}

func (f *fakeListener) joins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joined...)
}

func (f *fakeListener) parts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.parted...)
}

func newTestEngine(store *fakeStore, listener *fakeListener) *Engine {
	tokens := &fakeTokens{token: "tok"}
	yt := &fakeYouTube{locateErr: youtubeapi.ErrNotLive}
	router := NewRouter(tokens, yt, listener)
	// long interval so pollers never tick during the test
	return NewEngine(store, tokens, yt, router, listener, time.Hour)
}

func TestStartJoinsChannelsAndSpawnsPollers(t *testing.T) {
	store := newFakeStore(
		pollUser("c1"), // twitch + youtube linked
		&db.UserRecord{ID: "u2", Twitch: db.TwitchIdentity{Username: "other"}},
	)
	listener := newFakeListener()
	e := newTestEngine(store, listener)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		cancel()
		if err := e.Shutdown(2 * time.Second); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}()

	select {
	case <-listener.started:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never started")
	}

	if got := listener.joins(); len(got) != 2 {
		t.Fatalf("joined %v, want both linked channels", got)
	}
	pollers, channels := e.Counts()
	if pollers != 1 || channels != 2 {
		t.Fatalf("counts = (%d pollers, %d channels), want (1, 2)", pollers, channels)
	}
}

func TestLinkUnlinkLifecycle(t *testing.T) {
	store := newFakeStore()
	listener := newFakeListener()
	e := newTestEngine(store, listener)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		cancel()
		_ = e.Shutdown(2 * time.Second)
	}()

	// Linking appears in the store first, then the engine is notified.
	store.mu.Lock()
	store.users["u1"] = pollUser("")
	store.mu.Unlock()

	e.OnUserLinked("u1", db.ProviderTwitch)
	e.OnUserLinked("u1", db.ProviderYouTube)

	pollers, channels := e.Counts()
	if pollers != 1 || channels != 1 {
		t.Fatalf("counts after link = (%d, %d), want (1, 1)", pollers, channels)
	}
	if got := listener.joins(); len(got) != 1 || got[0] != "streamer" {
		t.Fatalf("joins = %v", got)
	}

	// Duplicate link notifications are idempotent.
	e.OnUserLinked("u1", db.ProviderTwitch)
	e.OnUserLinked("u1", db.ProviderYouTube)
	if pollers, channels = e.Counts(); pollers != 1 || channels != 1 {
		t.Fatalf("counts after duplicate link = (%d, %d), want (1, 1)", pollers, channels)
	}

	e.OnUserUnlinked("u1", db.ProviderYouTube)
	e.OnUserUnlinked("u1", db.ProviderTwitch)

	if pollers, channels = e.Counts(); pollers != 0 || channels != 0 {
		t.Fatalf("counts after unlink = (%d, %d), want (0, 0)", pollers, channels)
	}
	if got := listener.parts(); len(got) != 1 || got[0] != "streamer" {
		t.Fatalf("parts = %v", got)
	}

	// Unlink for a user that was never tracked is a no-op.
	e.OnUserUnlinked("ghost", db.ProviderTwitch)
	e.OnUserUnlinked("ghost", db.ProviderYouTube)
}

func TestSetForwardingRulePersists(t *testing.T) {
	store := newFakeStore(pollUser(""))
	e := newTestEngine(store, newFakeListener())

	if err := e.SetForwardingRule(context.Background(), "u1", "!fwd", db.DirectionTwitchToYT); err != nil {
		t.Fatalf("SetForwardingRule: %v", err)
	}
	u := store.user("u1")
	if u.Rule == nil || u.Rule.TriggerCommand != "!fwd" || u.Rule.Direction != db.DirectionTwitchToYT {
		t.Fatalf("rule = %+v", u.Rule)
	}
}
