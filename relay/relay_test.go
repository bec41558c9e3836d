package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/youtubeapi"
)

// fakeStore is an in-memory user store covering the narrow interfaces the
// relay components consume.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*db.UserRecord
	cursors []string
	getErr  error
}

func newFakeStore(users ...*db.UserRecord) *fakeStore {
	s := &fakeStore{users: make(map[string]*db.UserRecord)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (*db.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) UpdateTwitchTokens(_ context.Context, id, access, refresh string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.Twitch.AccessToken, u.Twitch.RefreshToken, u.Twitch.Expiry = access, refresh, expiry
	return nil
}

func (s *fakeStore) UpdateYouTubeTokens(_ context.Context, id, access, refresh string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.YouTube.AccessToken, u.YouTube.Expiry = access, expiry
	if refresh != "" {
		u.YouTube.RefreshToken = refresh
	}
	return nil
}

func (s *fakeStore) SetNeedsRelink(_ context.Context, id, provider string, needs bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	if provider == db.ProviderTwitch {
		u.Twitch.NeedsRelink = needs
	} else {
		u.YouTube.NeedsRelink = needs
	}
	return nil
}

func (s *fakeStore) AdvanceYouTubeCursor(_ context.Context, id, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor == "" {
		return nil
	}
	u := s.users[id]
	if u.YouTubeCursor == cursor {
		return nil
	}
	u.YouTubeCursor = cursor
	s.cursors = append(s.cursors, cursor)
	return nil
}

func (s *fakeStore) ListLinkedYouTubeUsers(_ context.Context) ([]db.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.UserRecord
	for _, u := range s.users {
		if u.YouTubeLinked() {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *fakeStore) ListLinkedTwitchUsers(_ context.Context) ([]db.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.UserRecord
	for _, u := range s.users {
		if u.TwitchLinked() {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *fakeStore) SetForwardingRule(_ context.Context, id, command, direction string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return errors.New("no such user")
	}
	u.Rule = &db.ForwardingRule{TriggerCommand: command, Direction: direction}
	return nil
}

func (s *fakeStore) user(id string) db.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

// fakeTokens hands out a fixed token or error without touching a store.
type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) EnsureValid(context.Context, string, string) (string, error) {
	return f.token, f.err
}

// sayCall records one outbound Twitch chat line.
type sayCall struct {
	channel string
	text    string
}

// fakeSender collects Say calls; it stands in for the IRC listener.
type fakeSender struct {
	mu   sync.Mutex
	says []sayCall
}

func (f *fakeSender) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.says = append(f.says, sayCall{channel: channel, text: text})
}

func (f *fakeSender) calls() []sayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sayCall(nil), f.says...)
}

// fakeYouTube scripts the live-chat API surface used by router and poller.
type fakeYouTube struct {
	mu        sync.Mutex
	chatID    string
	locateErr error
	messages  []youtubeapi.Message
	nextPage  string
	listErr   error
	inserts   []string
	insertErr error
}

func (f *fakeYouTube) Locate(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locateErr != nil {
		return "", f.locateErr
	}
	return f.chatID, nil
}

func (f *fakeYouTube) ListMessages(_ context.Context, _, _, pageToken string) ([]youtubeapi.Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	return f.messages, f.nextPage, nil
}

func (f *fakeYouTube) InsertMessage(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts = append(f.inserts, text)
	return nil
}

func (f *fakeYouTube) inserted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inserts...)
}
