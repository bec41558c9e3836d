package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/onnwee/chat-relay/config"
	"github.com/onnwee/chat-relay/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		YTClientID:     "test-client-id",
		YTClientSecret: "test-secret",
		RedirectURI:    "http://localhost/auth/callback",
	}
}

func testService(t *testing.T) (*Service, *testutil.MockProviderServer) {
	t.Helper()
	srv := testutil.NewMockProviderServer(t)
	svc := New(testConfig())
	svc.BaseURL = srv.URL + "/"
	svc.HTTPClient = http.DefaultClient
	return svc, srv
}

func TestAuthCodeURL(t *testing.T) {
	svc := New(testConfig())
	url := svc.AuthCodeURL("youtube:u1:nonce")
	for _, part := range []string{
		"client_id=test-client-id",
		"state=youtube%3Au1%3Anonce",
		"access_type=offline",
		"prompt=consent",
	} {
		if !strings.Contains(url, part) {
			t.Errorf("auth URL missing %q: %s", part, url)
		}
	}
}

func TestNewScopesFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.YTScopes = "scope-a,scope-b"
	svc := New(cfg)
	if len(svc.oauth.Scopes) != 2 || svc.oauth.Scopes[0] != "scope-a" {
		t.Errorf("scopes = %v", svc.oauth.Scopes)
	}
}

func TestLocate(t *testing.T) {
	svc, srv := testService(t)
	srv.Handlers["/youtube/v3/liveBroadcasts"] = func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("broadcastStatus"); got != "active" {
			t.Errorf("broadcastStatus = %q", got)
		}
		testutil.RespondJSON(t, w, map[string]any{
			"items": []map[string]any{
				{"snippet": map[string]any{"liveChatId": "chat-1"}},
				{"snippet": map[string]any{"liveChatId": "chat-2"}},
			},
		})
	}

	id, err := svc.Locate(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	// first active broadcast wins
	if id != "chat-1" {
		t.Errorf("live chat id = %q, want chat-1", id)
	}
}

func TestLocateNotLive(t *testing.T) {
	svc, srv := testService(t)
	srv.Handlers["/youtube/v3/liveBroadcasts"] = func(w http.ResponseWriter, r *http.Request) {
		testutil.RespondJSON(t, w, map[string]any{"items": []any{}})
	}

	_, err := svc.Locate(context.Background(), "tok")
	if !errors.Is(err, ErrNotLive) {
		t.Errorf("Locate offline = %v, want ErrNotLive", err)
	}
}

func TestListMessages(t *testing.T) {
	svc, srv := testService(t)
	srv.Handlers["/youtube/v3/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("liveChatId"); got != "chat-1" {
			t.Errorf("liveChatId = %q", got)
		}
		if got := r.URL.Query().Get("pageToken"); got != "p1" {
			t.Errorf("pageToken = %q", got)
		}
		testutil.RespondJSON(t, w, map[string]any{
			"nextPageToken": "p2",
			"items": []map[string]any{
				{
					"id":            "m1",
					"snippet":       map[string]any{"displayMessage": "hello"},
					"authorDetails": map[string]any{"displayName": "viewer"},
				},
				{
					"id":      "m2",
					"snippet": map[string]any{"displayMessage": "world"},
				},
			},
		})
	}

	msgs, next, err := svc.ListMessages(context.Background(), "tok", "chat-1", "p1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if next != "p2" {
		t.Errorf("next page token = %q, want p2", next)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[0].Author != "viewer" || msgs[1].Text != "world" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestInsertMessage(t *testing.T) {
	svc, srv := testService(t)
	var gotBody map[string]any
	srv.Handlers["/youtube/v3/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		testutil.RespondJSON(t, w, map[string]any{"id": "sent"})
	}

	if err := svc.InsertMessage(context.Background(), "tok", "chat-1", "[Twitch] user: hi"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	snippet, _ := gotBody["snippet"].(map[string]any)
	if snippet == nil || snippet["liveChatId"] != "chat-1" {
		t.Errorf("snippet = %v", snippet)
	}
	details, _ := snippet["textMessageDetails"].(map[string]any)
	if details == nil || details["messageText"] != "[Twitch] user: hi" {
		t.Errorf("textMessageDetails = %v", details)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	svc := New(testConfig())
	if _, err := svc.Refresh(context.Background(), ""); err == nil {
		t.Error("empty refresh token should fail")
	}
}
