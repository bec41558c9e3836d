// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data
// API for the relay: locating a channel's active live chat, reading new
// messages from it, and inserting forwarded messages into it.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chat-relay/config"
)

// ErrNotLive is returned by Locate when the channel has no active broadcast.
// This is an expected steady state (stream offline), not a provider failure.
var ErrNotLive = errors.New("youtube: no active live broadcast")

// ErrInvalidGrant marks a refresh-grant rejection; the account needs relink.
var ErrInvalidGrant = errors.New("youtube: invalid grant")

// Message is one live-chat message in provider-returned order.
type Message struct {
	ID     string
	Author string
	Text   string
}

type Service struct {
	oauth *oauth2.Config
	// BaseURL overrides the YouTube Data API endpoint, for tests.
	BaseURL string
	// HTTPClient overrides the transport used for API calls, for tests.
	HTTPClient *http.Client
}

func New(cfg *config.Config) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube.readonly", "https://www.googleapis.com/auth/youtube.force-ssl"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		if fields := strings.Fields(s); len(fields) > 0 {
			scopes = fields
		}
	}
	oc := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       scopes,
	}
	return &Service{oauth: oc}
}

// AuthCodeURL builds the consent URL. Offline access with forced approval so
// Google issues a refresh token even on repeat links.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token set.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("youtube code exchange: %w", err)
	}
	return tok, nil
}

// Refresh performs a refresh-token grant. A 4xx from the token endpoint means
// the grant itself is dead and is surfaced as ErrInvalidGrant.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("youtube refresh token empty")
	}
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
		}
		return nil, fmt.Errorf("youtube refresh: %w", err)
	}
	return tok, nil
}

func (s *Service) client(ctx context.Context, accessToken string) (*yt.Service, error) {
	var opts []option.ClientOption
	if s.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(s.HTTPClient))
	} else {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})))
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(s.BaseURL))
	}
	return yt.NewService(ctx, opts...)
}

// ChannelID returns the channel id of the authenticated user; used once at
// link time.
func (s *Service) ChannelID(ctx context.Context, accessToken string) (string, error) {
	svc, err := s.client(ctx, accessToken)
	if err != nil {
		return "", err
	}
	res, err := svc.Channels.List([]string{"id"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube channels.list: %w", err)
	}
	if len(res.Items) == 0 {
		return "", errors.New("youtube account has no channel")
	}
	return res.Items[0].Id, nil
}

// Locate resolves the caller's currently active broadcast to its live chat id.
// When several broadcasts are active, the first returned wins; this is an
// accepted simplification, not a guaranteed "primary" stream.
func (s *Service) Locate(ctx context.Context, accessToken string) (string, error) {
	svc, err := s.client(ctx, accessToken)
	if err != nil {
		return "", err
	}
	res, err := svc.LiveBroadcasts.List([]string{"snippet"}).BroadcastStatus("active").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube liveBroadcasts.list: %w", err)
	}
	for _, it := range res.Items {
		if it.Snippet != nil && it.Snippet.LiveChatId != "" {
			return it.Snippet.LiveChatId, nil
		}
	}
	return "", ErrNotLive
}

// ListMessages fetches live-chat messages after pageToken (all buffered
// messages when the token is empty) and returns them with the next page token.
func (s *Service) ListMessages(ctx context.Context, accessToken, liveChatID, pageToken string) ([]Message, string, error) {
	svc, err := s.client(ctx, accessToken)
	if err != nil {
		return nil, "", err
	}
	call := svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("youtube liveChatMessages.list: %w", err)
	}
	var out []Message
	for _, it := range res.Items {
		if it.Snippet == nil || it.Snippet.DisplayMessage == "" {
			continue
		}
		m := Message{ID: it.Id, Text: it.Snippet.DisplayMessage}
		if it.AuthorDetails != nil {
			m.Author = it.AuthorDetails.DisplayName
		}
		out = append(out, m)
	}
	return out, res.NextPageToken, nil
}

// InsertMessage posts text into the given live chat.
func (s *Service) InsertMessage(ctx context.Context, accessToken, liveChatID, text string) error {
	svc, err := s.client(ctx, accessToken)
	if err != nil {
		return err
	}
	msg := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			LiveChatId: liveChatID,
			Type:       "textMessageEvent",
			TextMessageDetails: &yt.LiveChatTextMessageDetails{
				MessageText: text,
			},
		},
	}
	if _, err := svc.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("youtube liveChatMessages.insert: %w", err)
	}
	return nil
}
