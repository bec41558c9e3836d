package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/chat-relay/crypto"
)

// Forwarding directions. A user has at most one active direction.
const (
	DirectionYTToTwitch = "yt_to_twitch"
	DirectionTwitchToYT = "twitch_to_yt"
)

// Providers recognized by the relay.
const (
	ProviderTwitch  = "twitch"
	ProviderYouTube = "youtube"
)

// TwitchIdentity holds the linked Twitch account of a user.
type TwitchIdentity struct {
	Username     string // stored lower-cased, unique
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	NeedsRelink  bool
}

// YouTubeIdentity holds the linked YouTube channel of a user.
type YouTubeIdentity struct {
	ChannelID    string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	NeedsRelink  bool
}

// ForwardingRule describes when and where a user's messages are forwarded.
type ForwardingRule struct {
	TriggerCommand string
	Direction      string // DirectionYTToTwitch or DirectionTwitchToYT
}

// UserRecord is one streamer identity keyed by an opaque user id. A record may
// exist with only one provider populated; identities are linked incrementally.
type UserRecord struct {
	ID      string
	Twitch  TwitchIdentity
	YouTube YouTubeIdentity
	Rule    *ForwardingRule // nil = no forwarding
	// YouTubeCursor is the opaque page token of the last consumed live-chat
	// page. Advanced monotonically; cleared only on relink.
	YouTubeCursor string
}

// TwitchLinked reports whether the record has a usable Twitch identity.
func (u *UserRecord) TwitchLinked() bool { return u.Twitch.Username != "" }

// YouTubeLinked reports whether the record has a usable YouTube identity.
func (u *UserRecord) YouTubeLinked() bool {
	return u.YouTube.ChannelID != "" && u.YouTube.RefreshToken != ""
}

// ValidDirection reports whether s is a recognized forwarding direction.
func ValidDirection(s string) bool {
	return s == DirectionYTToTwitch || s == DirectionTwitchToYT
}

// UserStore is the credential store: all reads and writes of user records go
// through it. Every write is a single statement so read-modify-write races
// between the token manager, poller, and web layer cannot lose updates.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore { return &UserStore{db: db} }

const userColumns = `id,
	COALESCE(twitch_username,''), COALESCE(twitch_access_token,''), COALESCE(twitch_refresh_token,''), twitch_expires_at, twitch_needs_relink, COALESCE(twitch_encryption_version,0),
	COALESCE(yt_channel_id,''), COALESCE(yt_access_token,''), COALESCE(yt_refresh_token,''), yt_expires_at, yt_needs_relink, COALESCE(yt_encryption_version,0),
	COALESCE(forward_command,''), COALESCE(forward_direction,''), COALESCE(yt_cursor,'')`

func scanUser(row interface{ Scan(...any) error }) (*UserRecord, error) {
	var u UserRecord
	var twitchExp, ytExp sql.NullTime
	var twitchEncVer, ytEncVer int
	var cmd, dir string
	err := row.Scan(&u.ID,
		&u.Twitch.Username, &u.Twitch.AccessToken, &u.Twitch.RefreshToken, &twitchExp, &u.Twitch.NeedsRelink, &twitchEncVer,
		&u.YouTube.ChannelID, &u.YouTube.AccessToken, &u.YouTube.RefreshToken, &ytExp, &u.YouTube.NeedsRelink, &ytEncVer,
		&cmd, &dir, &u.YouTubeCursor)
	if err != nil {
		return nil, err
	}
	if twitchExp.Valid {
		u.Twitch.Expiry = twitchExp.Time
	}
	if ytExp.Valid {
		u.YouTube.Expiry = ytExp.Time
	}
	if cmd != "" && ValidDirection(dir) {
		u.Rule = &ForwardingRule{TriggerCommand: cmd, Direction: dir}
	}
	if u.Twitch.AccessToken, u.Twitch.RefreshToken, err = decryptTokens(u.Twitch.AccessToken, u.Twitch.RefreshToken, twitchEncVer); err != nil {
		return nil, fmt.Errorf("decrypt twitch tokens for user %s: %w", u.ID, err)
	}
	if u.YouTube.AccessToken, u.YouTube.RefreshToken, err = decryptTokens(u.YouTube.AccessToken, u.YouTube.RefreshToken, ytEncVer); err != nil {
		return nil, fmt.Errorf("decrypt youtube tokens for user %s: %w", u.ID, err)
	}
	return &u, nil
}

// encryptTokens encrypts an access/refresh pair when encryption is configured.
// Returns the values to store plus the encryption version to record.
func encryptTokens(access, refresh string) (string, string, int, error) {
	enc, err := getEncryptor()
	if err != nil {
		return "", "", 0, err
	}
	if enc == nil {
		return access, refresh, 0, nil
	}
	if access != "" {
		if access, err = crypto.EncryptString(enc, access); err != nil {
			return "", "", 0, fmt.Errorf("encrypt access token: %w", err)
		}
	}
	if refresh != "" {
		if refresh, err = crypto.EncryptString(enc, refresh); err != nil {
			return "", "", 0, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return access, refresh, 1, nil
}

// decryptTokens reverses encryptTokens based on the stored version. Plaintext
// rows (version 0) pass through for backward compatibility.
func decryptTokens(access, refresh string, version int) (string, string, error) {
	if version == 0 {
		return access, refresh, nil
	}
	enc, err := getEncryptor()
	if err != nil {
		return "", "", err
	}
	if enc == nil {
		return "", "", errors.New("tokens are encrypted but ENCRYPTION_KEY not configured")
	}
	if access != "" {
		if access, err = crypto.DecryptString(enc, access); err != nil {
			return "", "", fmt.Errorf("decrypt access token: %w", err)
		}
	}
	if refresh != "" {
		if refresh, err = crypto.DecryptString(enc, refresh); err != nil {
			return "", "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return access, refresh, nil
}

// Get returns the record for id, or nil when none exists.
func (s *UserStore) Get(ctx context.Context, id string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// FindByTwitchUsername resolves a Twitch login (case-insensitive) to its
// record, or nil when no user has linked that login.
func (s *UserStore) FindByTwitchUsername(ctx context.Context, name string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE twitch_username=$1`, strings.ToLower(name))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListLinkedYouTubeUsers returns every record with a linked YouTube identity.
func (s *UserStore) ListLinkedYouTubeUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE yt_refresh_token IS NOT NULL AND yt_refresh_token <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// ListLinkedTwitchUsers returns every record with a linked Twitch identity.
func (s *UserStore) ListLinkedTwitchUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE twitch_username IS NOT NULL AND twitch_username <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// Put replaces the whole record (insert when absent). Used by tests and
// administrative tooling; the relay core prefers the focused updates below.
func (s *UserStore) Put(ctx context.Context, u *UserRecord) error {
	ta, tr, tv, err := encryptTokens(u.Twitch.AccessToken, u.Twitch.RefreshToken)
	if err != nil {
		return err
	}
	ya, yr, yv, err := encryptTokens(u.YouTube.AccessToken, u.YouTube.RefreshToken)
	if err != nil {
		return err
	}
	var cmd, dir string
	if u.Rule != nil {
		cmd, dir = u.Rule.TriggerCommand, u.Rule.Direction
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (id,
			twitch_username, twitch_access_token, twitch_refresh_token, twitch_expires_at, twitch_needs_relink, twitch_encryption_version,
			yt_channel_id, yt_access_token, yt_refresh_token, yt_expires_at, yt_needs_relink, yt_encryption_version,
			forward_command, forward_direction, yt_cursor, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
		ON CONFLICT (id) DO UPDATE SET
			twitch_username=EXCLUDED.twitch_username,
			twitch_access_token=EXCLUDED.twitch_access_token,
			twitch_refresh_token=EXCLUDED.twitch_refresh_token,
			twitch_expires_at=EXCLUDED.twitch_expires_at,
			twitch_needs_relink=EXCLUDED.twitch_needs_relink,
			twitch_encryption_version=EXCLUDED.twitch_encryption_version,
			yt_channel_id=EXCLUDED.yt_channel_id,
			yt_access_token=EXCLUDED.yt_access_token,
			yt_refresh_token=EXCLUDED.yt_refresh_token,
			yt_expires_at=EXCLUDED.yt_expires_at,
			yt_needs_relink=EXCLUDED.yt_needs_relink,
			yt_encryption_version=EXCLUDED.yt_encryption_version,
			forward_command=EXCLUDED.forward_command,
			forward_direction=EXCLUDED.forward_direction,
			yt_cursor=EXCLUDED.yt_cursor,
			updated_at=NOW()`,
		u.ID,
		strings.ToLower(u.Twitch.Username), ta, tr, nullTime(u.Twitch.Expiry), u.Twitch.NeedsRelink, tv,
		u.YouTube.ChannelID, ya, yr, nullTime(u.YouTube.Expiry), u.YouTube.NeedsRelink, yv,
		cmd, dir, u.YouTubeCursor)
	return err
}

// LinkTwitch attaches (or replaces) a user's Twitch identity after an
// authorization-code exchange. Clears any stale needs-relink flag.
func (s *UserStore) LinkTwitch(ctx context.Context, id, username, access, refresh string, expiry time.Time) error {
	a, r, v, err := encryptTokens(access, refresh)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (id, twitch_username, twitch_access_token, twitch_refresh_token, twitch_expires_at, twitch_needs_relink, twitch_encryption_version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,FALSE,$6,NOW(),NOW())
		ON CONFLICT (id) DO UPDATE SET
			twitch_username=EXCLUDED.twitch_username,
			twitch_access_token=EXCLUDED.twitch_access_token,
			twitch_refresh_token=EXCLUDED.twitch_refresh_token,
			twitch_expires_at=EXCLUDED.twitch_expires_at,
			twitch_needs_relink=FALSE,
			twitch_encryption_version=EXCLUDED.twitch_encryption_version,
			updated_at=NOW()`,
		id, strings.ToLower(username), a, r, expiry, v)
	return err
}

// LinkYouTube attaches (or replaces) a user's YouTube identity. The stored
// cursor is cleared: relink is the one sanctioned cursor rewind.
func (s *UserStore) LinkYouTube(ctx context.Context, id, channelID, access, refresh string, expiry time.Time) error {
	a, r, v, err := encryptTokens(access, refresh)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (id, yt_channel_id, yt_access_token, yt_refresh_token, yt_expires_at, yt_needs_relink, yt_encryption_version, yt_cursor, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,FALSE,$6,'',NOW(),NOW())
		ON CONFLICT (id) DO UPDATE SET
			yt_channel_id=EXCLUDED.yt_channel_id,
			yt_access_token=EXCLUDED.yt_access_token,
			yt_refresh_token=EXCLUDED.yt_refresh_token,
			yt_expires_at=EXCLUDED.yt_expires_at,
			yt_needs_relink=FALSE,
			yt_encryption_version=EXCLUDED.yt_encryption_version,
			yt_cursor='',
			updated_at=NOW()`,
		id, channelID, a, r, expiry, v)
	return err
}

// UnlinkTwitch removes the Twitch identity from a record.
func (s *UserStore) UnlinkTwitch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET twitch_username='', twitch_access_token='', twitch_refresh_token='', twitch_expires_at=NULL, twitch_needs_relink=FALSE, updated_at=NOW() WHERE id=$1`, id)
	return err
}

// UnlinkYouTube removes the YouTube identity (and cursor) from a record.
func (s *UserStore) UnlinkYouTube(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET yt_channel_id='', yt_access_token='', yt_refresh_token='', yt_expires_at=NULL, yt_needs_relink=FALSE, yt_cursor='', updated_at=NOW() WHERE id=$1`, id)
	return err
}

// UpdateTwitchTokens persists a refreshed Twitch token set. Twitch rotates
// refresh tokens, so the new refresh token replaces the old one.
func (s *UserStore) UpdateTwitchTokens(ctx context.Context, id, access, refresh string, expiry time.Time) error {
	a, r, v, err := encryptTokens(access, refresh)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET twitch_access_token=$2, twitch_refresh_token=$3, twitch_expires_at=$4, twitch_needs_relink=FALSE, twitch_encryption_version=$5, updated_at=NOW() WHERE id=$1`,
		id, a, r, expiry, v)
	return err
}

// UpdateYouTubeTokens persists a refreshed YouTube access token. Google only
// returns a new refresh token on re-consent, so an empty refresh keeps the
// stored one.
func (s *UserStore) UpdateYouTubeTokens(ctx context.Context, id, access, refresh string, expiry time.Time) error {
	a, r, v, err := encryptTokens(access, refresh)
	if err != nil {
		return err
	}
	if refresh == "" {
		_, err = s.db.ExecContext(ctx, `UPDATE users SET yt_access_token=$2, yt_expires_at=$3, yt_needs_relink=FALSE, yt_encryption_version=$4, updated_at=NOW() WHERE id=$1`,
			id, a, expiry, v)
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET yt_access_token=$2, yt_refresh_token=$3, yt_expires_at=$4, yt_needs_relink=FALSE, yt_encryption_version=$5, updated_at=NOW() WHERE id=$1`,
		id, a, r, expiry, v)
	return err
}

// AdvanceYouTubeCursor moves the poll cursor forward. Writing the same value
// again is a no-op; rewinding is only possible through LinkYouTube.
func (s *UserStore) AdvanceYouTubeCursor(ctx context.Context, id, cursor string) error {
	if cursor == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET yt_cursor=$2, updated_at=NOW() WHERE id=$1 AND COALESCE(yt_cursor,'') <> $2`, id, cursor)
	return err
}

// SetForwardingRule sets the user's trigger command and direction.
func (s *UserStore) SetForwardingRule(ctx context.Context, id, command, direction string) error {
	if command == "" {
		return errors.New("trigger command is empty")
	}
	if !ValidDirection(direction) {
		return fmt.Errorf("invalid direction %q", direction)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET forward_command=$2, forward_direction=$3, updated_at=NOW() WHERE id=$1`, id, command, direction)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no such user %s", id)
	}
	return nil
}

// SetNeedsRelink flags one of a user's identities as requiring a fresh OAuth
// grant (refresh token revoked or rotated away underneath us).
func (s *UserStore) SetNeedsRelink(ctx context.Context, id, provider string, needs bool) error {
	switch provider {
	case ProviderTwitch:
		_, err := s.db.ExecContext(ctx, `UPDATE users SET twitch_needs_relink=$2, updated_at=NOW() WHERE id=$1`, id, needs)
		return err
	case ProviderYouTube:
		_, err := s.db.ExecContext(ctx, `UPDATE users SET yt_needs_relink=$2, updated_at=NOW() WHERE id=$1`, id, needs)
		return err
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
