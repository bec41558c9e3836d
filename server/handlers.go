package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-relay/config"
	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/twitchapi"
	"github.com/onnwee/chat-relay/youtubeapi"
)

const (
	// Maximum number of pending OAuth states to keep in memory
	maxOAuthStates = 10000

	stateTTL = 10 * time.Minute

	userCookie = "relay_uid"
)

// RelayEngine is the slice of the relay engine the web layer drives: link and
// unlink notifications plus counters for the status endpoint.
type RelayEngine interface {
	OnUserLinked(userID, provider string)
	OnUserUnlinked(userID, provider string)
	SetForwardingRule(ctx context.Context, userID, command, direction string) error
	Counts() (pollers, channels int)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx    context.Context
	cfg    *config.Config
	db     *sql.DB
	store  *db.UserStore
	engine RelayEngine
	yt     *youtubeapi.Service
	helix  *twitchapi.HelixClient

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, cfg *config.Config, sqlDB *sql.DB, store *db.UserStore, engine RelayEngine, yt *youtubeapi.Service, helix *twitchapi.HelixClient) *Handlers {
	return &Handlers{
		ctx:        ctx,
		cfg:        cfg,
		db:         sqlDB,
		store:      store,
		engine:     engine,
		yt:         yt,
		helix:      helix,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// Call with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState registers a pending state with cleanup if needed.
func (h *Handlers) addOAuthState(state string) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// Over the limit even after cleanup: refuse to add. The flow fails,
	// which beats memory exhaustion.
	if len(h.stateStore) >= maxOAuthStates {
		return
	}

	h.stateStore[state] = time.Now().Add(stateTTL)
}

// consumeOAuthState validates and removes a pending state. Returns false when
// the state is unknown or expired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

// userID returns the caller's opaque user id, minting one into a cookie on
// first contact. Account linking is keyed by this id.
func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(userCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
	})
	return id
}
