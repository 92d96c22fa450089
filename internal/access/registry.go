// Package access implements the access-control registry: the owner
// identity, per-user command grants, and the active game session per
// conversation, together with the routing decision that combines
// them. All state is held in memory and written through to the store
// on every mutation; reads never touch the database.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lbento/warden/internal/database"
	"github.com/lbento/warden/internal/game"
	"github.com/lbento/warden/internal/identity"
)

// ErrGameActive is returned when starting a game in a conversation
// that already has one running.
var ErrGameActive = errors.New("a game is already active in this conversation")

// ErrOwnerGrant is returned when trying to record a grant for the
// owner, who does not accumulate grants.
var ErrOwnerGrant = errors.New("the owner does not need command grants")

// Reason explains a routing decision.
type Reason string

const (
	ReasonOwner          Reason = "owner"
	ReasonGamePlayer     Reason = "game_player"
	ReasonAllowedCommand Reason = "allowed_command"
	ReasonDenied         Reason = "denied"
)

// Decision is the allow/deny outcome for one inbound message. It is
// computed fresh per message and never persisted.
type Decision struct {
	Allowed  bool
	Reason   Reason
	GameKind game.Kind
	Command  string
}

// Registry owns the mutable access-control state. Concurrent reads
// and decisions are supported; mutations are serialized by the
// registry mutex, and move application within one session by the
// session's own lock.
type Registry struct {
	logger *slog.Logger
	store  database.Store

	mu       sync.RWMutex
	owner    string // canonical form
	grants   map[string]map[string]struct{}
	sessions map[string]*game.Session
}

// NewRegistry creates a registry and loads persisted state. Read
// failures are non-fatal: they are logged and the affected state
// starts empty.
func NewRegistry(ctx context.Context, store database.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Registry{
		logger:   logger.With("component", "access_registry"),
		store:    store,
		grants:   make(map[string]map[string]struct{}),
		sessions: make(map[string]*game.Session),
	}
	r.load(ctx)
	return r
}

func (r *Registry) load(ctx context.Context) {
	owner, err := r.store.GetOwner(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to load owner, starting without one", "error", err)
	} else {
		r.owner = identity.Normalize(owner)
	}

	grants, err := r.store.ListGrants(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to load grants, starting empty", "error", err)
	} else {
		for id, commands := range grants {
			set := make(map[string]struct{}, len(commands))
			for _, c := range commands {
				set[c] = struct{}{}
			}
			r.grants[id] = set
		}
	}

	sessions, err := r.store.ListGameSessions(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to load game sessions, starting empty", "error", err)
		return
	}
	for convID, state := range sessions {
		s, err := game.UnmarshalSession(state)
		if err != nil {
			r.logger.WarnContext(ctx, "Skipping corrupt game session", "conversation_id", convID, "error", err)
			continue
		}
		if s.Status != game.StatusActive {
			continue
		}
		r.sessions[convID] = s
	}

	r.logger.InfoContext(ctx, "Access registry loaded",
		"has_owner", r.owner != "",
		"granted_users", len(r.grants),
		"active_games", len(r.sessions))
}

// SetOwner records the owner identity, replacing any previous one.
// Idempotent. The write failure, if any, is returned after the
// in-memory state is applied.
func (r *Registry) SetOwner(ctx context.Context, raw string) error {
	norm := identity.Normalize(raw)
	if norm == "" {
		return fmt.Errorf("invalid owner identity %q", raw)
	}

	r.mu.Lock()
	r.owner = norm
	r.mu.Unlock()

	if err := r.store.SetOwner(ctx, norm); err != nil {
		return fmt.Errorf("owner updated in memory but not persisted: %w", err)
	}
	return nil
}

// Owner returns the canonical owner identity, or "" when unset.
func (r *Registry) Owner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// IsOwner reports whether the raw identity is the recorded owner.
func (r *Registry) IsOwner(raw string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner != "" && identity.Normalize(raw) == r.owner
}

// Allow records a (user, command) grant. Grants for the owner are
// rejected. The write failure, if any, is returned after the
// in-memory state is applied.
func (r *Registry) Allow(ctx context.Context, userRaw, command string) error {
	norm := identity.Normalize(userRaw)
	if norm == "" {
		return fmt.Errorf("invalid user identity %q", userRaw)
	}
	if command == "" {
		return fmt.Errorf("command name cannot be empty")
	}

	r.mu.Lock()
	if r.owner == norm {
		r.mu.Unlock()
		return ErrOwnerGrant
	}
	set, ok := r.grants[norm]
	if !ok {
		set = make(map[string]struct{})
		r.grants[norm] = set
	}
	set[command] = struct{}{}
	r.mu.Unlock()

	if err := r.store.AddGrant(ctx, norm, command); err != nil {
		return fmt.Errorf("grant applied in memory but not persisted: %w", err)
	}

	r.logger.InfoContext(ctx, "Command grant added", "identity", norm, "command", command)
	return nil
}

// Disallow removes a (user, command) grant. Removing the last grant
// for a user removes the user's entry entirely.
func (r *Registry) Disallow(ctx context.Context, userRaw, command string) error {
	norm := identity.Normalize(userRaw)
	if norm == "" {
		return fmt.Errorf("invalid user identity %q", userRaw)
	}

	r.mu.Lock()
	if set, ok := r.grants[norm]; ok {
		delete(set, command)
		if len(set) == 0 {
			delete(r.grants, norm)
		}
	}
	r.mu.Unlock()

	if err := r.store.RemoveGrant(ctx, norm, command); err != nil {
		return fmt.Errorf("grant removed in memory but not persisted: %w", err)
	}

	r.logger.InfoContext(ctx, "Command grant removed", "identity", norm, "command", command)
	return nil
}

// IsCommandAllowed reports whether the user holds a grant for the
// command. Exact-match membership; identity equality is baked into
// the stored canonical keys.
func (r *Registry) IsCommandAllowed(userRaw, command string) bool {
	norm := identity.Normalize(userRaw)
	if norm == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.grants[norm][command]
	return ok
}

// Grants returns the sorted commands granted to the user.
func (r *Registry) Grants(userRaw string) []string {
	norm := identity.Normalize(userRaw)

	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.grants[norm]
	if !ok {
		return nil
	}
	commands := make([]string, 0, len(set))
	for c := range set {
		commands = append(commands, c)
	}
	sort.Strings(commands)
	return commands
}

// AllGrants returns a copy of every grant, grouped by identity.
func (r *Registry) AllGrants() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grants := make(map[string][]string, len(r.grants))
	for id, set := range r.grants {
		commands := make([]string, 0, len(set))
		for c := range set {
			commands = append(commands, c)
		}
		sort.Strings(commands)
		grants[id] = commands
	}
	return grants
}

// StartGame creates a new session for the conversation, enforcing the
// one-session-per-conversation invariant. On ErrGameActive the
// existing session is untouched. A persistence failure is returned
// alongside the created session, which stays active in memory.
func (r *Registry) StartGame(ctx context.Context, conversationID string, kind game.Kind, players []string, settings game.Settings) (*game.Session, string, error) {
	r.mu.Lock()
	if existing, ok := r.sessions[conversationID]; ok && existing.Status == game.StatusActive {
		r.mu.Unlock()
		return nil, "", ErrGameActive
	}

	s, prompt, err := game.NewSession(conversationID, kind, players, settings)
	if err != nil {
		r.mu.Unlock()
		return nil, "", err
	}
	r.sessions[conversationID] = s
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "Game session started",
		"conversation_id", conversationID, "kind", kind, "players", len(players))

	if err := r.SaveSession(ctx, s); err != nil {
		return s, prompt, err
	}
	return s, prompt, nil
}

// Session returns the conversation's active session, if any.
func (r *Registry) Session(conversationID string) (*game.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[conversationID]
	return s, ok
}

// Sessions returns a snapshot of all active sessions.
func (r *Registry) Sessions() []*game.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*game.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SaveSession writes the session's current state through to the store.
func (r *Registry) SaveSession(ctx context.Context, s *game.Session) error {
	state, err := s.Marshal()
	if err != nil {
		return err
	}
	if err := r.store.SaveGameSession(ctx, s.ConversationID, state); err != nil {
		return fmt.Errorf("game session active in memory but not persisted: %w", err)
	}
	return nil
}

// EndGame removes the conversation's session from the active set,
// records it in history with the given terminal status, and reports
// whether a session existed. Callers that are applying a move must
// hold the session lock.
func (r *Registry) EndGame(ctx context.Context, conversationID string, status game.Status) bool {
	r.mu.Lock()
	s, ok := r.sessions[conversationID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, conversationID)
	r.mu.Unlock()

	if s.Status == game.StatusActive {
		s.Status = status
	}

	if err := r.store.DeleteGameSession(ctx, conversationID); err != nil {
		r.logger.ErrorContext(ctx, "Failed to delete persisted game session",
			"conversation_id", conversationID, "error", err)
	}

	players, err := json.Marshal(s.Players)
	if err != nil {
		players = []byte("[]")
	}
	history := &database.GameHistory{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           string(s.Kind),
		Status:         string(s.Status),
		Players:        string(players),
		StartedAt:      s.StartedAt,
		EndedAt:        time.Now().UTC(),
	}
	if err := r.store.AppendGameHistory(ctx, history); err != nil {
		r.logger.ErrorContext(ctx, "Failed to append game history",
			"conversation_id", conversationID, "error", err)
	}

	r.logger.InfoContext(ctx, "Game session ended",
		"conversation_id", conversationID, "kind", s.Kind, "status", s.Status)
	return true
}

// Decide computes the routing decision for one inbound message.
// Precedence is fixed and total: owner beats game membership beats
// explicit grant beats default deny. An owner typing inside an active
// game they did not start still gets owner treatment.
func (r *Registry) Decide(senderRaw, conversationID, command string) Decision {
	norm := identity.Normalize(senderRaw)

	r.mu.RLock()
	isOwner := r.owner != "" && norm == r.owner
	sess := r.sessions[conversationID]
	_, hasGrant := r.grants[norm][command]
	r.mu.RUnlock()

	if isOwner {
		return Decision{Allowed: true, Reason: ReasonOwner, Command: command}
	}

	// Status and Players belong to the session and may be mutated by a
	// concurrent move under the session lock, so they are read under it
	// here, after the registry lock is released.
	if sess != nil {
		sess.Lock()
		playing := sess.Status == game.StatusActive && sess.HasPlayer(senderRaw)
		kind := sess.Kind
		sess.Unlock()
		if playing {
			return Decision{Allowed: true, Reason: ReasonGamePlayer, GameKind: kind, Command: command}
		}
	}

	if command != "" && norm != "" && hasGrant {
		return Decision{Allowed: true, Reason: ReasonAllowedCommand, Command: command}
	}

	return Decision{Allowed: false, Reason: ReasonDenied}
}
