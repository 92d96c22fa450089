// Package game implements the turn-based game engines embedded in the
// message router: a 3x3 grid game, a shared word-guessing game, and a
// turn-based word relay variant. Engines are stateless; all game state
// lives in the Session, which is JSON-serializable so the access
// registry can persist it across restarts.
package game

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lbento/warden/internal/identity"
)

// Kind identifies a game engine. The set is closed; adding a kind
// means adding an engine, not touching the router.
type Kind string

const (
	// KindGrid is the two-player 3x3 grid game.
	KindGrid Kind = "tictactoe"
	// KindWord is the shared word-guessing game.
	KindWord Kind = "hangman"
	// KindRelay is the turn-based word relay variant.
	KindRelay Kind = "wordrelay"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
	StatusTied    Status = "tied"
	StatusQuit    Status = "quit"
	StatusTimeout Status = "timeout"
)

// Input tokens recognized across game kinds.
const (
	QuitToken = "quit"
	HintToken = "hint"
	JoinToken = "join"
)

// BotPlayer is the synthetic non-human participant. Its grid moves
// are chosen uniformly at random among empty cells by the router.
const BotPlayer = "bot"

// Settings carries the configurable game parameters chosen at session
// creation time.
type Settings struct {
	MaxWrongGuesses int
	JoinWindow      time.Duration
}

// Session holds the full state of one active game, scoped to a single
// conversation. Grid and Word form a tagged union selected by Kind.
// The embedded mutex serializes move application per conversation;
// callers must hold it across ValidInput/Apply pairs.
type Session struct {
	mu sync.Mutex

	ConversationID string    `json:"conversation_id"`
	Kind           Kind      `json:"kind"`
	Players        []string  `json:"players"`
	Status         Status    `json:"status"`
	TurnIndex      int       `json:"turn_index"`
	StartedAt      time.Time `json:"started_at"`
	LastMoveAt     time.Time `json:"last_move_at"`

	Grid *GridState `json:"grid,omitempty"`
	Word *WordState `json:"word,omitempty"`
}

// Lock acquires the session's move mutex.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's move mutex.
func (s *Session) Unlock() { s.mu.Unlock() }

// CurrentPlayer returns the identity whose turn it is.
func (s *Session) CurrentPlayer() string {
	if len(s.Players) == 0 {
		return ""
	}
	return s.Players[s.TurnIndex%len(s.Players)]
}

// HasPlayer reports whether the raw identity is one of the session's
// players. The synthetic bot slot never matches a raw identity.
func (s *Session) HasPlayer(raw string) bool {
	for _, p := range s.Players {
		if p == BotPlayer {
			continue
		}
		if identity.Equal(p, raw) {
			return true
		}
	}
	return false
}

// playerIndex returns the slot index for the raw identity, or -1.
func (s *Session) playerIndex(raw string) int {
	for i, p := range s.Players {
		if p == BotPlayer {
			if raw == BotPlayer {
				return i
			}
			continue
		}
		if identity.Equal(p, raw) {
			return i
		}
	}
	return -1
}

// Marshal serializes the session state for persistence.
func (s *Session) Marshal() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal game session: %w", err)
	}
	return string(data), nil
}

// UnmarshalSession restores a session from its persisted form.
func UnmarshalSession(data string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game session: %w", err)
	}
	return &s, nil
}

// Result is the outcome of applying one input to a session.
type Result struct {
	// Reply is the text to send back, empty for silent acceptance.
	Reply string
	// Ended reports whether the session reached a terminal status.
	Ended bool
	// Status is the session status after the move.
	Status Status
	// Winner is the winning player's identity when Status is won.
	Winner string
}

// Engine is the contract every game kind implements. Engines hold no
// state of their own; sessions are mutated in place under their lock.
type Engine interface {
	// Kind returns the engine's kind tag.
	Kind() Kind

	// Start initializes the kind-specific state on a fresh session and
	// returns the opening prompt.
	Start(s *Session, settings Settings) (string, error)

	// ValidInput is a syntactic pre-filter: it reports whether the raw
	// text is game input at all, so the router can ignore unrelated
	// chatter without replying. It never mutates the session.
	ValidInput(s *Session, text string) bool

	// Apply processes one input from a player. Rejected moves return a
	// guidance reply with the session unchanged.
	Apply(s *Session, player, text string) (Result, error)

	// Info renders the current progress (board, masked word)
	// deterministically from state alone.
	Info(s *Session) string
}

var engines = map[Kind]Engine{
	KindGrid:  &gridEngine{},
	KindWord:  &wordEngine{},
	KindRelay: &wordEngine{relay: true},
}

// EngineFor returns the engine for a kind.
func EngineFor(k Kind) (Engine, bool) {
	e, ok := engines[k]
	return e, ok
}

// Kinds returns all registered game kinds.
func Kinds() []Kind {
	return []Kind{KindGrid, KindWord, KindRelay}
}

// NewSession creates and initializes a session for the given kind,
// returning the session and its opening prompt. Player identities are
// stored in canonical form, except the synthetic bot slot.
func NewSession(conversationID string, kind Kind, players []string, settings Settings) (*Session, string, error) {
	engine, ok := EngineFor(kind)
	if !ok {
		return nil, "", fmt.Errorf("unknown game kind %q", kind)
	}

	canonical := make([]string, 0, len(players))
	for _, p := range players {
		if p == BotPlayer {
			canonical = append(canonical, BotPlayer)
			continue
		}
		norm := identity.Normalize(p)
		if norm == "" {
			return nil, "", fmt.Errorf("invalid player identity %q", p)
		}
		canonical = append(canonical, norm)
	}

	now := time.Now().UTC()
	s := &Session{
		ConversationID: conversationID,
		Kind:           kind,
		Players:        canonical,
		Status:         StatusActive,
		StartedAt:      now,
		LastMoveAt:     now,
	}

	prompt, err := engine.Start(s, settings)
	if err != nil {
		return nil, "", err
	}
	return s, prompt, nil
}

func (s *Session) touch() {
	s.LastMoveAt = time.Now().UTC()
}
