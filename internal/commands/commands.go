// Package commands implements the command handler registry and the
// builtin commands. Handlers return the reply text; validation
// problems are replies to the user, never errors. An error return is
// a system fault that the router logs and answers generically.
package commands

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/lbento/warden/internal/access"
	"github.com/lbento/warden/internal/ai"
	"github.com/lbento/warden/internal/archive"
	"github.com/lbento/warden/internal/config"
)

// Deps contains the dependencies available to command handlers.
type Deps struct {
	Logger   *slog.Logger
	Registry *access.Registry
	Archiver *archive.Archiver
	AI       *ai.Client
	Games    config.GamesConfig
	// Prefix is the command prefix, used when rendering help text.
	Prefix string
}

// Invocation carries one command execution's inputs.
type Invocation struct {
	// Args are the whitespace-split tokens after the command name.
	Args []string
	// Sender is the raw sender identity.
	Sender string
	// Conversation is the raw conversation identity.
	Conversation string
	// IsOwner reports whether the sender is the bot owner. Handlers
	// gate administrative actions on it.
	IsOwner bool
}

// HandlerFunc executes one command and returns the reply text.
type HandlerFunc func(ctx context.Context, inv *Invocation) (string, error)

// Handler pairs a command implementation with its help line.
type Handler struct {
	Description string
	Run         HandlerFunc
}

// Registry maps command names to handlers.
type Registry struct {
	logger   *slog.Logger
	handlers map[string]Handler
}

// NewRegistry builds the registry with all builtin commands. The ask
// command is registered only when an AI client is configured.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Registry{
		logger:   deps.Logger.With("component", "command_registry"),
		handlers: make(map[string]Handler),
	}

	r.handlers["ping"] = Handler{
		Description: "Check that the bot is alive",
		Run:         newPingHandler(deps),
	}
	r.handlers["help"] = Handler{
		Description: "List available commands",
		Run:         newHelpHandler(deps, r),
	}
	r.handlers["allow"] = Handler{
		Description: "Grant a user a command (owner only)",
		Run:         newAllowHandler(deps),
	}
	r.handlers["disallow"] = Handler{
		Description: "Revoke a user's command grant (owner only)",
		Run:         newDisallowHandler(deps),
	}
	r.handlers["grants"] = Handler{
		Description: "Show command grants",
		Run:         newGrantsHandler(deps),
	}
	r.handlers["tictactoe"] = Handler{
		Description: "Start a tic-tac-toe game (opponent or bot)",
		Run:         newTictactoeHandler(deps),
	}
	r.handlers["hangman"] = Handler{
		Description: "Start a word-guessing game",
		Run:         newHangmanHandler(deps),
	}
	r.handlers["wordrelay"] = Handler{
		Description: "Start a turn-based word relay",
		Run:         newWordRelayHandler(deps),
	}
	r.handlers["game"] = Handler{
		Description: "Show the current game's progress",
		Run:         newGameInfoHandler(deps),
	}
	r.handlers["endgame"] = Handler{
		Description: "End the current game",
		Run:         newEndGameHandler(deps),
	}
	r.handlers["stats"] = Handler{
		Description: "Show archive statistics (owner only)",
		Run:         newStatsHandler(deps),
	}
	if deps.AI != nil {
		r.handlers["ask"] = Handler{
			Description: "Ask the AI a question",
			Run:         newAskHandler(deps),
		}
	}

	r.logger.Info("Command registry initialized", "count", len(r.handlers))
	return r
}

// Lookup returns the handler for a command name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered command names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse extracts a command from message text. The text must start
// with the configured prefix; the remainder splits on whitespace into
// a lowercased name and its args. A missing prefix yields no command,
// not an error.
func Parse(text, prefix string) (name string, args []string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(trimmed, prefix) {
		return "", nil, false
	}

	fields := strings.Fields(trimmed[len(prefix):])
	if len(fields) == 0 || fields[0] == "" {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
