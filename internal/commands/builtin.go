package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lbento/warden/internal/access"
	"github.com/lbento/warden/internal/game"
	"github.com/lbento/warden/internal/identity"
)

const notAuthorizedReply = "You are not authorized to do that."

func newPingHandler(_ Deps) HandlerFunc {
	return func(_ context.Context, _ *Invocation) (string, error) {
		return "pong", nil
	}
}

func newHelpHandler(deps Deps, registry *Registry) HandlerFunc {
	return func(_ context.Context, inv *Invocation) (string, error) {
		var sb strings.Builder
		sb.WriteString("Commands:\n")
		for _, name := range registry.Names() {
			h, _ := registry.Lookup(name)
			fmt.Fprintf(&sb, "%s%s: %s\n", deps.Prefix, name, h.Description)
		}

		if !inv.IsOwner {
			if grants := deps.Registry.Grants(inv.Sender); len(grants) > 0 {
				fmt.Fprintf(&sb, "\nYou may use: %s", strings.Join(grants, ", "))
			}
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}
}

func newAllowHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		if !inv.IsOwner {
			return notAuthorizedReply, nil
		}
		if len(inv.Args) < 2 {
			return fmt.Sprintf("Usage: %sallow <user> <command>", deps.Prefix), nil
		}

		user := cleanUserArg(inv.Args[0])
		command := strings.ToLower(inv.Args[1])
		if identity.Normalize(user) == "" {
			return fmt.Sprintf("%q does not look like a user identity.", inv.Args[0]), nil
		}

		if err := deps.Registry.Allow(ctx, user, command); err != nil {
			if errors.Is(err, access.ErrOwnerGrant) {
				return "The owner can already use every command.", nil
			}
			return "", fmt.Errorf("allow failed: %w", err)
		}
		return fmt.Sprintf("+%s may now use %s%s.", identity.Normalize(user), deps.Prefix, command), nil
	}
}

func newDisallowHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		if !inv.IsOwner {
			return notAuthorizedReply, nil
		}
		if len(inv.Args) < 2 {
			return fmt.Sprintf("Usage: %sdisallow <user> <command>", deps.Prefix), nil
		}

		user := cleanUserArg(inv.Args[0])
		command := strings.ToLower(inv.Args[1])
		if identity.Normalize(user) == "" {
			return fmt.Sprintf("%q does not look like a user identity.", inv.Args[0]), nil
		}

		if err := deps.Registry.Disallow(ctx, user, command); err != nil {
			return "", fmt.Errorf("disallow failed: %w", err)
		}
		return fmt.Sprintf("+%s may no longer use %s%s.", identity.Normalize(user), deps.Prefix, command), nil
	}
}

func newGrantsHandler(deps Deps) HandlerFunc {
	return func(_ context.Context, inv *Invocation) (string, error) {
		if !inv.IsOwner {
			grants := deps.Registry.Grants(inv.Sender)
			if len(grants) == 0 {
				return "You have no command grants.", nil
			}
			return "You may use: " + strings.Join(grants, ", "), nil
		}

		all := deps.Registry.AllGrants()
		if len(all) == 0 {
			return "No command grants recorded.", nil
		}

		users := make([]string, 0, len(all))
		for user := range all {
			users = append(users, user)
		}
		sort.Strings(users)

		var sb strings.Builder
		sb.WriteString("Grants:\n")
		for _, user := range users {
			fmt.Fprintf(&sb, "+%s: %s\n", user, strings.Join(all[user], ", "))
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}
}

func newTictactoeHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		opponent := game.BotPlayer
		if len(inv.Args) > 0 {
			token := cleanUserArg(inv.Args[0])
			if !strings.EqualFold(token, game.BotPlayer) {
				if identity.Normalize(token) == "" {
					return fmt.Sprintf("%q does not look like a player identity.", inv.Args[0]), nil
				}
				if identity.Equal(token, inv.Sender) {
					return "You can't play against yourself. Leave the opponent out to play the bot.", nil
				}
				opponent = token
			}
		}

		return startGame(ctx, deps, inv, game.KindGrid, []string{inv.Sender, opponent})
	}
}

func newHangmanHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		return startGame(ctx, deps, inv, game.KindWord, []string{inv.Sender})
	}
}

func newWordRelayHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		return startGame(ctx, deps, inv, game.KindRelay, []string{inv.Sender})
	}
}

// startGame starts a session, translating the already-active case
// into guidance. A persistence failure still leaves the session
// playable, so the prompt is sent and the failure logged.
func startGame(ctx context.Context, deps Deps, inv *Invocation, kind game.Kind, players []string) (string, error) {
	settings := game.Settings{
		MaxWrongGuesses: deps.Games.MaxWrongGuesses,
		JoinWindow:      deps.Games.JoinWindow,
	}

	sess, prompt, err := deps.Registry.StartGame(ctx, inv.Conversation, kind, players, settings)
	if err != nil {
		if errors.Is(err, access.ErrGameActive) {
			return fmt.Sprintf("A game is already running here. End it first with %sendgame.", deps.Prefix), nil
		}
		if sess == nil {
			return "", fmt.Errorf("failed to start %s: %w", kind, err)
		}
		deps.Logger.WarnContext(ctx, "Game started but session not persisted",
			"conversation_id", inv.Conversation, "kind", kind, "error", err)
	}
	return prompt, nil
}

func newGameInfoHandler(deps Deps) HandlerFunc {
	return func(_ context.Context, inv *Invocation) (string, error) {
		sess, ok := deps.Registry.Session(inv.Conversation)
		if !ok {
			return "No game is running here.", nil
		}

		engine, ok := game.EngineFor(sess.Kind)
		if !ok {
			return "", fmt.Errorf("no engine for game kind %q", sess.Kind)
		}

		sess.Lock()
		info := engine.Info(sess)
		sess.Unlock()
		return info, nil
	}
}

func newEndGameHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		sess, ok := deps.Registry.Session(inv.Conversation)
		if !ok {
			return "No game is running here.", nil
		}
		sess.Lock()
		if !inv.IsOwner && !sess.HasPlayer(inv.Sender) {
			sess.Unlock()
			return notAuthorizedReply, nil
		}
		deps.Registry.EndGame(ctx, inv.Conversation, game.StatusQuit)
		sess.Unlock()
		return "Game ended.", nil
	}
}

func newStatsHandler(deps Deps) HandlerFunc {
	return func(_ context.Context, inv *Invocation) (string, error) {
		if !inv.IsOwner {
			return notAuthorizedReply, nil
		}

		stats := deps.Archiver.Stats()
		return fmt.Sprintf(
			"Archive: %d archived, %d queued, %d retried, %d dropped (%d evicted)\nMedia: %d stored, %d deduplicated\nActive games: %d",
			stats.Archived, stats.QueueLength, stats.Retried, stats.Dropped, stats.Evicted,
			stats.MediaStored, stats.MediaDeduped,
			len(deps.Registry.Sessions()),
		), nil
	}
}

func newAskHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		prompt := strings.TrimSpace(strings.Join(inv.Args, " "))
		if prompt == "" {
			return "Ask me something.", nil
		}

		answer, err := deps.AI.Ask(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("ask failed: %w", err)
		}
		return answer, nil
	}
}

// cleanUserArg strips the decorations mention arguments arrive with.
func cleanUserArg(arg string) string {
	return strings.TrimLeft(arg, "@+")
}
