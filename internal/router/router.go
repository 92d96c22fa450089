// Package router consumes the inbound message stream and drives the
// per-message pipeline: archive, command extraction, the access
// decision, and dispatch into the command or game lane. Every inbound
// message is archived before any decision is made; denied messages are
// dropped silently.
package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lbento/warden/internal/access"
	"github.com/lbento/warden/internal/archive"
	"github.com/lbento/warden/internal/commands"
	"github.com/lbento/warden/internal/config"
	"github.com/lbento/warden/internal/game"
	"github.com/lbento/warden/internal/transport"
)

// Router wires the transport stream to the access registry, the
// command registry, the game engines, and the archiver.
type Router struct {
	logger   *slog.Logger
	cfg      config.BotConfig
	games    config.GamesConfig
	registry *access.Registry
	archiver *archive.Archiver
	commands *commands.Registry
	trans    transport.Transport

	// sem bounds concurrent command executions; game moves and
	// archival stay on the consumer goroutine.
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New creates a router. All dependencies are required except the
// logger, which falls back to a discard logger.
func New(
	logger *slog.Logger,
	cfg config.BotConfig,
	games config.GamesConfig,
	registry *access.Registry,
	archiver *archive.Archiver,
	cmdRegistry *commands.Registry,
	trans transport.Transport,
) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxConcurrent := cfg.MaxConcurrentCommands
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	return &Router{
		logger:   logger.With("component", "router"),
		cfg:      cfg,
		games:    games,
		registry: registry,
		archiver: archiver,
		commands: cmdRegistry,
		trans:    trans,
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
}

// Run consumes the transport stream until the context is canceled or
// the stream is closed. Messages are processed in arrival order;
// command handlers run concurrently under the semaphore.
func (r *Router) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Router started",
		"prefix", r.cfg.CommandPrefix, "max_concurrent_commands", r.cfg.MaxConcurrentCommands)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.trans.Messages():
			if !ok {
				r.logger.InfoContext(ctx, "Transport stream closed")
				return nil
			}
			r.handle(ctx, &msg)
		}
	}
}

// handle runs the per-message pipeline. Archival is unconditional and
// happens before the decision, so denied traffic is still recorded.
func (r *Router) handle(ctx context.Context, msg *transport.Message) {
	r.archiver.EnqueueMessage(msg, archive.DirectionIn)
	r.archiver.EnqueueMedia(msg)

	name, args, isCommand := commands.Parse(msg.Text, r.cfg.CommandPrefix)

	// Echoes of our own plain traffic end at the archive. A command
	// the owner sends from the bot's own account still runs.
	if msg.FromSelf && !isCommand {
		return
	}

	decision := r.registry.Decide(msg.Sender, msg.Conversation, name)
	if !decision.Allowed {
		r.logger.DebugContext(ctx, "Message denied",
			"sender", msg.Sender, "conversation_id", msg.Conversation)
		return
	}

	switch decision.Reason {
	case access.ReasonGamePlayer:
		r.applyGameInput(ctx, msg)
	case access.ReasonOwner, access.ReasonAllowedCommand:
		if !isCommand {
			// Owner treatment takes precedence over game membership,
			// so an owner playing a game lands here with plain text.
			if sess, ok := r.registry.Session(msg.Conversation); ok {
				sess.Lock()
				playing := sess.HasPlayer(msg.Sender)
				sess.Unlock()
				if playing {
					r.applyGameInput(ctx, msg)
				}
			}
			return
		}
		r.dispatchCommand(ctx, msg, decision, name, args)
	}
}

// dispatchCommand runs one command handler on its own goroutine,
// bounded by the semaphore. A handler error or panic becomes a
// generic error reply; the cause stays in the log.
func (r *Router) dispatchCommand(ctx context.Context, msg *transport.Message, decision access.Decision, name string, args []string) {
	handler, ok := r.commands.Lookup(name)
	if !ok {
		if decision.Reason == access.ReasonOwner {
			r.reply(ctx, msg.Conversation, fmt.Sprintf("Unknown command %q. Try %shelp.", name, r.cfg.CommandPrefix))
		}
		return
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return
	}
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.ErrorContext(ctx, "Command handler panicked",
					"command", name, "sender", msg.Sender, "panic", rec)
				r.reply(ctx, msg.Conversation, "Something went wrong running that command.")
			}
		}()

		// A grant can be revoked between the decision and this point;
		// check again at execution time.
		if decision.Reason == access.ReasonAllowedCommand && !r.registry.IsCommandAllowed(msg.Sender, name) {
			return
		}

		// Only the owner's commands get the processing indicator;
		// granted users run without it.
		if decision.Reason == access.ReasonOwner {
			if err := r.trans.SendTyping(ctx, msg.Conversation); err != nil {
				r.logger.DebugContext(ctx, "Failed to send typing indicator", "error", err)
			}
		}

		inv := &commands.Invocation{
			Args:         args,
			Sender:       msg.Sender,
			Conversation: msg.Conversation,
			IsOwner:      decision.Reason == access.ReasonOwner,
		}

		out, err := handler.Run(ctx, inv)
		if err != nil {
			r.logger.ErrorContext(ctx, "Command handler failed",
				"command", name, "sender", msg.Sender, "error", err)
			r.reply(ctx, msg.Conversation, "Something went wrong running that command.")
			return
		}
		if out != "" {
			r.reply(ctx, msg.Conversation, out)
		}
	}()
}

// applyGameInput feeds one message into the conversation's active
// game. Text that does not parse as game input is ignored without a
// reply so normal chatter can continue around the game.
func (r *Router) applyGameInput(ctx context.Context, msg *transport.Message) {
	sess, ok := r.registry.Session(msg.Conversation)
	if !ok {
		return
	}
	engine, ok := game.EngineFor(sess.Kind)
	if !ok {
		r.logger.ErrorContext(ctx, "No engine for active session", "kind", sess.Kind)
		return
	}

	sess.Lock()
	defer sess.Unlock()

	if sess.Status != game.StatusActive || !engine.ValidInput(sess, msg.Text) {
		return
	}

	result, err := engine.Apply(sess, msg.Sender, msg.Text)
	if err != nil {
		r.logger.ErrorContext(ctx, "Game move failed",
			"conversation_id", msg.Conversation, "kind", sess.Kind, "error", err)
		return
	}

	r.finishMove(ctx, sess, result)
}

// finishMove persists or ends the session after a move and sends the
// reply. Must be called with the session lock held. When the grid
// opponent is the bot, its answering move is scheduled after a short
// delay so the exchange reads naturally.
func (r *Router) finishMove(ctx context.Context, sess *game.Session, result game.Result) {
	if result.Ended {
		r.registry.EndGame(ctx, sess.ConversationID, result.Status)
	} else {
		if err := r.registry.SaveSession(ctx, sess); err != nil {
			r.logger.WarnContext(ctx, "Failed to persist game session",
				"conversation_id", sess.ConversationID, "error", err)
		}
		if sess.Kind == game.KindGrid && sess.CurrentPlayer() == game.BotPlayer {
			conversationID := sess.ConversationID
			time.AfterFunc(r.cfg.BotMoveDelay, func() {
				r.botMove(context.WithoutCancel(ctx), conversationID)
			})
		}
	}

	if result.Reply != "" {
		r.reply(ctx, sess.ConversationID, result.Reply)
	}
}

// botMove plays the bot's grid move: a uniformly random empty cell.
func (r *Router) botMove(ctx context.Context, conversationID string) {
	sess, ok := r.registry.Session(conversationID)
	if !ok {
		return
	}
	engine, ok := game.EngineFor(sess.Kind)
	if !ok {
		return
	}

	sess.Lock()
	defer sess.Unlock()

	if sess.Status != game.StatusActive || sess.CurrentPlayer() != game.BotPlayer {
		return
	}

	move, ok := game.RandomGridMove(sess)
	if !ok {
		return
	}

	result, err := engine.Apply(sess, game.BotPlayer, move)
	if err != nil {
		r.logger.ErrorContext(ctx, "Bot move failed",
			"conversation_id", conversationID, "error", err)
		return
	}
	r.finishMove(ctx, sess, result)
}

// Sweep ends idle sessions and finalizes expired relay join windows.
// Run on a fixed cadence by the scheduler.
func (r *Router) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	for _, sess := range r.registry.Sessions() {
		sess.Lock()

		if result, ok := game.FinalizeRelayJoin(sess); ok {
			r.finishMove(ctx, sess, result)
			sess.Unlock()
			continue
		}

		if sess.Status == game.StatusActive && now.Sub(sess.LastMoveAt) > r.games.IdleTimeout {
			conversationID := sess.ConversationID
			r.registry.EndGame(ctx, conversationID, game.StatusTimeout)
			sess.Unlock()
			r.reply(ctx, conversationID, "The game timed out from inactivity.")
			continue
		}

		sess.Unlock()
	}
	return nil
}

// ForceEndGame ends a conversation's session with the given status,
// notifying the conversation. Reports whether a session existed.
func (r *Router) ForceEndGame(ctx context.Context, conversationID string, status game.Status) bool {
	sess, ok := r.registry.Session(conversationID)
	if !ok {
		return false
	}

	sess.Lock()
	ended := r.registry.EndGame(ctx, conversationID, status)
	sess.Unlock()

	if ended {
		r.reply(ctx, conversationID, "Game ended.")
	}
	return ended
}

// reply sends a text reply and archives it as outbound traffic.
func (r *Router) reply(ctx context.Context, conversationID, text string) {
	if err := r.trans.SendText(ctx, conversationID, text); err != nil {
		r.logger.ErrorContext(ctx, "Failed to send reply",
			"conversation_id", conversationID, "error", err)
		return
	}

	r.archiver.EnqueueMessage(&transport.Message{
		ID:           uuid.NewString(),
		Sender:       r.trans.SelfID(),
		Conversation: conversationID,
		Text:         text,
		Kind:         "text",
		Timestamp:    time.Now().UTC(),
		FromSelf:     true,
	}, archive.DirectionOut)
}

// Shutdown waits for in-flight command handlers, bounded by the
// configured shutdown timeout, then flushes the archive queue.
func (r *Router) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timeout := r.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.Warn("Shutdown timeout reached with commands still in flight")
	case <-ctx.Done():
	}

	r.archiver.Flush(ctx)
	r.logger.Info("Router stopped", "stats", fmt.Sprintf("%+v", r.archiver.Stats()))
}
