// Package bot orchestrates the application components' lifecycle: the
// transport listener, the message router, and the background task
// scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lbento/warden/internal/router"
	"github.com/lbento/warden/internal/transport"
)

// Bot ties the long-running components together and manages their
// startup and graceful shutdown.
type Bot struct {
	logger    *slog.Logger
	trans     transport.Transport
	router    *router.Router
	scheduler *Scheduler
}

// New creates the orchestrator.
func New(logger *slog.Logger, trans transport.Transport, r *router.Router, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		trans:     trans,
		router:    r,
		scheduler: scheduler,
	}
}

// Run starts all components and blocks until the context is canceled
// or a component fails. Shutdown drains in-flight work before
// returning.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.trans.Start(gCtx); err != nil && gCtx.Err() == nil {
			return fmt.Errorf("transport stopped unexpectedly: %w", err)
		}
		b.logger.Info("Transport stopped")
		return nil
	})

	g.Go(func() error {
		err := b.router.Run(gCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("router stopped unexpectedly: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()

	// The router drains command handlers and the archive queue after
	// the transport has stopped producing messages.
	b.router.Shutdown(context.WithoutCancel(ctx))

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully")
	return nil
}
