// Package main contains the entrypoint for the warden chat agent.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/lbento/warden/internal/access"
	"github.com/lbento/warden/internal/ai"
	"github.com/lbento/warden/internal/archive"
	"github.com/lbento/warden/internal/bot"
	"github.com/lbento/warden/internal/commands"
	"github.com/lbento/warden/internal/config"
	"github.com/lbento/warden/internal/database"
	"github.com/lbento/warden/internal/logger"
	"github.com/lbento/warden/internal/router"
	"github.com/lbento/warden/internal/transport/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, starts the orchestrator, and
// returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	registry := access.NewRegistry(ctx, store, log)
	if registry.Owner() == "" && cfg.Bot.Owner != "" {
		if err := registry.SetOwner(ctx, cfg.Bot.Owner); err != nil {
			log.Error("Failed to record configured owner", "error", err)
			return 1
		}
		log.Info("Owner recorded from configuration")
	}

	archiver, err := archive.New(log, store, archive.Config{
		Dir:            cfg.Archive.Dir,
		MediaDir:       cfg.Archive.MediaDir,
		BatchSize:      cfg.Archive.BatchSize,
		MaxQueueLength: cfg.Archive.MaxQueueLength,
		MaxRetries:     cfg.Archive.MaxRetries,
	})
	if err != nil {
		log.Error("Failed to initialize archiver", "error", err)
		return 1
	}

	aiClient, err := ai.NewClient(ctx, cfg.AI, log)
	if err != nil {
		log.Error("Failed to initialize AI client", "error", err)
		return 1
	}

	cmdRegistry := commands.NewRegistry(commands.Deps{
		Logger:   log,
		Registry: registry,
		Archiver: archiver,
		AI:       aiClient,
		Games:    cfg.Games,
		Prefix:   cfg.Bot.CommandPrefix,
	})

	trans, err := telegram.New(cfg.Telegram.Token, log)
	if err != nil {
		log.Error("Failed to create Telegram transport", "error", err)
		return 1
	}

	rtr := router.New(log, cfg.Bot, cfg.Games, registry, archiver, cmdRegistry, trans)

	sched, err := bot.NewScheduler(log, map[string]bot.Task{
		"archive_drain": {
			Definition: gocron.DurationJob(cfg.Archive.DrainInterval),
			Run:        archiver.Drain,
		},
		"game_sweep": {
			Definition: gocron.DurationJob(cfg.Games.SweepInterval),
			Run:        rtr.Sweep,
		},
		"sql_maintenance": {
			Definition: gocron.CronJob("0 4 * * *", false),
			Run:        store.RunSQLMaintenance,
		},
	})
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.New(log, trans, rtr, sched)

	log.Info("Starting warden")
	runErr := app.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Warden stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Warden stopped gracefully")
	time.Sleep(time.Second)
	return 0
}
