// Package config loads and validates the warden configuration from a
// YAML file, WARDEN_* environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all warden
// components: logging, transport, routing, persistence, archival,
// games, and the optional AI command.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Bot      BotConfig      `mapstructure:"bot"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Games    GamesConfig    `mapstructure:"games"`
	AI       AIConfig       `mapstructure:"ai"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds transport credentials.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
}

// BotConfig holds routing behavior settings.
type BotConfig struct {
	// Owner seeds the owner identity on first start when the store has
	// none recorded. Optional; ownership can also be claimed later via
	// the store directly.
	Owner string `mapstructure:"owner"`

	CommandPrefix         string        `mapstructure:"command_prefix"          validate:"required"`
	MaxConcurrentCommands int64         `mapstructure:"max_concurrent_commands" validate:"min=1,max=64"`
	BotMoveDelay          time.Duration `mapstructure:"bot_move_delay"          validate:"min=0,max=30s"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"        validate:"min=1s,max=5m"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ArchiveConfig controls the archival queue and media store.
type ArchiveConfig struct {
	Dir           string        `mapstructure:"dir"            validate:"required"`
	MediaDir      string        `mapstructure:"media_dir"      validate:"required"`
	DrainInterval time.Duration `mapstructure:"drain_interval" validate:"min=100ms,max=1m"`
	BatchSize     int           `mapstructure:"batch_size"     validate:"min=1,max=1000"`

	// MaxQueueLength bounds queue memory; zero means unbounded. When
	// the bound is hit the oldest item is evicted and counted.
	MaxQueueLength int `mapstructure:"max_queue_length" validate:"min=0"`
	MaxRetries     int `mapstructure:"max_retries"      validate:"min=0,max=10"`
}

// GamesConfig controls game session behavior.
type GamesConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"      validate:"min=1m,max=24h"`
	JoinWindow      time.Duration `mapstructure:"join_window"       validate:"min=10s,max=10m"`
	MaxWrongGuesses int           `mapstructure:"max_wrong_guesses" validate:"min=1,max=25"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"    validate:"min=10s,max=10m"`
}

// AIConfig configures the optional genai-backed ask command. The
// command is registered only when an API key is present.
type AIConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0,max=5"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"min=0,max=1m"`
}

// ErrConfiguration indicates invalid or unloadable configuration.
var ErrConfiguration = errors.New("configuration error")

// Load reads configuration from the given YAML file (missing file is
// allowed), applies WARDEN_* environment overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}
		// Missing config file is fine, defaults plus env apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("bot.command_prefix", ".")
	v.SetDefault("bot.max_concurrent_commands", 5)
	v.SetDefault("bot.bot_move_delay", 2*time.Second)
	v.SetDefault("bot.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.path", "warden.db")

	v.SetDefault("archive.dir", "archive")
	v.SetDefault("archive.media_dir", "media")
	v.SetDefault("archive.drain_interval", time.Second)
	v.SetDefault("archive.batch_size", 10)
	v.SetDefault("archive.max_queue_length", 10000)
	v.SetDefault("archive.max_retries", 3)

	v.SetDefault("games.idle_timeout", 30*time.Minute)
	v.SetDefault("games.join_window", time.Minute)
	v.SetDefault("games.max_wrong_guesses", 6)
	v.SetDefault("games.sweep_interval", time.Minute)

	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.timeout", 2*time.Minute)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.retry_delay", 2*time.Second)
}
