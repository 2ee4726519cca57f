// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jason-s-yu/magicmatch/internal/game"
	"github.com/jason-s-yu/magicmatch/internal/models"
	"github.com/sirupsen/logrus"
)

// Config is shared by the server and the historian; each reads what it needs.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	MatchTokens   []string      `env:"MATCH_TOKENS" envSeparator:","`
	MismatchDelay time.Duration `env:"MISMATCH_DELAY" envDefault:"500ms"`

	TokenExpireTime time.Duration `env:"TOKEN_EXPIRE_TIME" envDefault:"72h"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	HistorianQueueName string `env:"HISTORIAN_QUEUE_NAME" envDefault:"magicmatch_actions"`

	NATSURL string `env:"NATS_URL"`

	MaxGamesPerOwner int `env:"MAX_GAMES_PER_OWNER" envDefault:"5"`

	DatabaseURL           string        `env:"DATABASE_URL"`
	HistorianBatchSize    int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	HistorianFlush        time.Duration `env:"HISTORIAN_FLUSH" envDefault:"500ms"`
	GameInactivityTimeout time.Duration `env:"GAME_INACTIVITY_TIMEOUT" envDefault:"10m"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MismatchDelay < 0 {
		return Config{}, fmt.Errorf("MISMATCH_DELAY must be non-negative, got %s", cfg.MismatchDelay)
	}
	if cfg.MaxGamesPerOwner < 0 {
		return Config{}, fmt.Errorf("MAX_GAMES_PER_OWNER must be non-negative, got %d", cfg.MaxGamesPerOwner)
	}
	if cfg.HistorianBatchSize <= 0 {
		return Config{}, fmt.Errorf("HISTORIAN_BATCH_SIZE must be positive, got %d", cfg.HistorianBatchSize)
	}
	if _, err := cfg.GameSettings(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GameSettings returns the default per-game settings described by the config.
func (c Config) GameSettings() (game.Settings, error) {
	s := game.DefaultSettings()
	s.MismatchDelay = c.MismatchDelay

	if len(c.MatchTokens) > 0 {
		tokens := make([]models.Token, 0, len(c.MatchTokens))
		for _, t := range c.MatchTokens {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, models.Token(t))
			}
		}
		if err := game.ValidateTokens(tokens); err != nil {
			return game.Settings{}, fmt.Errorf("MATCH_TOKENS: %w", err)
		}
		s.Tokens = tokens
	}
	return s, nil
}

// Logger builds a logrus logger at the configured level.
func (c Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	return logger, nil
}
