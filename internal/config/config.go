// Package config загружает настройки бота из окружения.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config хранит все настройки бота.
type Config struct {
	BotToken      string `env:"BOT_TOKEN"`
	QuestionsFile string `env:"QUESTIONS_FILE" envDefault:"telegram_quiz.json"`
	WebhookURL    string `env:"WEBHOOK_URL"`
	Port          int    `env:"PORT" envDefault:"8080"`

	QuestionTimeout time.Duration `env:"QUESTION_TIMEOUT" envDefault:"30s"`
	AnswerPause     time.Duration `env:"ANSWER_PAUSE" envDefault:"2s"`
	TimeoutPause    time.Duration `env:"TIMEOUT_PAUSE" envDefault:"1500ms"`
	CountOptions    []int         `env:"COUNT_OPTIONS" envSeparator:"," envDefault:"30,50,100,150,200"`

	// LeaderboardDB - путь к файлу SQLite. Пусто - рейтинг хранится в памяти.
	LeaderboardDB string `env:"LEADERBOARD_DB"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	TelegramDebug bool   `env:"TELEGRAM_DEBUG" envDefault:"false"`
}

// LoadDotEnv загружает .env в окружение процесса. Отсутствие файла не
// считается ошибкой.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Load разбирает окружение в Config и проверяет его.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет, что с конфигурацией можно работать.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return fmt.Errorf("config: BOT_TOKEN is required")
	}
	if c.QuestionTimeout <= 0 {
		return fmt.Errorf("config: QUESTION_TIMEOUT must be positive, got %s", c.QuestionTimeout)
	}
	if c.AnswerPause <= 0 || c.TimeoutPause <= 0 {
		return fmt.Errorf("config: ANSWER_PAUSE and TIMEOUT_PAUSE must be positive")
	}
	if len(c.CountOptions) == 0 {
		return fmt.Errorf("config: COUNT_OPTIONS must list at least one count")
	}
	for _, n := range c.CountOptions {
		if n <= 0 {
			return fmt.Errorf("config: COUNT_OPTIONS entries must be positive, got %d", n)
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT out of range: %d", c.Port)
	}
	return nil
}

// SlogLevel переводит LogLevel в уровень slog, по умолчанию info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ListenAddr - адрес сервера вебхука.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}
