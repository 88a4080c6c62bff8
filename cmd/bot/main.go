package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PoluyanbIch/quizbot/internal/config"
	"github.com/PoluyanbIch/quizbot/internal/quiz"
	"github.com/PoluyanbIch/quizbot/internal/service"
	"github.com/PoluyanbIch/quizbot/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	bank, err := service.LoadQuestionBank(cfg.QuestionsFile, log)
	if err != nil {
		return fmt.Errorf("bot cannot run without questions: %w", err)
	}

	leaderboard, err := openLeaderboard(cfg)
	if err != nil {
		return err
	}
	defer leaderboard.Close()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = cfg.TelegramDebug
	log.Info("authorised", "account", api.Self.UserName)

	presenter := telegram.NewPresenter(api, leaderboard, log)
	engine, err := quiz.NewEngine(bank, presenter, quiz.Options{
		QuestionTimeout: cfg.QuestionTimeout,
		AnswerPause:     cfg.AnswerPause,
		TimeoutPause:    cfg.TimeoutPause,
		Logger:          log,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	bot := telegram.NewBot(api, engine, presenter, leaderboard, cfg.CountOptions, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("bot is starting", "questions", bank.Len(), "webhook", cfg.WebhookURL != "")
	if cfg.WebhookURL == "" {
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
			log.Warn("delete webhook", "err", err)
		}
		bot.Start(ctx, api)
		return nil
	}

	wh, err := tgbotapi.NewWebhook(strings.TrimRight(cfg.WebhookURL, "/") + "/" + cfg.BotToken)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	router := telegram.NewWebhookRouter(cfg.BotToken, bot, log)
	return telegram.ServeWebhook(ctx, cfg.ListenAddr(), router, log)
}

func openLeaderboard(cfg config.Config) (service.LeaderboardService, error) {
	if cfg.LeaderboardDB == "" {
		return service.NewMemoryLeaderboardService(), nil
	}
	lb, err := service.OpenSQLiteLeaderboard(cfg.LeaderboardDB)
	if err != nil {
		return nil, fmt.Errorf("open leaderboard: %w", err)
	}
	return lb, nil
}
