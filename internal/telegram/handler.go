package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PoluyanbIch/quizbot/internal/quiz"
	"github.com/PoluyanbIch/quizbot/internal/service"
)

// Engine - движок викторины со стороны транспорта.
type Engine interface {
	BankSize() int
	StartSession(ctx context.Context, userKey int64, count, rangeStart, rangeEnd int) (quiz.Session, error)
	OnAnswer(ctx context.Context, userKey int64, option int) bool
	StopSession(ctx context.Context, userKey int64) bool
	Snapshot(userKey int64) (quiz.Session, bool)
}

// UpdateSource отдает обновления через long polling.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api         API
	engine      Engine
	presenter   *Presenter
	leaderboard service.LeaderboardService
	counts      []int
	log         *slog.Logger

	wg sync.WaitGroup
}

func NewBot(api API, engine Engine, presenter *Presenter, leaderboard service.LeaderboardService, counts []int, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	if presenter != nil && engine != nil {
		presenter.SetAnswerHandler(engine.OnAnswer)
	}
	return &Bot{
		api:         api,
		engine:      engine,
		presenter:   presenter,
		leaderboard: leaderboard,
		counts:      counts,
		log:         log,
	}
}

// Start получает обновления, пока ctx не отменен. Каждое обновление
// обрабатывается в своей горутине, медленный чат не держит остальные.
func (b *Bot) Start(ctx context.Context, source UpdateSource) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query", "poll_answer"}

	updates := source.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			source.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}

// HandleUpdate обрабатывает одно обновление.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.PollAnswer != nil:
		b.handlePollAnswer(ctx, update.PollAnswer)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	b.presenter.RememberUser(message.From)
	chatID := message.Chat.ID

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			b.sendMainMenu(chatID)
		case "stop":
			if !b.engine.StopSession(ctx, userID(message.From, chatID)) {
				b.sendMessage(chatID, "Test topilmadi")
			}
		case "leaderboard":
			b.handleLeaderboard(ctx, chatID)
		default:
			b.sendMessage(chatID, "Noma’lum buyruq")
		}
		return
	}
	if strings.TrimSpace(message.Text) == menuButtonText {
		b.sendMainMenu(chatID)
	}
}

func (b *Bot) handlePollAnswer(ctx context.Context, answer *tgbotapi.PollAnswer) {
	b.presenter.RememberUser(&answer.User)
	userKey := answer.User.ID
	if len(answer.OptionIDs) == 0 {
		return
	}
	if !b.presenter.MatchPoll(userKey, answer.PollID, answer.OptionIDs[0]) {
		b.log.Debug("ignoring answer to stale poll", "user", userKey, "poll", answer.PollID)
		return
	}
	b.engine.OnAnswer(ctx, userKey, answer.OptionIDs[0])
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	b.presenter.RememberUser(callback.From)
	userKey := callback.From.ID
	data := callback.Data

	switch {
	case strings.HasPrefix(data, callbackCountPrefix):
		b.handleCount(callback)
	case strings.HasPrefix(data, callbackRangePrefix):
		b.handleRange(ctx, callback)
	case data == callbackStopQuiz:
		b.handleStop(ctx, callback)
	case data == callbackShowRange:
		if s, ok := b.engine.Snapshot(userKey); ok {
			b.answerCallback(callback, "Joriy diapazon: "+s.RangeLabel, true)
		} else {
			b.answerCallback(callback, "Test boshlanmagan", false)
		}
	case data == callbackRestart:
		b.answerCallback(callback, "", false)
		if callback.Message != nil {
			b.request(tgbotapi.NewDeleteMessage(callback.Message.Chat.ID, callback.Message.MessageID))
		}
		b.sendMainMenu(userKey)
	case data == callbackLeaderboard:
		b.answerCallback(callback, "", false)
		b.handleLeaderboard(ctx, userKey)
	default:
		b.answerCallback(callback, "Noma’lum buyruq", false)
	}
}

func (b *Bot) handleCount(callback *tgbotapi.CallbackQuery) {
	total := b.engine.BankSize()
	count, ok := parseCount(callback.Data, total)
	if !ok {
		b.answerCallback(callback, "Noto‘g‘ri tanlov", false)
		return
	}
	b.answerCallback(callback, "", false)
	if callback.Message == nil {
		return
	}

	label := fmt.Sprintf("%d ta", count)
	if strings.HasSuffix(callback.Data, callbackCountAll) {
		label = "Barcha"
	}
	text := fmt.Sprintf("Tanlandi: <b>%s</b>\n\nDiapazonni tanlang:", label)
	edit := tgbotapi.NewEditMessageTextAndMarkup(callback.Message.Chat.ID, callback.Message.MessageID, text, rangeKeyboard(total, count))
	edit.ParseMode = tgbotapi.ModeHTML
	b.request(edit)
}

func (b *Bot) handleRange(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	start, end, ok := parseRange(callback.Data)
	if !ok {
		b.answerCallback(callback, "Noto‘g‘ri diapazon", false)
		return
	}

	_, err := b.engine.StartSession(ctx, callback.From.ID, end-start+1, start, end)
	switch {
	case errors.Is(err, quiz.ErrEmptyRange), errors.Is(err, quiz.ErrInvalidRange):
		b.answerCallback(callback, "Bu diapazonda savol yo‘q!", true)
		return
	case errors.Is(err, quiz.ErrAlreadyActive):
		b.answerCallback(callback, "Avval joriy testni to‘xtating", true)
		return
	case err != nil:
		b.log.Error("start session", "user", callback.From.ID, "err", err)
		b.answerCallback(callback, "Xatolik yuz berdi", true)
		return
	}

	b.answerCallback(callback, "", false)
	if callback.Message != nil {
		b.request(tgbotapi.NewEditMessageReplyMarkup(callback.Message.Chat.ID, callback.Message.MessageID, emptyKeyboard()))
	}
}

func (b *Bot) handleStop(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if !b.engine.StopSession(ctx, callback.From.ID) {
		b.answerCallback(callback, "Test topilmadi", false)
		return
	}
	b.answerCallback(callback, "", false)
	if callback.Message != nil {
		b.request(tgbotapi.NewEditMessageReplyMarkup(callback.Message.Chat.ID, callback.Message.MessageID, emptyKeyboard()))
	}
}

func (b *Bot) sendMainMenu(chatID int64) {
	start := tgbotapi.NewMessage(chatID, "Start")
	start.ReplyMarkup = replyMenuKeyboard()
	if _, err := b.api.Send(start); err != nil {
		b.log.Warn("send reply keyboard", "chat", chatID, "err", err)
	}

	text := fmt.Sprintf("<b>Test Bot</b>\n\nJami savollar: <b>%d</b>\n\nNechta savol ishlaysiz?", b.engine.BankSize())
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = countKeyboard(b.counts)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("send main menu", "chat", chatID, "err", err)
	}
}

func (b *Bot) handleLeaderboard(ctx context.Context, chatID int64) {
	if b.leaderboard == nil {
		b.sendMessage(chatID, "Reyting mavjud emas")
		return
	}
	top, err := b.leaderboard.GetTop(ctx, 10)
	if err != nil {
		b.log.Warn("load leaderboard", "err", err)
		b.sendMessage(chatID, "Reytingni yuklab bo‘lmadi")
		return
	}

	msg := tgbotapi.NewMessage(chatID, formatLeaderboard(top))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = resultKeyboard()
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("send leaderboard", "chat", chatID, "err", err)
	}
}

func formatLeaderboard(top []service.LeaderboardEntry) string {
	if len(top) == 0 {
		return "🏆 <b>Reyting</b>\n\nHozircha natijalar yo‘q. Birinchi bo‘ling! 🎯"
	}

	var sb strings.Builder
	sb.WriteString("🏆 <b>Top 10</b>\n\n")
	for i, entry := range top {
		name := entry.FirstName
		if entry.Username != "" {
			name = "@" + entry.Username
		}
		if name == "" {
			name = fmt.Sprintf("id%d", entry.UserID)
		}

		medal := "🔸"
		switch i {
		case 0:
			medal = "🥇"
		case 1:
			medal = "🥈"
		case 2:
			medal = "🥉"
		}
		fmt.Fprintf(&sb, "%s %d. %s - %d%% (%d/%d)\n   📅 %s\n\n",
			medal, i+1, escapeHTML(name), entry.Percentage, entry.Score, entry.Total,
			entry.Date.Format("02.01.2006 15:04"))
	}
	return sb.String()
}

func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn("send message", "chat", chatID, "err", err)
	}
}

func (b *Bot) answerCallback(callback *tgbotapi.CallbackQuery, text string, alert bool) {
	cfg := tgbotapi.NewCallback(callback.ID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callback.ID, text)
	}
	b.request(cfg)
}

func (b *Bot) request(c tgbotapi.Chattable) {
	if _, err := b.api.Request(c); err != nil {
		b.log.Warn("telegram request", "err", err)
	}
}

func userID(u *tgbotapi.User, fallback int64) int64 {
	if u == nil {
		return fallback
	}
	return u.ID
}
