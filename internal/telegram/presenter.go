package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PoluyanbIch/quizbot/internal/quiz"
	"github.com/PoluyanbIch/quizbot/internal/service"
)

// Ограничения Telegram для викторин.
const (
	maxPollQuestion = 300
	maxPollOption   = 100
	minOpenPeriod   = 5
	maxOpenPeriod   = 600
)

// API - часть клиента Bot API, которая нужна боту.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Presenter превращает вывод движка в сообщения и опросы Telegram. Еще он
// помнит пользователей и их текущий опрос.
type Presenter struct {
	api         API
	leaderboard service.LeaderboardService
	log         *slog.Logger
	now         func() time.Time

	// replay получает ответ, пришедший пока опрос еще отправлялся.
	replay func(ctx context.Context, userKey int64, option int) bool

	mu    sync.Mutex
	users map[int64]tgbotapi.User
	polls map[int64]pollState
}

// pollState - опрос пользователя. Пока sending, id еще неизвестен и первый
// ответ откладывается в early.
type pollState struct {
	id      string
	sending bool
	early   *heldAnswer
}

type heldAnswer struct {
	pollID string
	option int
}

func NewPresenter(api API, leaderboard service.LeaderboardService, log *slog.Logger) *Presenter {
	if log == nil {
		log = slog.Default()
	}
	return &Presenter{
		api:         api,
		leaderboard: leaderboard,
		log:         log,
		now:         time.Now,
		users:       make(map[int64]tgbotapi.User),
		polls:       make(map[int64]pollState),
	}
}

// RememberUser запоминает поля профиля для рейтинга.
func (p *Presenter) RememberUser(u *tgbotapi.User) {
	if u == nil {
		return
	}
	p.mu.Lock()
	p.users[u.ID] = *u
	p.mu.Unlock()
}

func (p *Presenter) user(id int64) tgbotapi.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.users[id]; ok {
		return u
	}
	return tgbotapi.User{ID: id}
}

// SetAnswerHandler задает, куда передаются отложенные ответы.
func (p *Presenter) SetAnswerHandler(fn func(ctx context.Context, userKey int64, option int) bool) {
	p.mu.Lock()
	p.replay = fn
	p.mu.Unlock()
}

// IsCurrentPoll проверяет, что pollID - текущий опрос пользователя.
func (p *Presenter) IsCurrentPoll(userKey int64, pollID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.polls[userKey]
	return ok && !st.sending && st.id == pollID
}

// MatchPoll сообщает, нужно ли сразу передать ответ на pollID движку. Ответ,
// пришедший пока опрос еще отправляется, откладывается до получения id.
func (p *Presenter) MatchPoll(userKey int64, pollID string, option int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.polls[userKey]
	if !ok {
		return false
	}
	if st.sending {
		if st.early == nil {
			st.early = &heldAnswer{pollID: pollID, option: option}
			p.polls[userKey] = st
		}
		return false
	}
	return st.id == pollID
}

func (p *Presenter) beginPoll(userKey int64) {
	p.mu.Lock()
	p.polls[userKey] = pollState{sending: true}
	p.mu.Unlock()
}

// setPoll запоминает опрос и возвращает отложенный ответ на него, если есть.
func (p *Presenter) setPoll(userKey int64, pollID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.polls[userKey]
	if !st.sending {
		// Сброшен таймаутом или итогом, пока шла отправка.
		return 0, false
	}
	p.polls[userKey] = pollState{id: pollID}
	if st.early != nil && st.early.pollID == pollID {
		return st.early.option, true
	}
	return 0, false
}

func (p *Presenter) clearPoll(userKey int64) {
	p.mu.Lock()
	delete(p.polls, userKey)
	p.mu.Unlock()
}

func (p *Presenter) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, err := p.api.Send(c)
	if err != nil {
		return msg, fmt.Errorf("telegram: send: %w", err)
	}
	return msg, nil
}

func (p *Presenter) PresentStart(_ context.Context, userKey int64, n quiz.StartNotice) error {
	text := fmt.Sprintf(
		"<b>Test boshlandi!</b>\n\n"+
			"Diapazon: <b>%s</b>\n"+
			"Savollar: <b>%d</b> ta\n\n"+
			"Har bir savolga %d soniya!",
		n.RangeLabel, n.Total, int(n.Timeout/time.Second))
	msg := tgbotapi.NewMessage(userKey, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := p.send(msg)
	return err
}

func (p *Presenter) PresentQuestion(ctx context.Context, userKey int64, pr quiz.Prompt) error {
	question := fmt.Sprintf("%s • %d/%d\n\n%s", pr.RangeLabel, pr.Number, pr.Total, pr.Text)
	options := make([]string, len(pr.Options))
	for i, opt := range pr.Options {
		options[i] = truncate(opt, maxPollOption)
	}

	poll := tgbotapi.NewPoll(userKey, truncate(question, maxPollQuestion), options...)
	poll.Type = "quiz"
	poll.IsAnonymous = false
	poll.CorrectOptionID = int64(pr.CorrectIndex)
	poll.OpenPeriod = openPeriod(pr.Timeout)
	poll.Explanation = "Vaqt tugadi!"
	poll.ReplyMarkup = quizKeyboard()

	// С этого момента ответы на прошлый опрос устарели.
	p.beginPoll(userKey)
	msg, err := p.send(poll)
	if err != nil || msg.Poll == nil {
		p.clearPoll(userKey)
		return err
	}
	option, held := p.setPoll(userKey, msg.Poll.ID)
	if !held {
		return nil
	}
	p.mu.Lock()
	replay := p.replay
	p.mu.Unlock()
	if replay != nil {
		replay(ctx, userKey, option)
	}
	return nil
}

func (p *Presenter) PresentTimeoutNotice(_ context.Context, userKey int64) error {
	p.clearPoll(userKey)
	_, err := p.send(tgbotapi.NewMessage(userKey, "Vaqt tugadi! Keyingi savol..."))
	return err
}

func (p *Presenter) PresentResult(ctx context.Context, userKey int64, r quiz.Result) error {
	p.clearPoll(userKey)

	var sb strings.Builder
	sb.WriteString("<b>Test yakunlandi!</b>\n\n")
	fmt.Fprintf(&sb, "Diapazon: <b>%s</b>\n", r.RangeLabel)
	fmt.Fprintf(&sb, "Natija: <b>%d/%d</b> (%.1f%%)\n\n", r.Score, r.Total, r.Percent)
	sb.WriteString(tierPhrase(r.Tier))

	if !r.Stopped && p.leaderboard != nil {
		if line := p.recordResult(ctx, userKey, r); line != "" {
			sb.WriteString("\n\n")
			sb.WriteString(line)
		}
	}

	msg := tgbotapi.NewMessage(userKey, sb.String())
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = resultKeyboard()
	_, err := p.send(msg)
	return err
}

// recordResult сохраняет результат и возвращает строку о новом рекорде.
func (p *Presenter) recordResult(ctx context.Context, userKey int64, r quiz.Result) string {
	u := p.user(userKey)
	entry := service.NewEntry(userKey, u.UserName, u.FirstName, r.Score, r.Total, p.now())
	best, err := p.leaderboard.AddEntry(ctx, entry)
	if err != nil {
		p.log.Warn("record leaderboard entry", "user", userKey, "err", err)
		return ""
	}
	if !best {
		return ""
	}
	position, _, err := p.leaderboard.GetUserPosition(ctx, userKey)
	if err != nil || position < 1 {
		return ""
	}
	return fmt.Sprintf("🎉 <b>Yangi rekord!</b> Reytingda %d-o‘rindasiz!", position)
}

func tierPhrase(t quiz.Tier) string {
	switch t {
	case quiz.TierTop:
		return "Ajoyib!"
	case quiz.TierHigh:
		return "Juda yaxshi!"
	case quiz.TierMedium:
		return "Yaxshi"
	default:
		return "Yana mashq qiling!"
	}
}

func openPeriod(d time.Duration) int {
	secs := int(d / time.Second)
	return min(max(secs, minOpenPeriod), maxOpenPeriod)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
