package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PoluyanbIch/quizbot/internal/service"
)

var (
	// ErrEmptyRange - в диапазоне нет вопросов.
	ErrEmptyRange = errors.New("quiz: range contains no questions")
	// ErrInvalidRange - начало диапазона больше конца.
	ErrInvalidRange = errors.New("quiz: range start is after range end")

	errSkip = errors.New("quiz: skip")
)

const (
	DefaultQuestionTimeout = 30 * time.Second
	DefaultAnswerPause     = 2 * time.Second
	DefaultTimeoutPause    = 1500 * time.Millisecond
)

// Tier - уровень итогового результата.
type Tier string

const (
	TierTop    Tier = "top"
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

func TierFor(percent float64) Tier {
	switch {
	case percent >= 90:
		return TierTop
	case percent >= 70:
		return TierHigh
	case percent >= 50:
		return TierMedium
	default:
		return TierLow
	}
}

// StartNotice объявляет сессию перед первым вопросом.
type StartNotice struct {
	SessionID  uuid.UUID
	RangeLabel string
	Total      int
	Timeout    time.Duration
}

// Prompt - вопрос для игрока. Варианты в порядке банка.
type Prompt struct {
	SessionID    uuid.UUID
	RangeLabel   string
	Number       int
	Total        int
	Text         string
	Options      []string
	CorrectIndex int
	Timeout      time.Duration
}

// Result - итог сессии.
type Result struct {
	SessionID  uuid.UUID
	Score      int
	Total      int
	Resolved   int
	RangeLabel string
	Percent    float64
	Tier       Tier
	// Stopped - игрок остановил тест досрочно.
	Stopped bool
}

// Presenter доставляет игроку то, что выдает движок.
type Presenter interface {
	PresentStart(ctx context.Context, userKey int64, notice StartNotice) error
	PresentQuestion(ctx context.Context, userKey int64, prompt Prompt) error
	PresentTimeoutNotice(ctx context.Context, userKey int64) error
	PresentResult(ctx context.Context, userKey int64, result Result) error
}

// Options настраивает Engine. Нулевые длительности заменяются значениями по умолчанию.
type Options struct {
	QuestionTimeout time.Duration
	AnswerPause     time.Duration
	TimeoutPause    time.Duration
	Scheduler       Scheduler
	Shuffler        *service.Shuffler
	Logger          *slog.Logger
}

// Engine ведет сессии через выбор, игру и подсчет.
type Engine struct {
	bank      *service.QuestionBank
	presenter Presenter
	store     *SessionStore
	sched     Scheduler
	shuffler  *service.Shuffler
	log       *slog.Logger

	timeout      time.Duration
	answerPause  time.Duration
	timeoutPause time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(bank *service.QuestionBank, presenter Presenter, opts Options) (*Engine, error) {
	if bank == nil || bank.Len() == 0 {
		return nil, fmt.Errorf("quiz: new engine: %w", service.ErrEmptyBank)
	}
	if presenter == nil {
		return nil, fmt.Errorf("quiz: new engine: presenter is required")
	}
	if opts.QuestionTimeout <= 0 {
		opts.QuestionTimeout = DefaultQuestionTimeout
	}
	if opts.AnswerPause <= 0 {
		opts.AnswerPause = DefaultAnswerPause
	}
	if opts.TimeoutPause <= 0 {
		opts.TimeoutPause = DefaultTimeoutPause
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewTimerScheduler()
	}
	if opts.Shuffler == nil {
		opts.Shuffler = service.NewShuffler(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		bank:         bank,
		presenter:    presenter,
		store:        NewSessionStore(),
		sched:        opts.Scheduler,
		shuffler:     opts.Shuffler,
		log:          opts.Logger,
		timeout:      opts.QuestionTimeout,
		answerPause:  opts.AnswerPause,
		timeoutPause: opts.TimeoutPause,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func (e *Engine) BankSize() int {
	return e.bank.Len()
}

// QuestionTimeout - время на один вопрос.
func (e *Engine) QuestionTimeout() time.Duration {
	return e.timeout
}

// Snapshot возвращает копию активной сессии пользователя.
func (e *Engine) Snapshot(userKey int64) (Session, bool) {
	return e.store.Get(userKey)
}

func (e *Engine) Active(userKey int64) bool {
	_, ok := e.store.Get(userKey)
	return ok
}

// StartSession выбирает и перемешивает вопросы диапазона [rangeStart, rangeEnd]
// (с 1, включительно) и показывает первый.
func (e *Engine) StartSession(ctx context.Context, userKey int64, count, rangeStart, rangeEnd int) (Session, error) {
	if rangeStart > rangeEnd {
		return Session{}, ErrInvalidRange
	}
	selected, indices := e.shuffler.SelectQuestions(e.bank, rangeStart, rangeEnd)
	if len(selected) == 0 {
		return Session{}, ErrEmptyRange
	}

	session := &Session{
		ID:          uuid.New(),
		UserKey:     userKey,
		Count:       count,
		RangeStart:  rangeStart,
		RangeEnd:    rangeEnd,
		RangeLabel:  service.RangeLabel(rangeStart, rangeEnd),
		Questions:   selected,
		BankIndices: indices,
	}
	if err := session.transition(StateSelecting); err != nil {
		return Session{}, err
	}
	if err := session.transition(StatePlaying); err != nil {
		return Session{}, err
	}
	snap := session.snapshot()
	if err := e.store.Create(userKey, session); err != nil {
		return Session{}, err
	}

	e.log.Info("session started",
		"user", userKey, "session", session.ID, "range", session.RangeLabel, "total", session.Total())

	notice := StartNotice{
		SessionID:  session.ID,
		RangeLabel: session.RangeLabel,
		Total:      session.Total(),
		Timeout:    e.timeout,
	}
	if err := e.presenter.PresentStart(ctx, userKey, notice); err != nil {
		e.log.Warn("present start failed", "user", userKey, "err", err)
	}
	e.presentCurrent(ctx, userKey, session.ID)
	return snap, nil
}

// presentCurrent заводит таймер и отправляет текущий вопрос, а если вопросов
// не осталось - завершает сессию.
func (e *Engine) presentCurrent(ctx context.Context, userKey int64, id uuid.UUID) {
	var (
		prompt   Prompt
		finished bool
	)
	err := e.store.Mutate(userKey, func(s *Session) error {
		if s.ID != id || s.State != StatePlaying {
			return errSkip
		}
		q, ok := s.Current()
		if !ok {
			finished = true
			return nil
		}
		s.Answered = false
		s.cancelTimer()
		s.timerSeq++
		seq := s.timerSeq
		s.timer = e.sched.Arm(userKey, e.timeout, func() {
			e.expire(userKey, id, seq)
		})
		prompt = Prompt{
			SessionID:    s.ID,
			RangeLabel:   s.RangeLabel,
			Number:       s.CurrentIndex + 1,
			Total:        s.Total(),
			Text:         q.Question,
			Options:      q.Options,
			CorrectIndex: q.Correct,
			Timeout:      e.timeout,
		}
		return nil
	})
	if err != nil {
		return
	}
	if finished {
		e.finalize(ctx, userKey, id)
		return
	}
	if err := e.presenter.PresentQuestion(ctx, userKey, prompt); err != nil {
		e.log.Warn("present question failed", "user", userKey, "number", prompt.Number, "err", err)
	}
}

// OnAnswer закрывает текущий вопрос выбранным вариантом и сообщает, выиграл
// ли вызов гонку. Ответы без сессии или на закрытый вопрос игнорируются.
func (e *Engine) OnAnswer(ctx context.Context, userKey int64, option int) bool {
	var id uuid.UUID
	err := e.store.Mutate(userKey, func(s *Session) error {
		if s.State != StatePlaying || s.Answered {
			return errSkip
		}
		q, ok := s.Current()
		if !ok {
			return errSkip
		}
		s.Answered = true
		s.cancelTimer()
		if option == q.Correct {
			s.Score++
		}
		s.CurrentIndex++
		id = s.ID
		return nil
	})
	if err != nil {
		return false
	}
	e.schedulePresent(userKey, id, e.answerPause)
	return true
}

// OnTimeout закрывает текущий вопрос без ответа и сообщает, выиграл ли вызов гонку.
func (e *Engine) OnTimeout(ctx context.Context, userKey int64) bool {
	return e.resolveTimeout(ctx, userKey, func(*Session) bool { return true })
}

// expire - callback таймера. Срабатывает, только если таймер все еще текущий.
func (e *Engine) expire(userKey int64, id uuid.UUID, seq uint64) {
	e.resolveTimeout(e.ctx, userKey, func(s *Session) bool {
		return s.ID == id && s.timerSeq == seq
	})
}

func (e *Engine) resolveTimeout(ctx context.Context, userKey int64, match func(*Session) bool) bool {
	var id uuid.UUID
	err := e.store.Mutate(userKey, func(s *Session) error {
		if !match(s) || s.State != StatePlaying || s.Answered {
			return errSkip
		}
		if _, ok := s.Current(); !ok {
			return errSkip
		}
		s.Answered = true
		s.cancelTimer()
		s.CurrentIndex++
		id = s.ID
		return nil
	})
	if err != nil {
		return false
	}
	if err := e.presenter.PresentTimeoutNotice(ctx, userKey); err != nil {
		e.log.Warn("present timeout notice failed", "user", userKey, "err", err)
	}
	e.schedulePresent(userKey, id, e.timeoutPause)
	return true
}

// schedulePresent показывает следующий вопрос после паузы. По id сессии
// опоздавший callback не тронет новую сессию того же пользователя.
func (e *Engine) schedulePresent(userKey int64, id uuid.UUID, pause time.Duration) {
	e.sched.Arm(userKey, pause, func() {
		e.presentCurrent(e.ctx, userKey, id)
	})
}

// StopSession досрочно завершает сессию с текущим счетом.
func (e *Engine) StopSession(ctx context.Context, userKey int64) bool {
	s, ok := e.store.Take(userKey, nil)
	if !ok {
		return false
	}
	e.complete(ctx, userKey, s, true)
	return true
}

func (e *Engine) finalize(ctx context.Context, userKey int64, id uuid.UUID) {
	s, ok := e.store.Take(userKey, func(s *Session) bool {
		return s.ID == id && s.CurrentIndex >= s.Total()
	})
	if !ok {
		return
	}
	e.complete(ctx, userKey, s, false)
}

// complete подводит итог сессии, уже удаленной из хранилища.
func (e *Engine) complete(ctx context.Context, userKey int64, s *Session, stopped bool) {
	s.cancelTimer()
	if err := s.transition(StateFinished); err != nil {
		e.log.Error("finish session", "user", userKey, "session", s.ID, "err", err)
	}

	result := Score(s)
	result.Stopped = stopped
	e.log.Info("session finished",
		"user", userKey, "session", s.ID, "score", result.Score, "total", result.Total,
		"percent", result.Percent, "stopped", stopped)

	if err := e.presenter.PresentResult(ctx, userKey, result); err != nil {
		e.log.Warn("present result failed", "user", userKey, "err", err)
	}
}

// Score считает результат сессии на текущий момент.
func Score(s *Session) Result {
	total := s.Total()
	percent := 0.0
	if total > 0 {
		percent = float64(s.Score) / float64(total) * 100
	}
	return Result{
		SessionID:  s.ID,
		Score:      s.Score,
		Total:      total,
		Resolved:   s.CurrentIndex,
		RangeLabel: s.RangeLabel,
		Percent:    percent,
		Tier:       TierFor(percent),
	}
}

// Close отменяет все таймеры. Сессии в хранилище не трогаются.
func (e *Engine) Close() {
	e.cancel()
	e.sched.Stop()
}
