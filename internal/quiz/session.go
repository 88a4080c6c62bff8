// Package quiz ведет викторины на время. Сессия переходит к следующему
// вопросу по ответу игрока или по таймеру, смотря что случится раньше.
package quiz

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/PoluyanbIch/quizbot/internal/service"
)

// State - стадия сессии. StateIdle не хранится: пользователь без сессии и
// есть idle.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StatePlaying
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateIdle:      {StateSelecting},
	StateSelecting: {StatePlaying, StateFinished},
	StatePlaying:   {StateFinished},
}

// Session - прогресс одного пользователя по диапазону вопросов.
type Session struct {
	ID      uuid.UUID
	UserKey int64
	State   State

	Count      int
	RangeStart int
	RangeEnd   int
	RangeLabel string

	Questions   []service.QuizQuestion
	BankIndices []int

	CurrentIndex int
	Score        int
	// Answered ставится, когда текущий вопрос закрыт ответом или таймаутом.
	Answered bool
	// TimerArmed заполняется только в копиях.
	TimerArmed bool

	timer    Handle
	timerSeq uint64
}

// Total - число выбранных вопросов.
func (s *Session) Total() int {
	return len(s.Questions)
}

// Current возвращает текущий вопрос или false, если вопросы кончились.
func (s *Session) Current() (service.QuizQuestion, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return service.QuizQuestion{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

func (s *Session) transition(to State) error {
	if slices.Contains(transitions[s.State], to) {
		s.State = to
		return nil
	}
	return fmt.Errorf("quiz: invalid transition %s -> %s", s.State, to)
}

func (s *Session) cancelTimer() {
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
}

// snapshot копирует сессию без таймера.
func (s *Session) snapshot() Session {
	cp := *s
	cp.Questions = slices.Clone(s.Questions)
	cp.BankIndices = slices.Clone(s.BankIndices)
	cp.TimerArmed = s.timer != nil
	cp.timer = nil
	return cp
}
