package quiz

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoluyanbIch/quizbot/internal/service"
)

const (
	testTimeout      = 30 * time.Second
	testAnswerPause  = 2 * time.Second
	testTimeoutPause = 1500 * time.Millisecond
)

type recordingPresenter struct {
	mu       sync.Mutex
	starts   map[int64][]StartNotice
	prompts  map[int64][]Prompt
	timeouts map[int64]int
	results  map[int64][]Result
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{
		starts:   make(map[int64][]StartNotice),
		prompts:  make(map[int64][]Prompt),
		timeouts: make(map[int64]int),
		results:  make(map[int64][]Result),
	}
}

func (p *recordingPresenter) PresentStart(_ context.Context, key int64, n StartNotice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts[key] = append(p.starts[key], n)
	return nil
}

func (p *recordingPresenter) PresentQuestion(_ context.Context, key int64, pr Prompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts[key] = append(p.prompts[key], pr)
	return nil
}

func (p *recordingPresenter) PresentTimeoutNotice(_ context.Context, key int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts[key]++
	return nil
}

func (p *recordingPresenter) PresentResult(_ context.Context, key int64, r Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[key] = append(p.results[key], r)
	return nil
}

func (p *recordingPresenter) promptCount(key int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts[key])
}

func (p *recordingPresenter) lastPrompt(t *testing.T, key int64) Prompt {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.prompts[key])
	return p.prompts[key][len(p.prompts[key])-1]
}

func (p *recordingPresenter) resultsFor(key int64) []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.results[key])
}

func testBank(n int) *service.QuestionBank {
	qs := make([]service.QuizQuestion, n)
	for i := range qs {
		qs[i] = service.QuizQuestion{
			ID:       i + 1,
			Question: fmt.Sprintf("question %d", i+1),
			Options:  []string{"a", "b", "c", "d"},
			Correct:  i % 4,
		}
	}
	return service.NewQuestionBank(qs)
}

type harness struct {
	engine    *Engine
	sched     *ManualScheduler
	presenter *recordingPresenter
}

func newHarness(t *testing.T, bankSize int) *harness {
	t.Helper()
	sched := NewManualScheduler()
	presenter := newRecordingPresenter()
	engine, err := NewEngine(testBank(bankSize), presenter, Options{
		QuestionTimeout: testTimeout,
		AnswerPause:     testAnswerPause,
		TimeoutPause:    testTimeoutPause,
		Scheduler:       sched,
		Shuffler:        service.NewShuffler(rand.New(rand.NewPCG(42, 42))),
		Logger:          slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return &harness{engine: engine, sched: sched, presenter: presenter}
}

func (h *harness) start(t *testing.T, key int64, rangeStart, rangeEnd int) Session {
	t.Helper()
	s, err := h.engine.StartSession(context.Background(), key, rangeEnd-rangeStart+1, rangeStart, rangeEnd)
	require.NoError(t, err)
	return s
}

func (h *harness) snapshot(t *testing.T, key int64) Session {
	t.Helper()
	s, ok := h.engine.Snapshot(key)
	require.True(t, ok, "session for %d not found", key)
	assertInvariants(t, s)
	return s
}

func correctOption(t *testing.T, s Session) int {
	t.Helper()
	q, ok := s.Current()
	require.True(t, ok)
	return q.Correct
}

func wrongOption(t *testing.T, s Session) int {
	t.Helper()
	return (correctOption(t, s) + 1) % 4
}

func assertInvariants(t *testing.T, s Session) {
	t.Helper()
	assert.GreaterOrEqual(t, s.Score, 0)
	assert.LessOrEqual(t, s.Score, s.CurrentIndex)
	assert.LessOrEqual(t, s.CurrentIndex, s.Total())
}

func TestNewEngineRejectsEmptyBank(t *testing.T) {
	_, err := NewEngine(service.NewQuestionBank(nil), newRecordingPresenter(), Options{})
	assert.ErrorIs(t, err, service.ErrEmptyBank)

	_, err = NewEngine(testBank(1), nil, Options{})
	assert.Error(t, err)
}

func TestStartSessionSelectsShuffledRange(t *testing.T) {
	h := newHarness(t, 200)

	s := h.start(t, 1, 1, 50)
	assert.Equal(t, 50, s.Total())
	assert.Equal(t, 0, s.CurrentIndex)
	assert.Equal(t, 0, s.Score)
	assert.False(t, s.Answered)
	assert.Equal(t, StatePlaying, s.State)
	assert.Equal(t, "1–50", s.RangeLabel)

	sorted := slices.Clone(s.BankIndices)
	slices.Sort(sorted)
	for i, idx := range sorted {
		require.Equal(t, i, idx, "indices are not a permutation of 0..49")
	}
	for i, idx := range s.BankIndices {
		assert.Equal(t, fmt.Sprintf("question %d", idx+1), s.Questions[i].Question)
	}

	prompt := h.presenter.lastPrompt(t, 1)
	assert.Equal(t, 1, prompt.Number)
	assert.Equal(t, 50, prompt.Total)
	assert.Equal(t, s.Questions[0].Question, prompt.Text)
	assert.Equal(t, s.Questions[0].Options, prompt.Options)
	assert.Equal(t, testTimeout, prompt.Timeout)
	assert.Len(t, h.presenter.starts[1], 1)
	assert.Equal(t, 1, h.sched.Pending(1), "one live question timer")
	assert.True(t, h.snapshot(t, 1).TimerArmed)
}

func TestStartSessionRejectsEmptyRange(t *testing.T) {
	h := newHarness(t, 200)

	_, err := h.engine.StartSession(context.Background(), 1, 10, 201, 210)
	require.ErrorIs(t, err, ErrEmptyRange)
	assert.False(t, h.engine.Active(1))
	assert.Equal(t, 0, h.presenter.promptCount(1))
	assert.Equal(t, 0, h.sched.Pending(1))
}

func TestStartSessionRejectsInvertedRange(t *testing.T) {
	h := newHarness(t, 10)

	_, err := h.engine.StartSession(context.Background(), 1, 5, 6, 5)
	require.ErrorIs(t, err, ErrInvalidRange)
	assert.False(t, h.engine.Active(1))
}

func TestStartSessionClipsRangeToBank(t *testing.T) {
	h := newHarness(t, 120)

	s := h.start(t, 1, 101, 150)
	assert.Equal(t, 20, s.Total())
	for _, idx := range s.BankIndices {
		assert.True(t, idx >= 100 && idx < 120)
	}
}

func TestStartSessionRejectsActiveUser(t *testing.T) {
	h := newHarness(t, 10)
	h.start(t, 1, 1, 5)

	_, err := h.engine.StartSession(context.Background(), 1, 5, 1, 5)
	require.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, 1, h.presenter.promptCount(1))
}

func TestScoringEndToEnd(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	h.start(t, 1, 1, 3)

	// Вопрос 1: верно.
	s := h.snapshot(t, 1)
	require.True(t, h.engine.OnAnswer(ctx, 1, correctOption(t, s)))
	s = h.snapshot(t, 1)
	assert.Equal(t, 1, s.Score)
	assert.Equal(t, 1, s.CurrentIndex)
	assert.True(t, s.Answered)
	assert.False(t, s.TimerArmed)

	h.sched.Advance(testAnswerPause)
	assert.Equal(t, 2, h.presenter.lastPrompt(t, 1).Number)

	// Вопрос 2: неверно.
	s = h.snapshot(t, 1)
	require.True(t, h.engine.OnAnswer(ctx, 1, wrongOption(t, s)))
	assert.Equal(t, 1, h.snapshot(t, 1).Score)
	h.sched.Advance(testAnswerPause)
	assert.Equal(t, 3, h.presenter.lastPrompt(t, 1).Number)

	// Вопрос 3: таймаут.
	h.sched.Advance(testTimeout)
	assert.Equal(t, 1, h.presenter.timeouts[1])
	s = h.snapshot(t, 1)
	assert.Equal(t, 3, s.CurrentIndex)
	assert.Equal(t, 1, s.Score)

	h.sched.Advance(testTimeoutPause)
	results := h.presenter.resultsFor(1)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, 1, r.Score)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 3, r.Resolved)
	assert.InDelta(t, 33.3, r.Percent, 0.1)
	assert.Equal(t, TierLow, r.Tier)
	assert.False(t, r.Stopped)
	assert.Equal(t, "1–3", r.RangeLabel)

	assert.False(t, h.engine.Active(1))
	assert.Equal(t, 0, h.sched.Pending(1))
}

func TestAllTimeoutsFinishSession(t *testing.T) {
	h := newHarness(t, 4)
	h.start(t, 1, 1, 4)

	for range 4 {
		h.sched.Advance(testTimeout + testTimeoutPause)
	}

	results := h.presenter.resultsFor(1)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Score)
	assert.Equal(t, 4, results[0].Total)
	assert.Equal(t, 4, h.presenter.timeouts[1])
	assert.False(t, h.engine.Active(1))
}

func TestTimeoutIsIdempotent(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.start(t, 1, 1, 5)

	require.True(t, h.engine.OnTimeout(ctx, 1))
	before := h.snapshot(t, 1)
	assert.Equal(t, 1, before.CurrentIndex)

	assert.False(t, h.engine.OnTimeout(ctx, 1))
	assert.False(t, h.engine.OnAnswer(ctx, 1, 0))

	after := h.snapshot(t, 1)
	assert.Equal(t, before.Score, after.Score)
	assert.Equal(t, before.CurrentIndex, after.CurrentIndex)
	assert.Equal(t, 1, h.presenter.timeouts[1])
}

func TestAnswerIsIdempotent(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.start(t, 1, 1, 5)

	s := h.snapshot(t, 1)
	require.True(t, h.engine.OnAnswer(ctx, 1, correctOption(t, s)))
	assert.False(t, h.engine.OnAnswer(ctx, 1, correctOption(t, s)))
	assert.False(t, h.engine.OnTimeout(ctx, 1))

	after := h.snapshot(t, 1)
	assert.Equal(t, 1, after.Score)
	assert.Equal(t, 1, after.CurrentIndex)
	assert.Equal(t, 0, h.presenter.timeouts[1])
}

func TestLateTimerAfterAnswerIsNoop(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.start(t, 1, 1, 5)

	// Таймер сработал, но callback опоздал и пришел после ответа.
	lateFire, ok := h.sched.Steal(1)
	require.True(t, ok)

	s := h.snapshot(t, 1)
	require.True(t, h.engine.OnAnswer(ctx, 1, wrongOption(t, s)))
	lateFire()

	s = h.snapshot(t, 1)
	assert.Equal(t, 1, s.CurrentIndex)
	assert.Equal(t, 0, h.presenter.timeouts[1])

	// Ничего не меняет и когда уже показан следующий вопрос.
	h.sched.Advance(testAnswerPause)
	require.Equal(t, 2, h.presenter.lastPrompt(t, 1).Number)
	lateFire()

	s = h.snapshot(t, 1)
	assert.Equal(t, 1, s.CurrentIndex)
	assert.False(t, s.Answered)
	assert.Equal(t, 0, h.presenter.timeouts[1])
}

func TestStopSessionIgnoresStaleEvents(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.start(t, 1, 1, 5)

	s := h.snapshot(t, 1)
	require.True(t, h.engine.OnAnswer(ctx, 1, correctOption(t, s)))
	h.sched.Advance(testAnswerPause)

	lateFire, ok := h.sched.Steal(1)
	require.True(t, ok)

	require.True(t, h.engine.StopSession(ctx, 1))
	results := h.presenter.resultsFor(1)
	require.Len(t, results, 1)
	assert.True(t, results[0].Stopped)
	assert.Equal(t, 1, results[0].Score)
	assert.Equal(t, 5, results[0].Total)
	assert.Equal(t, 1, results[0].Resolved)
	assert.Equal(t, TierLow, results[0].Tier)

	prompts := h.presenter.promptCount(1)
	lateFire()
	assert.False(t, h.engine.OnAnswer(ctx, 1, 0))
	assert.False(t, h.engine.OnTimeout(ctx, 1))
	assert.False(t, h.engine.StopSession(ctx, 1))
	h.sched.Advance(time.Hour)

	assert.Len(t, h.presenter.resultsFor(1), 1)
	assert.Equal(t, prompts, h.presenter.promptCount(1))
	assert.Equal(t, 0, h.presenter.timeouts[1])
	assert.False(t, h.engine.Active(1))
}

func TestStopCancelsQuestionTimer(t *testing.T) {
	h := newHarness(t, 5)
	h.start(t, 1, 1, 5)
	require.Equal(t, 1, h.sched.Pending(1))

	require.True(t, h.engine.StopSession(context.Background(), 1))
	assert.Equal(t, 0, h.sched.Pending(1))
}

func TestPauseFromStoppedSessionDoesNotTouchNewSession(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.start(t, 1, 1, 5)

	s := h.snapshot(t, 1)
	require.True(t, h.engine.OnAnswer(ctx, 1, correctOption(t, s)))
	require.True(t, h.engine.StopSession(ctx, 1))

	fresh := h.start(t, 1, 6, 10)
	prompts := h.presenter.promptCount(1)

	h.sched.Advance(testAnswerPause)
	assert.Equal(t, prompts, h.presenter.promptCount(1), "stale pause presented a question")

	now := h.snapshot(t, 1)
	assert.Equal(t, fresh.ID, now.ID)
	assert.Equal(t, 0, now.CurrentIndex)
	assert.False(t, now.Answered)
}

func TestEventsForUnknownUserAreNoops(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	assert.False(t, h.engine.OnAnswer(ctx, 7, 0))
	assert.False(t, h.engine.OnTimeout(ctx, 7))
	assert.False(t, h.engine.StopSession(ctx, 7))
	assert.Empty(t, h.presenter.resultsFor(7))
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.start(t, 1, 1, 5)
	h.start(t, 2, 1, 5)

	s := h.snapshot(t, 1)
	require.True(t, h.engine.OnAnswer(ctx, 1, correctOption(t, s)))
	require.True(t, h.engine.StopSession(ctx, 2))

	assert.Equal(t, 1, h.snapshot(t, 1).Score)
	assert.False(t, h.engine.Active(2))
	assert.Empty(t, h.presenter.resultsFor(1))
}

func TestAnswerTimeoutRace(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	const users = 200

	for key := range int64(users) {
		h.start(t, key, 1, 10)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins = make(map[int64]int)
	)
	for key := range int64(users) {
		s := h.snapshot(t, key)
		option := correctOption(t, s)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if h.engine.OnAnswer(ctx, key, option) {
				mu.Lock()
				wins[key]++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			if h.engine.OnTimeout(ctx, key) {
				mu.Lock()
				wins[key]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for key := range int64(users) {
		assert.Equal(t, 1, wins[key], "user %d", key)
		s := h.snapshot(t, key)
		assert.Equal(t, 1, s.CurrentIndex, "user %d", key)
		assert.LessOrEqual(t, s.Score, 1)
	}
}

func TestEngineWithRealTimers(t *testing.T) {
	presenter := newRecordingPresenter()
	engine, err := NewEngine(testBank(3), presenter, Options{
		QuestionTimeout: 20 * time.Millisecond,
		AnswerPause:     time.Millisecond,
		TimeoutPause:    time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.StartSession(context.Background(), 1, 3, 1, 3)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(presenter.resultsFor(1)) == 1 }, 2*time.Second, 5*time.Millisecond)
	r := presenter.resultsFor(1)[0]
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, 3, r.Total)
	assert.False(t, engine.Active(1))
}

func TestCloseStopsFollowUpQuestions(t *testing.T) {
	presenter := newRecordingPresenter()
	engine, err := NewEngine(testBank(3), presenter, Options{
		QuestionTimeout: time.Hour,
		AnswerPause:     time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	require.NoError(t, err)

	_, err = engine.StartSession(context.Background(), 1, 3, 1, 3)
	require.NoError(t, err)
	require.Equal(t, 1, presenter.promptCount(1))

	engine.Close()
	assert.True(t, engine.OnAnswer(context.Background(), 1, 0))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, presenter.promptCount(1), "no question follows once closed")
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		percent float64
		want    Tier
	}{
		{100, TierTop},
		{90, TierTop},
		{89.9, TierHigh},
		{70, TierHigh},
		{69.9, TierMedium},
		{50, TierMedium},
		{49.9, TierLow},
		{0, TierLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.percent), "percent %v", tt.percent)
	}
}

func TestScoreEmptySession(t *testing.T) {
	r := Score(&Session{})
	assert.Equal(t, 0.0, r.Percent)
	assert.Equal(t, TierLow, r.Tier)
}
