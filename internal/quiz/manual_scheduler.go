package quiz

import (
	"slices"
	"sync"
	"time"
)

// ManualScheduler - вспомогательный Scheduler для тестов на виртуальных
// часах, в рабочем коде используется TimerScheduler. Ничего не срабатывает до
// Advance или FireNext, callback идет в горутине вызывающего, так что ответ и
// таймаут можно проверять в любом порядке без реальных задержек.
// Экспортирован для тестов пакетов поверх движка.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualHandle
}

type manualHandle struct {
	owner    *ManualScheduler
	key      int64
	seq      int
	deadline time.Duration
	fire     func()
	done     bool
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (m *ManualScheduler) Arm(key int64, d time.Duration, fire func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	h := &manualHandle{owner: m, key: key, seq: m.seq, deadline: m.now + d, fire: fire}
	m.timers = append(m.timers, h)
	return h
}

func (h *manualHandle) Cancel() bool {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	h.owner.drop(h)
	return true
}

// drop вызывается под mu.
func (m *ManualScheduler) drop(h *manualHandle) {
	m.timers = slices.DeleteFunc(m.timers, func(t *manualHandle) bool { return t == h })
}

// next снимает самый ранний отсчет, подходящий под pred. Вызывается под mu.
func (m *ManualScheduler) next(pred func(*manualHandle) bool) *manualHandle {
	var best *manualHandle
	for _, t := range m.timers {
		if !pred(t) {
			continue
		}
		if best == nil || t.deadline < best.deadline || (t.deadline == best.deadline && t.seq < best.seq) {
			best = t
		}
	}
	if best != nil {
		best.done = true
		m.drop(best)
	}
	return best
}

// Advance сдвигает часы на d и вызывает все наступившие отсчеты, включая
// заведенные по ходу callback-ами.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		h := m.next(func(t *manualHandle) bool { return t.deadline <= target })
		if h == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		if h.deadline > m.now {
			m.now = h.deadline
		}
		m.mu.Unlock()
		h.fire()
	}
}

// FireNext вызывает самый ранний отсчет ключа независимо от срока.
// Возвращает false, если отсчетов нет.
func (m *ManualScheduler) FireNext(key int64) bool {
	m.mu.Lock()
	h := m.next(func(t *manualHandle) bool { return t.key == key })
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h.fire()
	return true
}

// Steal снимает самый ранний отсчет ключа и возвращает callback, не вызывая
// его. Так тест может запустить его позже как опоздавший таймер.
func (m *ManualScheduler) Steal(key int64) (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.next(func(t *manualHandle) bool { return t.key == key })
	if h == nil {
		return nil, false
	}
	return h.fire, true
}

// Pending возвращает число отсчетов ключа.
func (m *ManualScheduler) Pending(key int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.key == key {
			n++
		}
	}
	return n
}

// Now - виртуальное время с момента создания.
func (m *ManualScheduler) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualScheduler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.done = true
	}
	m.timers = nil
}
