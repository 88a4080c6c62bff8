package quiz

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle - отменяемый отсчет.
type Handle interface {
	// Cancel останавливает отсчет и сообщает, удалось ли предотвратить вызов.
	// Повторная отмена или отмена сработавшего таймера ничего не делает.
	Cancel() bool
}

// Scheduler заводит отсчеты, которые один раз вызывают callback по истечении.
type Scheduler interface {
	Arm(key int64, d time.Duration, fire func()) Handle
	// Stop отменяет все еще не сработавшие отсчеты.
	Stop()
}

const (
	handleArmed int32 = iota
	handleFired
	handleCancelled
)

type timerHandle struct {
	state atomic.Int32
	timer *time.Timer
	owner *TimerScheduler
}

func (h *timerHandle) Cancel() bool {
	if !h.state.CompareAndSwap(handleArmed, handleCancelled) {
		return false
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.owner.forget(h)
	return true
}

// TimerScheduler работает на time.AfterFunc, callback идет в своей горутине.
// После Stop любой Arm возвращает уже отмененный отсчет.
type TimerScheduler struct {
	mu      sync.Mutex
	live    map[*timerHandle]struct{}
	stopped bool
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{live: make(map[*timerHandle]struct{})}
}

func (ts *TimerScheduler) Arm(_ int64, d time.Duration, fire func()) Handle {
	h := &timerHandle{owner: ts}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.stopped {
		h.state.Store(handleCancelled)
		return h
	}
	// Таймер записывается до того, как Stop увидит handle. Callback берет
	// ts.mu в forget, поэтому не завершится раньше Arm.
	h.timer = time.AfterFunc(d, func() {
		if !h.state.CompareAndSwap(handleArmed, handleFired) {
			return
		}
		ts.forget(h)
		fire()
	})
	ts.live[h] = struct{}{}
	return h
}

func (ts *TimerScheduler) forget(h *timerHandle) {
	ts.mu.Lock()
	delete(ts.live, h)
	ts.mu.Unlock()
}

func (ts *TimerScheduler) Stop() {
	ts.mu.Lock()
	ts.stopped = true
	handles := make([]*timerHandle, 0, len(ts.live))
	for h := range ts.live {
		handles = append(handles, h)
	}
	ts.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Pending возвращает число активных отсчетов.
func (ts *TimerScheduler) Pending() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.live)
}
