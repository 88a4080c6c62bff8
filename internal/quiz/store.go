package quiz

import (
	"errors"
	"sync"
)

var (
	// ErrAlreadyActive - у пользователя уже есть активная сессия.
	ErrAlreadyActive = errors.New("quiz: session already active")
	// ErrUnknownSession - у пользователя нет сессии.
	ErrUnknownSession = errors.New("quiz: unknown session")
)

type storeEntry struct {
	mu      sync.Mutex
	session *Session
	removed bool
}

// SessionStore хранит все активные сессии по ключу пользователя. У каждого
// ключа свой мьютекс, разные пользователи друг друга не блокируют. Нулевое
// значение готово к работе.
type SessionStore struct {
	mu      sync.RWMutex
	once    sync.Once
	entries map[int64]*storeEntry
}

func NewSessionStore() *SessionStore {
	s := &SessionStore{}
	s.init()
	return s
}

func (s *SessionStore) init() {
	s.once.Do(func() {
		s.entries = make(map[int64]*storeEntry)
	})
}

// Create регистрирует сессию. Если она уже есть - ErrAlreadyActive.
func (s *SessionStore) Create(key int64, session *Session) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return ErrAlreadyActive
	}
	s.entries[key] = &storeEntry{session: session}
	return nil
}

func (s *SessionStore) lookup(key int64) *storeEntry {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key]
}

// Get возвращает копию сессии.
func (s *SessionStore) Get(key int64) (Session, bool) {
	e := s.lookup(key)
	if e == nil {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, false
	}
	return e.session.snapshot(), true
}

// Mutate выполняет fn над сессией под мьютексом ключа.
// fn не должна блокироваться и обращаться к хранилищу.
func (s *SessionStore) Mutate(key int64, fn func(*Session) error) error {
	e := s.lookup(key)
	if e == nil {
		return ErrUnknownSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return ErrUnknownSession
	}
	return fn(e.session)
}

// Take удаляет и возвращает сессию, если keep равен nil или вернул true.
// Проверка и удаление идут под мьютексом ключа: параллельный Mutate либо
// успевает раньше, либо уже не видит сессию.
func (s *SessionStore) Take(key int64, keep func(*Session) bool) (*Session, bool) {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if keep != nil && !keep(e.session) {
		return nil, false
	}
	e.removed = true
	delete(s.entries, key)
	return e.session, true
}

// Delete удаляет сессию, если она есть.
func (s *SessionStore) Delete(key int64) {
	s.Take(key, nil)
}

// Len возвращает число активных сессий.
func (s *SessionStore) Len() int {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys возвращает пользователей с активной сессией.
func (s *SessionStore) Keys() []int64 {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]int64, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}
