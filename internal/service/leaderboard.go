package service

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

type LeaderboardEntry struct {
	UserID     int64
	Username   string
	FirstName  string
	Score      int
	Total      int
	Percentage int
	Date       time.Time
}

// LeaderboardService хранит лучший результат каждого пользователя.
type LeaderboardService interface {
	// AddEntry записывает результат, true - если он стал лучшим.
	AddEntry(ctx context.Context, entry LeaderboardEntry) (bool, error)
	GetTop(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	// GetUserPosition возвращает место пользователя (с 1) или -1.
	GetUserPosition(ctx context.Context, userID int64) (int, *LeaderboardEntry, error)
	Close() error
}

// NewEntry создает запись с целым процентом.
func NewEntry(userID int64, username, firstName string, score, total int, at time.Time) LeaderboardEntry {
	percentage := 0
	if total > 0 {
		percentage = (score * 100) / total
	}
	return LeaderboardEntry{
		UserID:     userID,
		Username:   username,
		FirstName:  firstName,
		Score:      score,
		Total:      total,
		Percentage: percentage,
		Date:       at,
	}
}

// beats - e выше other в рейтинге.
func (e LeaderboardEntry) beats(other LeaderboardEntry) bool {
	if e.Percentage != other.Percentage {
		return e.Percentage > other.Percentage
	}
	return e.Score > other.Score
}

func compareEntries(a, b LeaderboardEntry) int {
	if c := cmp.Compare(b.Percentage, a.Percentage); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return cmp.Compare(a.UserID, b.UserID)
}

// MemoryLeaderboardService - вариант в памяти (данные теряются при рестарте).
type MemoryLeaderboardService struct {
	mu      sync.RWMutex
	entries map[int64]LeaderboardEntry
}

func NewMemoryLeaderboardService() *MemoryLeaderboardService {
	return &MemoryLeaderboardService{entries: make(map[int64]LeaderboardEntry)}
}

func (ms *MemoryLeaderboardService) AddEntry(ctx context.Context, entry LeaderboardEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if existing, ok := ms.entries[entry.UserID]; ok && !entry.beats(existing) {
		return false, nil
	}
	ms.entries[entry.UserID] = entry
	return true, nil
}

func (ms *MemoryLeaderboardService) sorted() []LeaderboardEntry {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]LeaderboardEntry, 0, len(ms.entries))
	for _, e := range ms.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, compareEntries)
	return out
}

func (ms *MemoryLeaderboardService) GetTop(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sorted := ms.sorted()
	if limit < 0 || limit > len(sorted) {
		limit = len(sorted)
	}
	return sorted[:limit], nil
}

func (ms *MemoryLeaderboardService) GetUserPosition(ctx context.Context, userID int64) (int, *LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return -1, nil, err
	}
	for i, entry := range ms.sorted() {
		if entry.UserID == userID {
			return i + 1, &entry, nil
		}
	}
	return -1, nil, nil
}

func (ms *MemoryLeaderboardService) Close() error { return nil }
