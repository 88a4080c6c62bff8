package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PoluyanbIch/quizbot/internal/service/migrations"
	_ "modernc.org/sqlite"
)

// SQLiteLeaderboardService хранит рейтинг в файле SQLite.
type SQLiteLeaderboardService struct {
	sqlDB *sql.DB
}

// OpenSQLiteLeaderboard открывает базу и применяет встроенную схему.
func OpenSQLiteLeaderboard(path string) (*SQLiteLeaderboardService, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("service: leaderboard path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("service: open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("service: ping sqlite db: %w", err)
	}
	if err := applySchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("service: apply schema: %w", err)
	}
	return &SQLiteLeaderboardService{sqlDB: sqlDB}, nil
}

func applySchema(sqlDB *sql.DB) error {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := sqlDB.Exec(string(content)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteLeaderboardService) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteLeaderboardService) AddEntry(ctx context.Context, entry LeaderboardEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("service: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing LeaderboardEntry
	err = tx.QueryRowContext(ctx,
		`SELECT score, percentage FROM leaderboard WHERE user_id = ?`, entry.UserID,
	).Scan(&existing.Score, &existing.Percentage)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("service: read entry: %w", err)
	default:
		if !entry.beats(existing) {
			return false, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO leaderboard (user_id, username, first_name, score, total, percentage, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    username = excluded.username,
    first_name = excluded.first_name,
    score = excluded.score,
    total = excluded.total,
    percentage = excluded.percentage,
    recorded_at = excluded.recorded_at`,
		entry.UserID, entry.Username, entry.FirstName,
		entry.Score, entry.Total, entry.Percentage, entry.Date.UTC().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("service: upsert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("service: commit: %w", err)
	}
	return true, nil
}

func (s *SQLiteLeaderboardService) GetTop(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit < 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT user_id, username, first_name, score, total, percentage, recorded_at
FROM leaderboard
ORDER BY percentage DESC, score DESC, recorded_at ASC, user_id ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("service: query top: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var (
			e  LeaderboardEntry
			at int64
		)
		if err := rows.Scan(&e.UserID, &e.Username, &e.FirstName, &e.Score, &e.Total, &e.Percentage, &at); err != nil {
			return nil, fmt.Errorf("service: scan entry: %w", err)
		}
		e.Date = time.UnixMilli(at).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("service: iterate entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteLeaderboardService) GetUserPosition(ctx context.Context, userID int64) (int, *LeaderboardEntry, error) {
	var (
		e  LeaderboardEntry
		at int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT user_id, username, first_name, score, total, percentage, recorded_at
FROM leaderboard WHERE user_id = ?`, userID,
	).Scan(&e.UserID, &e.Username, &e.FirstName, &e.Score, &e.Total, &e.Percentage, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil, nil
	}
	if err != nil {
		return -1, nil, fmt.Errorf("service: read entry: %w", err)
	}
	e.Date = time.UnixMilli(at).UTC()

	var ahead int
	err = s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM leaderboard
WHERE percentage > ?1
   OR (percentage = ?1 AND score > ?2)
   OR (percentage = ?1 AND score = ?2 AND recorded_at < ?3)
   OR (percentage = ?1 AND score = ?2 AND recorded_at = ?3 AND user_id < ?4)`,
		e.Percentage, e.Score, at, e.UserID,
	).Scan(&ahead)
	if err != nil {
		return -1, nil, fmt.Errorf("service: rank entry: %w", err)
	}
	return ahead + 1, &e, nil
}
