package postgres

import (
	"context"
	"errors"
	"fmt"

	"treasure-hunt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PlayerStore persists players and rooms in Postgres. Writes are
// document-level upserts; no cross-table transactions are needed.
type PlayerStore struct {
	pool *pgxpool.Pool
}

func NewPlayerStore(pool *pgxpool.Pool) *PlayerStore {
	return &PlayerStore{pool: pool}
}

func (s *PlayerStore) UpsertPlayer(ctx context.Context, user domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (user_id, username) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username`,
		user.ID, user.Username)
	if err != nil {
		return fmt.Errorf("upsert player %s: %w", user.ID, err)
	}
	return nil
}

// CreateRoom inserts the room, or reactivates a previously emptied one. Codes
// are never hard-deleted, so a retired code can host a fresh game while its
// historical join log keeps accumulating.
func (s *PlayerStore) CreateRoom(ctx context.Context, code string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (code, is_active, created_at) VALUES ($1, TRUE, now())
		ON CONFLICT (code) DO UPDATE SET is_active = TRUE, created_at = now()`,
		code)
	if err != nil {
		return fmt.Errorf("create room %s: %w", code, err)
	}
	return nil
}

func (s *PlayerStore) FindActiveRoom(ctx context.Context, code string) (domain.RoomRecord, error) {
	var room domain.RoomRecord
	err := s.pool.QueryRow(ctx, `
		SELECT code, created_at, is_active FROM rooms WHERE code = $1 AND is_active`,
		code).Scan(&room.Code, &room.CreatedAt, &room.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoomRecord{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.RoomRecord{}, fmt.Errorf("find room %s: %w", code, err)
	}
	return room, nil
}

func (s *PlayerStore) AddRoomPlayer(ctx context.Context, code, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_players (room_code, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		code, userID)
	if err != nil {
		return fmt.Errorf("add room player %s/%s: %w", code, userID, err)
	}
	return nil
}

func (s *PlayerStore) DeactivateRoom(ctx context.Context, code string) error {
	_, err := s.pool.Exec(ctx, `UPDATE rooms SET is_active = FALSE WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("deactivate room %s: %w", code, err)
	}
	return nil
}

// RecordCompletion folds one finished game into the player's stats: games
// played is incremented, the high score only grows, and the fastest time only
// shrinks.
func (s *PlayerStore) RecordCompletion(ctx context.Context, userID string, score int, seconds float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE players SET
			games_completed = games_completed + 1,
			high_score = GREATEST(high_score, $2),
			fastest_time = CASE
				WHEN fastest_time IS NULL OR $3 < fastest_time THEN $3
				ELSE fastest_time
			END
		WHERE user_id = $1`,
		userID, score, seconds)
	if err != nil {
		return fmt.Errorf("record completion %s: %w", userID, err)
	}
	return nil
}

func (s *PlayerStore) TopPlayers(ctx context.Context, limit int) ([]domain.PlayerRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, username, high_score, games_completed, COALESCE(fastest_time, 0)
		FROM players ORDER BY high_score DESC, username ASC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("top players: %w", err)
	}
	defer rows.Close()

	var records []domain.PlayerRecord
	for rows.Next() {
		var p domain.PlayerRecord
		if err := rows.Scan(&p.UserID, &p.Username, &p.HighScore, &p.GamesCompleted, &p.FastestTime); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		records = append(records, p)
	}
	return records, rows.Err()
}
