package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"treasure-hunt-service/internal/domain"
)

// PlayerStore is an in-memory implementation of app.PlayerStore for tests and
// runs without Postgres. Semantics mirror the Postgres adapter: document-level
// upserts, cumulative room membership, monotonic completion stats.
type PlayerStore struct {
	mu          sync.RWMutex
	players     map[string]*domain.PlayerRecord
	rooms       map[string]*domain.RoomRecord
	roomPlayers map[string]map[string]struct{}
}

func NewPlayerStore() *PlayerStore {
	return &PlayerStore{
		players:     make(map[string]*domain.PlayerRecord),
		rooms:       make(map[string]*domain.RoomRecord),
		roomPlayers: make(map[string]map[string]struct{}),
	}
}

func (s *PlayerStore) UpsertPlayer(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[user.ID]; ok {
		p.Username = user.Username
		return nil
	}
	s.players[user.ID] = &domain.PlayerRecord{UserID: user.ID, Username: user.Username}
	return nil
}

func (s *PlayerStore) CreateRoom(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[code] = &domain.RoomRecord{Code: code, CreatedAt: time.Now(), IsActive: true}
	return nil
}

func (s *PlayerStore) FindActiveRoom(_ context.Context, code string) (domain.RoomRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	if !ok || !room.IsActive {
		return domain.RoomRecord{}, domain.ErrRoomNotFound
	}
	return *room, nil
}

func (s *PlayerStore) AddRoomPlayer(_ context.Context, code, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.roomPlayers[code]
	if !ok {
		members = make(map[string]struct{})
		s.roomPlayers[code] = members
	}
	members[userID] = struct{}{}
	return nil
}

func (s *PlayerStore) DeactivateRoom(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[code]; ok {
		room.IsActive = false
	}
	return nil
}

func (s *PlayerStore) RecordCompletion(_ context.Context, userID string, score int, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		p = &domain.PlayerRecord{UserID: userID}
		s.players[userID] = p
	}
	p.GamesCompleted++
	if score > p.HighScore {
		p.HighScore = score
	}
	if seconds > 0 && (p.FastestTime == 0 || seconds < p.FastestTime) {
		p.FastestTime = seconds
	}
	return nil
}

func (s *PlayerStore) TopPlayers(_ context.Context, limit int) ([]domain.PlayerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]domain.PlayerRecord, 0, len(s.players))
	for _, p := range s.players {
		records = append(records, *p)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].HighScore != records[j].HighScore {
			return records[i].HighScore > records[j].HighScore
		}
		return records[i].Username < records[j].Username
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// RoomMembers returns the historical join log for a room; test helper.
func (s *PlayerStore) RoomMembers(code string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.roomPlayers[code]))
	for id := range s.roomPlayers[code] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}
