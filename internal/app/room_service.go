package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"treasure-hunt-service/internal/domain"
)

// SessionRegistry abstracts where live sessions live (in-memory, Redis-backed).
// The registry is the single source of truth for live gameplay state.
type SessionRegistry interface {
	GetOrCreate(code string) *Session
	Get(code string) (*Session, bool)
	DeleteIfEmpty(code string)
}

// QuestionRepository loads the shared question sequence (from cache/backing store).
type QuestionRepository interface {
	GetQuestions(ctx context.Context) ([]domain.Question, error)
}

// PlayerStore persists durable player and room records across restarts.
type PlayerStore interface {
	UpsertPlayer(ctx context.Context, user domain.User) error
	CreateRoom(ctx context.Context, code string) error
	FindActiveRoom(ctx context.Context, code string) (domain.RoomRecord, error)
	AddRoomPlayer(ctx context.Context, code, userID string) error
	DeactivateRoom(ctx context.Context, code string) error
	RecordCompletion(ctx context.Context, userID string, score int, seconds float64) error
	TopPlayers(ctx context.Context, limit int) ([]domain.PlayerRecord, error)
}

const (
	// DefaultCountdown is the lobby-to-active window.
	DefaultCountdown = 10 * time.Second
	// DefaultAwardPoints is the fixed award per correct answer.
	DefaultAwardPoints = 100
	// DefaultLeaderboardSize caps the leaderboard query.
	DefaultLeaderboardSize = 10
)

// Settings tunes gameplay. Zero values fall back to the defaults above.
type Settings struct {
	Countdown   time.Duration
	AwardPoints int
}

// RoomService contains the room coordination use cases: registry lookups,
// lifecycle transitions, broadcast fan-out, and reconciliation with the
// durable store. Durable writes on gameplay paths are fire-and-forget: the
// in-memory mutation and broadcast complete first, and a storage failure is
// logged, never surfaced to players.
type RoomService struct {
	sessions  SessionRegistry
	questions QuestionRepository
	store     PlayerStore
	countdown time.Duration
	award     int
	writes    sync.WaitGroup
}

func NewRoomService(sessions SessionRegistry, questions QuestionRepository, store PlayerStore, settings Settings) *RoomService {
	if settings.Countdown <= 0 {
		settings.Countdown = DefaultCountdown
	}
	if settings.AwardPoints <= 0 {
		settings.AwardPoints = DefaultAwardPoints
	}
	return &RoomService{
		sessions:  sessions,
		questions: questions,
		store:     store,
		countdown: settings.Countdown,
		award:     settings.AwardPoints,
	}
}

// CreateRoom inserts the durable room and creates an empty live session.
// Callers are responsible for generating unique codes; a collision with an
// active room surfaces as ErrDuplicateRoom.
func (s *RoomService) CreateRoom(ctx context.Context, code string) (domain.RoomState, error) {
	if _, err := s.store.FindActiveRoom(ctx, code); err == nil {
		return domain.RoomState{}, domain.ErrDuplicateRoom
	} else if !errors.Is(err, domain.ErrRoomNotFound) {
		return domain.RoomState{}, fmt.Errorf("create room %s: %w", code, err)
	}

	if err := s.store.CreateRoom(ctx, code); err != nil {
		return domain.RoomState{}, fmt.Errorf("create room %s: %w", code, err)
	}
	session := s.sessions.GetOrCreate(code)
	return session.Snapshot(""), nil
}

// JoinRoom adds the user to the live roster and returns the full snapshot.
// The durable player upsert and historical roster append happen asynchronously
// so storage latency never delays the join broadcast.
func (s *RoomService) JoinRoom(ctx context.Context, code string, user domain.User) (domain.RoomState, error) {
	if _, err := s.store.FindActiveRoom(ctx, code); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return domain.RoomState{}, domain.ErrRoomNotFound
		}
		return domain.RoomState{}, fmt.Errorf("join room %s: %w", code, err)
	}

	session := s.sessions.GetOrCreate(code)
	state, _ := session.join(user)

	s.persist("join "+code, func(ctx context.Context) error {
		if err := s.store.UpsertPlayer(ctx, user); err != nil {
			return err
		}
		return s.store.AddRoomPlayer(ctx, code, user.ID)
	})
	return state, nil
}

// RemovePlayer drops the player from the roster and notifies the room. The
// last player leaving destroys the session and durably deactivates the room.
// Unknown rooms and players are a no-op.
func (s *RoomService) RemovePlayer(ctx context.Context, code, playerID string) {
	session, ok := s.sessions.Get(code)
	if !ok {
		return
	}
	if _, empty := session.leave(playerID); empty {
		s.sessions.DeleteIfEmpty(code)
		s.persist("deactivate "+code, func(ctx context.Context) error {
			return s.store.DeactivateRoom(ctx, code)
		})
	}
}

// MarkReady flips the player to ready and starts the countdown once the whole
// roster (of more than one player) is ready. Unknown rooms are a no-op.
func (s *RoomService) MarkReady(ctx context.Context, code, playerID string) {
	if session, ok := s.sessions.Get(code); ok {
		session.markReady(playerID, s.countdown)
	}
}

// StartCountdown force-starts the countdown, bypassing the all-ready
// condition. Unknown rooms are a no-op.
func (s *RoomService) StartCountdown(ctx context.Context, code string) {
	if session, ok := s.sessions.Get(code); ok {
		session.forceCountdown(s.countdown)
	}
}

// SubmitAnswer validates the submission against the player's current question
// and awards the fixed number of points when correct.
func (s *RoomService) SubmitAnswer(ctx context.Context, code, playerID, answer string) (domain.AnswerResult, error) {
	session, ok := s.sessions.Get(code)
	if !ok {
		return domain.AnswerResult{}, domain.ErrRoomNotFound
	}
	questions, err := s.questions.GetQuestions(ctx)
	if err != nil {
		return domain.AnswerResult{}, fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return domain.AnswerResult{}, domain.ErrQuestionsNotFound
	}
	return session.applyAnswer(playerID, answer, questions, s.award)
}

// CompleteGame records the caller-supplied completion time for the player and
// asynchronously folds the result into the durable player stats. The gameEnd
// broadcast fires from within the session once every roster member completed.
func (s *RoomService) CompleteGame(ctx context.Context, code, playerID string, seconds float64) {
	session, ok := s.sessions.Get(code)
	if !ok {
		return
	}
	player, recorded := session.complete(playerID, seconds)
	if !recorded {
		return
	}
	s.persist("completion "+playerID, func(ctx context.Context) error {
		return s.store.RecordCompletion(ctx, player.ID, player.Score, seconds)
	})
}

// ResetGame returns the session to the lobby phase, preserving membership.
// Unknown rooms are a no-op.
func (s *RoomService) ResetGame(ctx context.Context, code string) {
	if session, ok := s.sessions.Get(code); ok {
		session.reset()
	}
}

// Subscribe returns a channel that receives the room's broadcast events,
// excluding those the given player originated. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *RoomService) Subscribe(_ context.Context, code, playerID string) (<-chan domain.Event, func(), error) {
	session, ok := s.sessions.Get(code)
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	ch, cancel := session.subscribe(playerID)
	return ch, cancel, nil
}

// Leaderboard returns the top players by durable high score. Reads may
// observe stale data for a short window after a game ends because stat
// writes are asynchronous.
func (s *RoomService) Leaderboard(ctx context.Context, limit int) ([]domain.PlayerRecord, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	return s.store.TopPlayers(ctx, limit)
}

// Flush waits for outstanding durable writes; used on shutdown and in tests.
func (s *RoomService) Flush() {
	s.writes.Wait()
}

func (s *RoomService) persist(op string, fn func(context.Context) error) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("persist %s: %v", op, err)
		}
	}()
}
