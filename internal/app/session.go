package app

import (
	"sync"
	"time"

	"treasure-hunt-service/internal/domain"
)

// Session is the live, in-memory state of one room. All mutation happens
// under mu, so no two changes to the same room ever interleave; broadcasts
// are published under the same lock, which keeps per-room event order FIFO.
type Session struct {
	code string

	mu           sync.RWMutex
	players      []*domain.SessionPlayer // join order
	isGameActive bool
	countingDown bool
	countdown    *time.Timer
	subscribers  map[chan domain.Event]string // channel -> owning player id
}

// NewSession is exported for infrastructure layers that need to seed sessions.
func NewSession(code string) *Session {
	return &Session{
		code:        code,
		subscribers: make(map[chan domain.Event]string),
	}
}

// IsEmpty reports whether the session has no roster members.
func (s *Session) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players) == 0
}

// Snapshot returns the current room state as seen by viewerID.
func (s *Session) Snapshot(viewerID string) domain.RoomState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(viewerID)
}

// join appends the user to the roster unless already present by id. Joining
// twice is a no-op on the roster but still yields the current snapshot.
// Other subscribers are notified of a genuinely new player.
func (s *Session) join(user domain.User) (domain.RoomState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.findLocked(user.ID); p != nil {
		p.Username = user.Username
		return s.snapshotLocked(user.ID), false
	}

	player := &domain.SessionPlayer{ID: user.ID, Username: user.Username}
	s.players = append(s.players, player)
	s.broadcastLocked(domain.Event{Type: domain.EventPlayerJoined, Payload: *player}, user.ID)
	return s.snapshotLocked(user.ID), true
}

// markReady flips the player to ready. Readiness is monotonic: it stays set
// until the game is reset. When every roster member is ready and the roster
// holds more than one player, the countdown begins.
func (s *Session) markReady(playerID string, countdown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findLocked(playerID)
	if p == nil {
		return false
	}
	p.IsReady = true
	s.broadcastLocked(domain.Event{Type: domain.EventPlayerReady, Payload: readyPayload{PlayerID: playerID}}, playerID)

	if len(s.players) > 1 && s.allReadyLocked() {
		s.beginCountdownLocked(countdown)
	}
	return true
}

// forceCountdown starts the countdown regardless of ready state. This is the
// override path for the room initiator.
func (s *Session) forceCountdown(countdown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginCountdownLocked(countdown)
}

func (s *Session) beginCountdownLocked(countdown time.Duration) bool {
	if s.countingDown || s.isGameActive {
		return false
	}
	s.countingDown = true
	s.broadcastLocked(domain.Event{Type: domain.EventGameStart, Payload: countdownPayload{
		Seconds: int(countdown / time.Second),
	}}, "")
	s.countdown = time.AfterFunc(countdown, s.activate)
	return true
}

// activate is the countdown timer callback; it transitions the session to
// the active phase unless the countdown was cancelled in the meantime.
func (s *Session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.countingDown {
		return
	}
	s.countingDown = false
	s.countdown = nil
	s.isGameActive = true
	for _, p := range s.players {
		p.QuestionIndex = 0
	}
	s.broadcastLocked(domain.Event{Type: domain.EventRoomState, Payload: s.snapshotLocked("")}, "")
}

func (s *Session) cancelCountdownLocked() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	s.countingDown = false
}

// applyAnswer validates a submission against the player's current question.
// A correct answer awards the fixed number of points and advances the
// player's personal index; the updated scores go to the whole room.
func (s *Session) applyAnswer(playerID, answer string, questions []domain.Question, award int) (domain.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findLocked(playerID)
	if p == nil {
		return domain.AnswerResult{}, domain.ErrPlayerNotFound
	}
	if !s.isGameActive {
		return domain.AnswerResult{}, domain.ErrGameNotActive
	}

	idx := p.QuestionIndex
	if idx >= len(questions) {
		return domain.AnswerResult{QuestionIndex: idx, TotalScore: p.Score, Finished: true}, nil
	}

	if !domain.AnswerMatches(answer, questions[idx].Answer) {
		return domain.AnswerResult{QuestionIndex: idx, TotalScore: p.Score}, nil
	}

	p.Score += award
	p.QuestionIndex++
	s.broadcastLocked(domain.Event{Type: domain.EventUpdateScores, Payload: s.rosterLocked()}, "")

	return domain.AnswerResult{
		QuestionIndex: idx,
		Correct:       true,
		Awarded:       award,
		TotalScore:    p.Score,
		Finished:      p.QuestionIndex == len(questions),
	}, nil
}

// complete records the caller-supplied completion time. The time is set at
// most once; later calls are no-ops. Once every roster member has completed,
// the final roster goes out as a gameEnd broadcast.
func (s *Session) complete(playerID string, seconds float64) (domain.SessionPlayer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findLocked(playerID)
	if p == nil || seconds <= 0 || p.Completed() {
		return domain.SessionPlayer{}, false
	}
	p.CompletionTime = seconds

	if s.allCompletedLocked() {
		s.broadcastLocked(domain.Event{Type: domain.EventGameEnd, Payload: s.rosterLocked()}, "")
	}
	return *p, true
}

// reset returns the session to the lobby phase: game inactive, countdown
// cancelled, every player's ready flag, score, progress, and completion time
// cleared. Roster membership is preserved.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelCountdownLocked()
	s.isGameActive = false
	for _, p := range s.players {
		p.IsReady = false
		p.Score = 0
		p.QuestionIndex = 0
		p.CompletionTime = 0
	}
	s.broadcastLocked(domain.Event{Type: domain.EventGameReset, Payload: s.snapshotLocked("")}, "")
}

// leave removes the player, keeping the remaining roster in join order.
// Unknown players are a no-op. An emptied session cancels any pending
// countdown; the registry drops it right after.
func (s *Session) leave(playerID string) (removed, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.players {
		if p.ID == playerID {
			s.players = append(s.players[:i], s.players[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return false, len(s.players) == 0
	}
	s.broadcastLocked(domain.Event{Type: domain.EventPlayerLeft, Payload: readyPayload{PlayerID: playerID}}, playerID)
	if len(s.players) == 0 {
		s.cancelCountdownLocked()
		return true, true
	}
	return true, false
}

// subscribe registers a delivery channel owned by playerID. The owner id is
// used to implement to-room-excluding-self delivery. The caller must invoke
// the returned cancel function to avoid leaks.
func (s *Session) subscribe(playerID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	s.mu.Lock()
	s.subscribers[ch] = playerID
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastLocked(ev domain.Event, excludeID string) {
	for ch, owner := range s.subscribers {
		if excludeID != "" && owner == excludeID {
			continue
		}
		select {
		case ch <- ev:
		default:
			// Drop the oldest buffered event so a slow client never blocks
			// the room.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func (s *Session) findLocked(playerID string) *domain.SessionPlayer {
	for _, p := range s.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (s *Session) allReadyLocked() bool {
	for _, p := range s.players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

func (s *Session) allCompletedLocked() bool {
	for _, p := range s.players {
		if !p.Completed() {
			return false
		}
	}
	return true
}

func (s *Session) rosterLocked() []domain.SessionPlayer {
	roster := make([]domain.SessionPlayer, 0, len(s.players))
	for _, p := range s.players {
		roster = append(roster, *p)
	}
	return roster
}

func (s *Session) snapshotLocked(viewerID string) domain.RoomState {
	index := 0
	if viewer := s.findLocked(viewerID); viewer != nil {
		index = viewer.QuestionIndex
	}
	return domain.RoomState{
		Code:                 s.code,
		IsGameActive:         s.isGameActive,
		CurrentQuestionIndex: index,
		Players:              s.rosterLocked(),
	}
}

type readyPayload struct {
	PlayerID string `json:"playerId"`
}

type countdownPayload struct {
	Seconds int `json:"seconds"`
}
