package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"treasure-hunt-service/internal/app"
	"treasure-hunt-service/internal/domain"
	"treasure-hunt-service/internal/infra/memory"
)

func TestJoinRoomRosterGrowth(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 10*time.Millisecond)

	if _, err := service.CreateRoom(ctx, "ABC123"); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, u := range []domain.User{{ID: "u1", Username: "Alice"}, {ID: "u2", Username: "Bob"}, {ID: "u3", Username: "Cleo"}} {
		if _, err := service.JoinRoom(ctx, "ABC123", u); err != nil {
			t.Fatalf("join %s: %v", u.ID, err)
		}
	}

	// Joining again with an id already present is a no-op on the roster but
	// still returns a valid snapshot.
	state, err := service.JoinRoom(ctx, "ABC123", domain.User{ID: "u2", Username: "Bob"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(state.Players) != 3 {
		t.Fatalf("expected roster of 3, got %d", len(state.Players))
	}
	for i, id := range []string{"u1", "u2", "u3"} {
		if state.Players[i].ID != id {
			t.Fatalf("expected join order preserved, got %+v", state.Players)
		}
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 10*time.Millisecond)

	_, err := service.JoinRoom(ctx, "NOSUCH", domain.User{ID: "u1", Username: "Alice"})
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestCreateRoomDuplicate(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 10*time.Millisecond)

	if _, err := service.CreateRoom(ctx, "ABC123"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.CreateRoom(ctx, "ABC123"); !errors.Is(err, domain.ErrDuplicateRoom) {
		t.Fatalf("expected duplicate room, got %v", err)
	}
}

func TestLastLeaveDestroysSession(t *testing.T) {
	ctx := context.Background()
	service, store := newTestService(t, 10*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	startGame(t, service, "ABC123")
	if _, err := service.SubmitAnswer(ctx, "ABC123", "u1", "treasure"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	service.RemovePlayer(ctx, "ABC123", "u1")
	service.RemovePlayer(ctx, "ABC123", "u2")
	service.Flush()

	if _, err := service.SubmitAnswer(ctx, "ABC123", "u1", "treasure"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected destroyed session, got %v", err)
	}
	if _, err := store.FindActiveRoom(ctx, "ABC123"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected durable room deactivated, got %v", err)
	}

	// Recreating the code yields a fresh session; lobby history does not leak.
	if _, err := service.CreateRoom(ctx, "ABC123"); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	state, err := service.JoinRoom(ctx, "ABC123", domain.User{ID: "u1", Username: "Alice"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(state.Players) != 1 || state.Players[0].Score != 0 || state.Players[0].IsReady {
		t.Fatalf("expected fresh single-player lobby, got %+v", state)
	}
}

func TestRemovePlayerUnknownRoomIsNoop(t *testing.T) {
	service, _ := newTestService(t, 10*time.Millisecond)
	service.RemovePlayer(context.Background(), "NOSUCH", "u1")
}

func TestReadyTriggersCountdown(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 20*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	events, cancel, err := service.Subscribe(ctx, "ABC123", "observer")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	service.MarkReady(ctx, "ABC123", "u1")
	waitEvent(t, events, domain.EventPlayerReady)
	assertNoEvent(t, events, domain.EventGameStart)

	service.MarkReady(ctx, "ABC123", "u2")
	waitEvent(t, events, domain.EventGameStart)

	state := waitEvent(t, events, domain.EventRoomState).Payload.(domain.RoomState)
	if !state.IsGameActive {
		t.Fatalf("expected active game after countdown, got %+v", state)
	}
	if state.CurrentQuestionIndex != 0 {
		t.Fatalf("expected question index reset, got %d", state.CurrentQuestionIndex)
	}
}

func TestSinglePlayerReadyDoesNotStart(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 20*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1")
	events, cancel, err := service.Subscribe(ctx, "ABC123", "observer")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	service.MarkReady(ctx, "ABC123", "u1")
	waitEvent(t, events, domain.EventPlayerReady)
	assertNoEvent(t, events, domain.EventGameStart)

	if _, err := service.SubmitAnswer(ctx, "ABC123", "u1", "treasure"); !errors.Is(err, domain.ErrGameNotActive) {
		t.Fatalf("expected inactive game, got %v", err)
	}
}

// Readiness is monotonic: once a player readies up they stay ready until the
// game is reset; there is no un-ready path.
func TestReadinessMonotonic(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 10*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1")
	service.MarkReady(ctx, "ABC123", "u1")
	service.MarkReady(ctx, "ABC123", "u1")

	state, _ := service.JoinRoom(ctx, "ABC123", domain.User{ID: "u1", Username: "Alice"})
	if !state.Players[0].IsReady {
		t.Fatalf("expected player to remain ready, got %+v", state.Players[0])
	}

	service.ResetGame(ctx, "ABC123")
	state, _ = service.JoinRoom(ctx, "ABC123", domain.User{ID: "u1", Username: "Alice"})
	if state.Players[0].IsReady {
		t.Fatalf("expected reset to clear readiness, got %+v", state.Players[0])
	}
}

func TestForceCountdownOverride(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 20*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	events, cancel, err := service.Subscribe(ctx, "ABC123", "observer")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// Nobody is ready; the explicit start bypasses the all-ready condition.
	service.StartCountdown(ctx, "ABC123")
	waitEvent(t, events, domain.EventGameStart)
	waitEvent(t, events, domain.EventRoomState)
}

func TestAnswerNormalization(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 10*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	startGame(t, service, "ABC123")

	result, err := service.SubmitAnswer(ctx, "ABC123", "u1", "Treasures")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.Correct || result.TotalScore != 0 {
		t.Fatalf("expected near-miss to be wrong, got %+v", result)
	}

	result, err = service.SubmitAnswer(ctx, "ABC123", "u1", "  Treasure ")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !result.Correct || result.Awarded != 100 || result.QuestionIndex != 0 {
		t.Fatalf("expected normalized match, got %+v", result)
	}
}

func TestScoreAccrual(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 10*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	startGame(t, service, "ABC123")

	var last domain.AnswerResult
	for _, answer := range []string{"treasure", "echo", "map"} {
		result, err := service.SubmitAnswer(ctx, "ABC123", "u1", answer)
		if err != nil {
			t.Fatalf("answer %q: %v", answer, err)
		}
		if !result.Correct {
			t.Fatalf("expected %q to be correct, got %+v", answer, result)
		}
		last = result
	}
	if last.TotalScore != 300 {
		t.Fatalf("expected 3 correct answers to score 300, got %d", last.TotalScore)
	}
	if !last.Finished {
		t.Fatalf("expected final answer to finish the sequence, got %+v", last)
	}
}

func TestGameEndRequiresAllCompletions(t *testing.T) {
	ctx := context.Background()
	service, store := newTestService(t, 10*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	startGame(t, service, "ABC123")
	events, cancel, err := service.Subscribe(ctx, "ABC123", "observer")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	service.CompleteGame(ctx, "ABC123", "u1", 42.5)
	assertNoEvent(t, events, domain.EventGameEnd)

	// A second completion for the same player must not overwrite the time.
	service.CompleteGame(ctx, "ABC123", "u1", 1.0)

	service.CompleteGame(ctx, "ABC123", "u2", 51.2)
	roster := waitEvent(t, events, domain.EventGameEnd).Payload.([]domain.SessionPlayer)
	if len(roster) != 2 {
		t.Fatalf("expected both players in gameEnd, got %+v", roster)
	}
	if roster[0].CompletionTime != 42.5 || roster[1].CompletionTime != 51.2 {
		t.Fatalf("expected recorded times to stick, got %+v", roster)
	}

	service.Flush()
	records, err := store.TopPlayers(ctx, 10)
	if err != nil {
		t.Fatalf("top players: %v", err)
	}
	for _, r := range records {
		if r.GamesCompleted != 1 {
			t.Fatalf("expected one completed game for %s, got %d", r.UserID, r.GamesCompleted)
		}
	}
}

func TestResetClearsPlayerState(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 10*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	startGame(t, service, "ABC123")

	if _, err := service.SubmitAnswer(ctx, "ABC123", "u1", "treasure"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	service.CompleteGame(ctx, "ABC123", "u1", 42.5)

	service.ResetGame(ctx, "ABC123")
	state, err := service.JoinRoom(ctx, "ABC123", domain.User{ID: "u1", Username: "Alice"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if state.IsGameActive || state.CurrentQuestionIndex != 0 {
		t.Fatalf("expected lobby state after reset, got %+v", state)
	}
	if len(state.Players) != 2 {
		t.Fatalf("expected roster preserved across reset, got %+v", state.Players)
	}
	for _, p := range state.Players {
		if p.IsReady || p.Score != 0 || p.QuestionIndex != 0 || p.Completed() {
			t.Fatalf("expected cleared player state, got %+v", p)
		}
	}
}

func TestResetCancelsPendingCountdown(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 30*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	events, cancel, err := service.Subscribe(ctx, "ABC123", "observer")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	service.StartCountdown(ctx, "ABC123")
	waitEvent(t, events, domain.EventGameStart)
	service.ResetGame(ctx, "ABC123")
	waitEvent(t, events, domain.EventGameReset)

	time.Sleep(60 * time.Millisecond)
	if _, err := service.SubmitAnswer(ctx, "ABC123", "u1", "treasure"); !errors.Is(err, domain.ErrGameNotActive) {
		t.Fatalf("expected cancelled countdown to keep game inactive, got %v", err)
	}
}

func TestEndToEndTwoPlayers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPlayerStore()
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(fullSequence()), 5*time.Minute)
	service := app.NewRoomService(memory.NewSessionRegistry(), questions, store, app.Settings{
		Countdown:   20 * time.Millisecond,
		AwardPoints: 100,
	})

	if _, err := service.CreateRoom(ctx, "ABC123"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.JoinRoom(ctx, "ABC123", domain.User{ID: "p1", Username: "Alice"}); err != nil {
		t.Fatalf("join p1: %v", err)
	}
	if _, err := service.JoinRoom(ctx, "ABC123", domain.User{ID: "p2", Username: "Bob"}); err != nil {
		t.Fatalf("join p2: %v", err)
	}

	events, cancel, err := service.Subscribe(ctx, "ABC123", "observer")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	service.MarkReady(ctx, "ABC123", "p1")
	service.MarkReady(ctx, "ABC123", "p2")
	waitEvent(t, events, domain.EventGameStart)
	waitEvent(t, events, domain.EventRoomState)

	answers := []string{"treasure", "echo", "map", "footsteps", "breath", "piano", "towel", "age", "mirror", "gold"}
	for i, answer := range answers {
		result, err := service.SubmitAnswer(ctx, "ABC123", "p1", answer)
		if err != nil {
			t.Fatalf("p1 answer %d: %v", i, err)
		}
		if !result.Correct {
			t.Fatalf("expected %q correct at index %d, got %+v", answer, i, result)
		}
	}
	service.CompleteGame(ctx, "ABC123", "p1", 33.3)
	assertNoEvent(t, events, domain.EventGameEnd)

	if _, err := service.SubmitAnswer(ctx, "ABC123", "p2", "treasure"); err != nil {
		t.Fatalf("p2 answer: %v", err)
	}
	service.CompleteGame(ctx, "ABC123", "p2", 51.2)

	roster := waitEvent(t, events, domain.EventGameEnd).Payload.([]domain.SessionPlayer)
	if roster[0].Score != 1000 || roster[0].CompletionTime != 33.3 {
		t.Fatalf("expected p1 to finish with 1000 at 33.3s, got %+v", roster[0])
	}
	if roster[1].Score != 100 || roster[1].CompletionTime != 51.2 {
		t.Fatalf("expected p2 to finish with 100 at 51.2s, got %+v", roster[1])
	}

	service.Flush()
	records, err := service.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(records) != 2 || records[0].UserID != "p1" || records[0].HighScore != 1000 {
		t.Fatalf("expected p1 leading the leaderboard, got %+v", records)
	}
	if records[0].FastestTime != 33.3 {
		t.Fatalf("expected fastest time recorded, got %+v", records[0])
	}
}

func TestJoinPersistsDurableRecords(t *testing.T) {
	ctx := context.Background()
	service, store := newTestService(t, 10*time.Millisecond)

	mustCreateAndJoin(t, service, "ABC123", "u1", "u2")
	service.Flush()

	members := store.RoomMembers("ABC123")
	if len(members) != 2 || members[0] != "u1" || members[1] != "u2" {
		t.Fatalf("expected historical roster of both players, got %v", members)
	}

	// Leaving does not shrink the historical join log.
	service.RemovePlayer(ctx, "ABC123", "u1")
	service.Flush()
	if len(store.RoomMembers("ABC123")) != 2 {
		t.Fatalf("expected join log to be cumulative")
	}
}

func newTestService(t *testing.T, countdown time.Duration) (*app.RoomService, *memory.PlayerStore) {
	t.Helper()
	store := memory.NewPlayerStore()
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(testQuestions()), 5*time.Minute)
	service := app.NewRoomService(memory.NewSessionRegistry(), questions, store, app.Settings{
		Countdown:   countdown,
		AwardPoints: 100,
	})
	return service, store
}

func testQuestions() []domain.Question {
	return []domain.Question{
		{ID: 1, Prompt: "What has a golden key but no locks?", Answer: "treasure", Points: 100},
		{ID: 2, Prompt: "I come alive with wind. What am I?", Answer: "echo", Points: 150},
		{ID: 3, Prompt: "I have cities, but no houses. What am I?", Answer: "map", Points: 200},
	}
}

func fullSequence() []domain.Question {
	answers := []string{"treasure", "echo", "map", "footsteps", "breath", "piano", "towel", "age", "mirror", "gold"}
	questions := make([]domain.Question, len(answers))
	for i, a := range answers {
		questions[i] = domain.Question{ID: i + 1, Prompt: "riddle", Answer: a, Points: 100}
	}
	return questions
}

func mustCreateAndJoin(t *testing.T, service *app.RoomService, code string, playerIDs ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := service.CreateRoom(ctx, code); err != nil {
		t.Fatalf("create %s: %v", code, err)
	}
	for _, id := range playerIDs {
		if _, err := service.JoinRoom(ctx, code, domain.User{ID: id, Username: "player-" + id}); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
}

// startGame drives the room into the active phase via the override path and
// waits for the transition.
func startGame(t *testing.T, service *app.RoomService, code string) {
	t.Helper()
	ctx := context.Background()
	events, cancel, err := service.Subscribe(ctx, code, "starter")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	service.StartCountdown(ctx, code)
	waitEvent(t, events, domain.EventRoomState)
}

func waitEvent(t *testing.T, events <-chan domain.Event, typ string) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func assertNoEvent(t *testing.T, events <-chan domain.Event, typ string) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == typ {
				t.Fatalf("unexpected %s event: %+v", typ, ev)
			}
		case <-deadline:
			return
		}
	}
}
