package domain

import (
	"strings"
	"time"
)

// User is the identity supplied by the caller. It is trusted as given;
// authentication happens upstream.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PlayerRecord is the durable view of a player across games.
// FastestTime is in seconds; zero means no completed game yet.
type PlayerRecord struct {
	UserID         string  `json:"userId"`
	Username       string  `json:"username"`
	HighScore      int     `json:"highScore"`
	GamesCompleted int     `json:"gamesCompleted"`
	FastestTime    float64 `json:"fastestTime,omitempty"`
}

// RoomRecord is the durable room. Its player set is a historical join log,
// decoupled from the live roster.
type RoomRecord struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	IsActive  bool      `json:"isActive"`
}

// SessionPlayer is a live roster member. CompletionTime is in seconds and is
// set at most once per game; zero means the player has not finished.
type SessionPlayer struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	IsReady        bool    `json:"isReady"`
	Score          int     `json:"score"`
	QuestionIndex  int     `json:"questionIndex"`
	CompletionTime float64 `json:"completionTime,omitempty"`
}

// Completed reports whether the player has a recorded completion time.
func (p SessionPlayer) Completed() bool {
	return p.CompletionTime > 0
}

// RoomState is a snapshot of a live session. CurrentQuestionIndex is the
// viewer's personal progress, not a room-shared cursor.
type RoomState struct {
	Code                 string          `json:"code"`
	IsGameActive         bool            `json:"isGameActive"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	Players              []SessionPlayer `json:"players"`
}

// Question is one riddle of the shared sequence. The sequence is identical
// across all rooms and immutable once loaded.
type Question struct {
	ID     int    `json:"id"`
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
	Points int    `json:"points"`
}

// AnswerResult summarizes one submission for the submitting player.
type AnswerResult struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
	Awarded       int  `json:"awarded"`
	TotalScore    int  `json:"totalScore"`
	Finished      bool `json:"finished"`
}

// NormalizeAnswer lowers and trims an answer for comparison. Matching is
// exact equality after normalization; no fuzzy matching.
func NormalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AnswerMatches reports whether a submitted answer matches the canonical one.
func AnswerMatches(submitted, canonical string) bool {
	return NormalizeAnswer(submitted) == NormalizeAnswer(canonical)
}
