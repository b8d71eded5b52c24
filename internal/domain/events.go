package domain

// Event is a state-change notification fanned out to room subscribers.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Outbound event types. Within one room, events are delivered in the order
// they were published.
const (
	EventRoomCreated  = "roomCreated"
	EventPlayerJoined = "playerJoined"
	EventRoomState    = "roomState"
	EventPlayerReady  = "playerReady"
	EventGameStart    = "gameStart"
	EventAnswerResult = "answerResult"
	EventUpdateScores = "updateScores"
	EventGameEnd      = "gameEnd"
	EventGameReset    = "gameReset"
	EventPlayerLeft   = "playerLeft"
	EventError        = "error"
)
