package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"treasure-hunt-service/internal/app"
	"treasure-hunt-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.RoomService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.RoomService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

type joinRoomPayload struct {
	RoomCode string      `json:"roomCode"`
	User     domain.User `json:"user"`
}

type playerReadyPayload struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
}

type answerPayload struct {
	RoomCode      string `json:"roomCode"`
	Answer        string `json:"answer"`
	QuestionIndex int    `json:"questionIndex"`
}

type completeGamePayload struct {
	RoomCode string  `json:"roomCode"`
	Time     float64 `json:"time"`
}

type roomPayload struct {
	RoomCode string `json:"roomCode"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// connState binds a transport connection to at most one room/player pair.
type connState struct {
	roomCode string
	playerID string
	cancel   func()
	pumpDone chan struct{}
}

// ServeWS upgrades the request and drives the connection's event loop. The
// binding to a room happens on the first successful joinRoom; disconnect and
// explicit leave both run the same idempotent cleanup.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan domain.Event, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		var failed bool
		for ev := range send {
			if failed {
				// Keep draining so producers never block on a dead peer.
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("ws write error: %v", err)
				failed = true
			}
		}
	}()

	state := &connState{}
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r.Context(), state, send, inbound)
	}

	h.unbind(r.Context(), state)
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, state *connState, send chan domain.Event, inbound inboundMessage) {
	switch inbound.Type {
	case "createRoom":
		var p createRoomPayload
		if !decode(send, inbound.Payload, &p) {
			return
		}
		if _, err := h.service.CreateRoom(ctx, p.RoomCode); err != nil {
			sendError(send, createError(err))
			return
		}
		send <- domain.Event{Type: domain.EventRoomCreated, Payload: roomPayload{RoomCode: p.RoomCode}}

	case "joinRoom":
		var p joinRoomPayload
		if !decode(send, inbound.Payload, &p) {
			return
		}
		h.join(ctx, state, send, p)

	case "playerReady":
		var p playerReadyPayload
		if !decode(send, inbound.Payload, &p) {
			return
		}
		h.service.MarkReady(ctx, p.RoomCode, p.PlayerID)

	case "startCountdown":
		var p roomPayload
		if !decode(send, inbound.Payload, &p) {
			return
		}
		h.service.StartCountdown(ctx, p.RoomCode)

	case "answer", "correctAnswer":
		var p answerPayload
		if !decode(send, inbound.Payload, &p) {
			return
		}
		result, err := h.service.SubmitAnswer(ctx, p.RoomCode, state.playerID, p.Answer)
		if err != nil {
			// Unknown rooms and stale submissions arise from reconnect
			// races; drop them without a reply.
			if !benign(err) {
				sendError(send, "failed to check answer")
			}
			return
		}
		send <- domain.Event{Type: domain.EventAnswerResult, Payload: result}

	case "completeGame":
		var p completeGamePayload
		if !decode(send, inbound.Payload, &p) {
			return
		}
		h.service.CompleteGame(ctx, p.RoomCode, state.playerID, p.Time)

	case "resetGame":
		var p roomPayload
		if !decode(send, inbound.Payload, &p) {
			return
		}
		h.service.ResetGame(ctx, p.RoomCode)

	case "leaveRoom":
		h.unbind(ctx, state)

	default:
		sendError(send, "unsupported message type")
	}
}

func (h *WSHandler) join(ctx context.Context, state *connState, send chan domain.Event, p joinRoomPayload) {
	if state.roomCode != "" && state.roomCode != p.RoomCode {
		sendError(send, "already in a room")
		return
	}

	snapshot, err := h.service.JoinRoom(ctx, p.RoomCode, p.User)
	if err != nil {
		sendError(send, joinError(err))
		return
	}

	if state.roomCode == "" {
		updates, cancel, err := h.service.Subscribe(ctx, p.RoomCode, p.User.ID)
		if err != nil {
			sendError(send, joinError(err))
			return
		}
		state.roomCode = p.RoomCode
		state.playerID = p.User.ID
		state.cancel = cancel
		state.pumpDone = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			for ev := range updates {
				send <- ev
			}
		}(state.pumpDone)
	}

	send <- domain.Event{Type: domain.EventRoomState, Payload: snapshot}
}

// unbind tears the room binding down: the subscription is cancelled before the
// player is removed so the connection never receives its own playerLeft. Safe
// to call with no bound room.
func (h *WSHandler) unbind(ctx context.Context, state *connState) {
	if state.roomCode == "" {
		return
	}
	state.cancel()
	<-state.pumpDone
	h.service.RemovePlayer(ctx, state.roomCode, state.playerID)
	state.roomCode = ""
	state.playerID = ""
	state.cancel = nil
	state.pumpDone = nil
}

func decode(send chan domain.Event, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		sendError(send, "invalid payload")
		return false
	}
	return true
}

func sendError(send chan domain.Event, message string) {
	send <- domain.Event{Type: domain.EventError, Payload: errorPayload{Message: message}}
}

// benign reports errors that commonly arise from duplicate or late client
// events and are treated as no-ops, not failures.
func benign(err error) bool {
	return errors.Is(err, domain.ErrRoomNotFound) ||
		errors.Is(err, domain.ErrPlayerNotFound) ||
		errors.Is(err, domain.ErrGameNotActive)
}

func createError(err error) string {
	if errors.Is(err, domain.ErrDuplicateRoom) {
		return "Room code already in use"
	}
	return "Failed to create room"
}

func joinError(err error) string {
	if errors.Is(err, domain.ErrRoomNotFound) {
		return "Room not found"
	}
	return "Failed to join room"
}
