package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/metrics"
)

// EventSource streams a room's broadcast events (memory.Hub, redis.Broadcaster).
type EventSource interface {
	Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error)
}

var errNotHost = errors.New("only the host can control the game")

type WSHandler struct {
	service  *app.GameService
	events   EventSource
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, events EventSource) *WSHandler {
	return &WSHandler{
		service: service,
		events:  events,
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

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinedPayload struct {
	ParticipantID string           `json:"participantId"`
	ConnectionID  string           `json:"connectionId"`
	State         domain.GameState `json:"state"`
}

type leftPayload struct {
	ParticipantID string `json:"participantId"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: err.Error()}}
}

// ServeWS upgrades /ws/:roomId and wires the connection into the game.
// Query: playerId or guest, plus optional name and avatar.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomId")
	q := r.URL.Query()
	identity := domain.Identity{PlayerID: q.Get("playerId"), GuestName: q.Get("guest")}
	displayName := q.Get("name")
	avatar := q.Get("avatar")
	if roomID == "" || !identity.Valid() {
		http.Error(w, "missing roomId, playerId or guest", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	ctx := context.Background()
	connID := uuid.NewString()
	participantID := identity.Key()

	events, cancel, err := h.events.Subscribe(ctx, roomID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	h.service.Connect(connID, identity)
	defer h.service.Disconnect(ctx, connID)

	state, err := h.enter(ctx, roomID, identity, displayName, avatar, connID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	if err := h.service.Subscribe(connID, roomID); err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// joined goes out before any queued room event
	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		ParticipantID: participantID,
		ConnectionID:  connID,
		State:         state,
	}}

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Type), Payload: ev}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

read:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type == "leave" {
			h.service.Logout(ctx, connID)
			select {
			case send <- outboundMessage[any]{Type: "left", Payload: leftPayload{ParticipantID: participantID}}:
			case <-writerDone:
			}
			break read
		}
		reply, ok := h.handle(ctx, roomID, identity, inbound)
		if !ok {
			continue
		}
		select {
		case send <- reply:
		case <-writerDone:
			break read
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

// enter joins a new participant or resumes an existing one.
func (h *WSHandler) enter(ctx context.Context, roomID string, identity domain.Identity, displayName, avatar, connID string) (domain.GameState, error) {
	participantID := identity.Key()
	if _, err := h.service.ParticipantState(ctx, roomID, participantID); err == nil {
		return h.service.Reconnect(ctx, roomID, participantID, connID)
	}
	return h.service.Join(ctx, roomID, identity, displayName, avatar, connID)
}

func (h *WSHandler) handle(ctx context.Context, roomID string, identity domain.Identity, inbound inboundMessage) (outboundMessage[any], bool) {
	participantID := identity.Key()
	switch inbound.Type {
	case "answer":
		var payload domain.AnswerSubmission
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid answer payload"}}, true
		}
		ack, err := h.service.SubmitAnswer(ctx, roomID, participantID, payload)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage[any]{Type: "ack", Payload: ack}, true
	case "state":
		state, err := h.service.ParticipantState(ctx, roomID, participantID)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage[any]{Type: "state", Payload: state}, true
	case "start", "next", "finish":
		if err := h.requireHost(roomID, identity); err != nil {
			return errorMessage(err), true
		}
		if err := control(ctx, h.service, roomID, inbound.Type); err != nil {
			return errorMessage(err), true
		}
		// the resulting events reach every subscriber, this one included
		return outboundMessage[any]{}, false
	}
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "unsupported message type"}}, true
}

func (h *WSHandler) requireHost(roomID string, identity domain.Identity) error {
	host, err := h.service.RoomHost(roomID)
	if err != nil {
		return err
	}
	if host != "" && host != identity.PlayerID {
		return errNotHost
	}
	return nil
}

// control runs a host command.
func control(ctx context.Context, service *app.GameService, roomID, command string) error {
	switch command {
	case "start":
		_, err := service.StartGame(ctx, roomID)
		return err
	case "next":
		return service.Next(ctx, roomID)
	case "finish":
		return service.FinalizeGame(ctx, roomID)
	}
	return domain.ErrInvalidState
}
