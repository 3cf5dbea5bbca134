// Package transport implements the Room Manager / Transport Front-End
// of §4.5: WebSocket connection lifecycle, message validation, and
// routing of inbound frames to the owning Room.
package transport

import (
	"encoding/json"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"babblefish/internal/langreg"
	"babblefish/internal/room"
	"babblefish/internal/wire"
)

var roomIDPattern = regexp.MustCompile(`^[A-Z2-9]{6}$`)

const maxNameLength = 64

// Config carries the transport-scoped settings from the application
// config.
type Config struct {
	IdleConnectionTimeout time.Duration
}

// Deps are the collaborators a connection needs to join rooms and
// validate languages.
type Deps struct {
	Manager *room.Manager
	Langs   *langreg.Registry
	Config  Config
}

// HandleConnection is the gofiber/contrib/websocket handler for
// /ws/client. One call runs for the lifetime of one WebSocket.
func HandleConnection(c *websocket.Conn, deps Deps) {
	connID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[transport %s] panic recovered: %v", connID, r)
		}
	}()

	var writeMu sync.Mutex
	var participant *room.Participant
	var rm *room.Room
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	close(writerDone) // no writer pump until a join succeeds

	writeDirect := func(v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.WriteMessage(websocket.TextMessage, b)
	}

	defer func() {
		close(stop)
		if participant != nil {
			rm.Leave(participant.ID)
		}
		<-writerDone
		_ = c.Close()
		log.Printf("[transport %s] connection closed", connID)
	}()

	idleTimeout := deps.Config.IdleConnectionTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}

	for {
		_ = c.SetReadDeadline(time.Now().Add(idleTimeout))
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = writeDirect(wire.NewError(wire.CodeInvalidMessage, "malformed frame"))
			continue
		}

		if participant == nil {
			rm, participant = handlePreJoin(c, deps, connID, env.Type, data, writeDirect, &writeMu, stop, &writerDone)
			continue
		}

		handlePostJoin(rm, participant, env.Type, data, writeDirect)
	}
}

// handlePreJoin processes the one message type accepted before
// admission: join. Any other discriminator yields INVALID_MESSAGE and
// the connection remains open, per §4.5.
func handlePreJoin(
	c *websocket.Conn,
	deps Deps,
	connID string,
	msgType string,
	raw []byte,
	writeDirect func(interface{}) error,
	writeMu *sync.Mutex,
	stop <-chan struct{},
	writerDone *chan struct{},
) (*room.Room, *room.Participant) {
	if msgType != wire.TypeJoin {
		_ = writeDirect(wire.NewError(wire.CodeInvalidMessage, "must join before sending "+msgType))
		return nil, nil
	}

	var join wire.JoinMessage
	if err := json.Unmarshal(raw, &join); err != nil {
		_ = writeDirect(wire.NewError(wire.CodeInvalidMessage, "malformed join"))
		return nil, nil
	}

	if !roomIDPattern.MatchString(join.RoomID) {
		_ = writeDirect(wire.NewError(wire.CodeInvalidMessage, "room_id must match [A-Z2-9]{6}"))
		return nil, nil
	}
	if join.Name == "" || len(join.Name) > maxNameLength {
		_ = writeDirect(wire.NewError(wire.CodeInvalidMessage, "name must be non-empty and bounded"))
		return nil, nil
	}
	if !deps.Langs.IsSupported(join.Language) {
		_ = writeDirect(wire.NewError(wire.CodeUnsupportedLanguage, "unsupported language: "+join.Language))
		return nil, nil
	}

	rm, err := deps.Manager.GetOrCreate(join.RoomID)
	if err != nil {
		_ = writeDirect(wire.NewError(wire.CodeRoomFull, "no room capacity available"))
		return nil, nil
	}

	result, err := rm.Join(join.Name, join.Language)
	if err != nil {
		_ = writeDirect(wire.NewError(wire.CodeRoomFull, "room is full"))
		return nil, nil
	}

	others := make([]wire.ParticipantInfo, len(result.OtherMembers))
	for i, m := range result.OtherMembers {
		others[i] = wire.ParticipantInfo(m)
	}

	if err := writeDirect(&wire.JoinedMessage{
		Type:          wire.TypeJoined,
		RoomID:        join.RoomID,
		ParticipantID: result.Participant.ID,
		Participants:  others,
	}); err != nil {
		rm.Leave(result.Participant.ID)
		return nil, nil
	}

	done := make(chan struct{})
	*writerDone = done
	wait, drain := result.Participant.Outbox()
	go runWriter(c, writeMu, wait, drain, result.Participant.Disconnected(), stop, done)

	log.Printf("[transport %s] joined room=%s participant=%s", connID, join.RoomID, result.Participant.ID)
	return rm, result.Participant
}

// handlePostJoin dispatches every message type valid after admission.
func handlePostJoin(rm *room.Room, p *room.Participant, msgType string, raw []byte, writeDirect func(interface{}) error) {
	switch msgType {
	case wire.TypeJoin:
		_ = writeDirect(wire.NewError(wire.CodeInvalidMessage, "already joined"))

	case wire.TypeAudio:
		var msg wire.AudioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = writeDirect(wire.NewError(wire.CodeInvalidMessage, "malformed audio"))
			return
		}
		rm.HandleAudio(p.ID, msg.Data)

	case wire.TypeUtteranceEnd:
		rm.HandleUtteranceEnd(p.ID)

	case wire.TypeLeave:
		rm.Leave(p.ID)

	case wire.TypePing:
		_ = writeDirect(&wire.PongMessage{Type: wire.TypePong})

	default:
		_ = writeDirect(wire.NewError(wire.CodeInvalidMessage, "unknown message type: "+msgType))
	}
}

// runWriter pumps one participant's send queue to its WebSocket,
// stopping when the connection's read loop signals stop or the Room
// force-disconnects this participant because a critical message could
// not be delivered. On a force-disconnect it also closes the socket, which
// ends the read loop and with it the participant's membership.
func runWriter(c *websocket.Conn, writeMu *sync.Mutex, wait <-chan struct{}, drain func() []room.Outbound, disconnected <-chan struct{}, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	flush := func() bool {
		for _, item := range drain() {
			b, err := json.Marshal(item.Msg)
			if err != nil {
				log.Printf("marshal outbound message: %v", err)
				continue
			}
			writeMu.Lock()
			err = c.WriteMessage(websocket.TextMessage, b)
			writeMu.Unlock()
			if err != nil {
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-wait:
			if !flush() {
				return
			}
		case <-disconnected:
			flush()
			_ = c.Close()
			return
		case <-stop:
			return
		}
	}
}
