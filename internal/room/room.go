// Package room implements the single-writer Room actor from §4.4: one
// goroutine owns all membership, assembler, and broadcast state for a
// conversation, reachable only through its inbox channel.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"babblefish/internal/pipeline"
	"babblefish/internal/wire"
)

// ErrRoomFull is returned by Join when the room is already at
// max_participants_per_room.
var ErrRoomFull = errors.New("room is full")

// Pipeline is the subset of *pipeline.Pipeline the Room calls through;
// an interface so tests can substitute a fake without touching AWS.
type Pipeline interface {
	TranscribeAndTranslate(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error)
}

// Config carries the room-scoped limits from the application config.
type Config struct {
	MaxParticipants         int
	UtteranceHardCapSeconds int
	SendQueueCapacity       int
	RoomTimeout             time.Duration
}

// JoinResult is returned to the transport layer after a join attempt.
type JoinResult struct {
	Participant  *Participant
	OtherMembers []ParticipantInfo
}

// Room is a single conversation's state machine. All mutation happens on
// the goroutine started by Run; every other method only enqueues a
// command and waits for its reply.
type Room struct {
	ID string

	cfg      Config
	pipeline Pipeline

	inbox chan interface{}

	onEmpty func(roomID string) // invoked once the idle grace period elapses with no members

	// closed signals Run has returned; used so Manager operations after
	// teardown don't block forever on a dead room's inbox.
	closed chan struct{}
}

// New constructs a Room. Call Run in its own goroutine to activate it.
func New(id string, cfg Config, p Pipeline, onEmpty func(string)) *Room {
	return &Room{
		ID:       id,
		cfg:      cfg,
		pipeline: p,
		inbox:    make(chan interface{}, 256),
		onEmpty:  onEmpty,
		closed:   make(chan struct{}),
	}
}

// --- commands ---

type cmdJoin struct {
	name, language string
	reply          chan joinReply
}

type joinReply struct {
	result *JoinResult
	err    error
}

type cmdAudio struct {
	participantID string
	payload       string
}

type cmdUtteranceEnd struct {
	participantID string
}

type cmdLeave struct {
	participantID string
}

type cmdPipelineDone struct {
	participantID string
	result        *pipeline.Result
	err           error
}

type cmdShutdown struct{}

type cmdQueryEmpty struct {
	reply chan bool
}

// --- public, transport-facing API: each enqueues a command onto the
// single-writer loop and, where a reply is meaningful, waits for it ---

func (r *Room) Join(name, language string) (*JoinResult, error) {
	reply := make(chan joinReply, 1)
	select {
	case r.inbox <- cmdJoin{name: name, language: language, reply: reply}:
	case <-r.closed:
		return nil, fmt.Errorf("room %s is shut down", r.ID)
	}
	rep := <-reply
	return rep.result, rep.err
}

func (r *Room) HandleAudio(participantID, payload string) {
	select {
	case r.inbox <- cmdAudio{participantID: participantID, payload: payload}:
	case <-r.closed:
	}
}

func (r *Room) HandleUtteranceEnd(participantID string) {
	select {
	case r.inbox <- cmdUtteranceEnd{participantID: participantID}:
	case <-r.closed:
	}
}

func (r *Room) Leave(participantID string) {
	select {
	case r.inbox <- cmdLeave{participantID: participantID}:
	case <-r.closed:
	}
}

// Shutdown tears the room down immediately (Manager eviction path).
func (r *Room) Shutdown() {
	select {
	case r.inbox <- cmdShutdown{}:
	case <-r.closed:
	}
}

// Done reports when this room's Run loop has exited.
func (r *Room) Done() <-chan struct{} {
	return r.closed
}

// IsEmpty synchronously asks the Room task whether it currently has zero
// participants, used by the Manager's idle-eviction policy.
func (r *Room) IsEmpty() bool {
	reply := make(chan bool, 1)
	select {
	case r.inbox <- cmdQueryEmpty{reply: reply}:
	case <-r.closed:
		return true
	}
	select {
	case empty := <-reply:
		return empty
	case <-r.closed:
		return true
	}
}

// --- the single-writer loop ---

// Run owns every mutation of participants, assemblers, and broadcasts.
// It must be started in its own goroutine and runs until Shutdown is
// called or the idle grace period elapses with no participants.
func (r *Room) Run(ctx context.Context) {
	defer close(r.closed)

	participants := make(map[string]*Participant)
	var nextNum int

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	armIdleTimer := func() {
		if idleTimer != nil {
			idleTimer.Stop()
		}
		if len(participants) == 0 && r.cfg.RoomTimeout > 0 {
			idleTimer = time.NewTimer(r.cfg.RoomTimeout)
			idleC = idleTimer.C
		} else {
			idleC = nil
		}
	}
	armIdleTimer()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	broadcast := func(critical bool, msg interface{}, exclude string) {
		for id, p := range participants {
			if id == exclude {
				continue
			}
			p.enqueue(critical, msg)
		}
	}

	snapshotTargets := func() []string {
		seen := make(map[string]bool, len(participants))
		out := make([]string, 0, len(participants))
		for _, p := range participants {
			if !seen[p.Language] {
				seen[p.Language] = true
				out = append(out, p.Language)
			}
		}
		return out
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-idleC:
			if len(participants) == 0 {
				if r.onEmpty != nil {
					r.onEmpty(r.ID)
				}
				return
			}

		case raw := <-r.inbox:
			switch cmd := raw.(type) {

			case cmdJoin:
				if len(participants) >= r.cfg.MaxParticipants {
					cmd.reply <- joinReply{err: ErrRoomFull}
					continue
				}
				nextNum++
				id := fmt.Sprintf("P_%02d", nextNum)
				p, err := newParticipant(id, cmd.name, cmd.language, r.cfg.SendQueueCapacity, r.cfg.UtteranceHardCapSeconds)
				if err != nil {
					cmd.reply <- joinReply{err: err}
					continue
				}

				others := make([]ParticipantInfo, 0, len(participants))
				for _, existing := range participants {
					others = append(others, existing.Info())
				}

				participants[id] = p
				armIdleTimer()

				broadcast(true, &wire.ParticipantJoinedMessage{
					Type:        wire.TypeParticipantJoined,
					Participant: wire.ParticipantInfo(p.Info()),
				}, id)

				cmd.reply <- joinReply{result: &JoinResult{Participant: p, OtherMembers: others}}

			case cmdAudio:
				p, ok := participants[cmd.participantID]
				if !ok {
					continue
				}
				outcome := p.assembler.appendPacket(cmd.payload)
				if outcome == audioAppended {
					if p.state != stateProcessing {
						p.state = stateSpeaking
					}
					continue
				}
				if outcome == audioCorruptedStream {
					if p.state != stateProcessing {
						p.state = stateIdle
					}
					p.enqueue(true, wire.NewError(wire.CodePipelineError, "CorruptedStream"))
				}
				// audioPacketDropped: silently dropped per §4.2, counted only internally.

			case cmdUtteranceEnd:
				p, ok := participants[cmd.participantID]
				if !ok || p.state != stateSpeaking || p.assembler.empty() {
					continue // silent no-op per §4.4 preconditions
				}

				pcm, truncated := p.assembler.finalize()
				if truncated {
					p.enqueue(true, wire.NewError(wire.CodePipelineError, "utterance truncated to configured hard cap"))
				}

				p.state = stateProcessing
				targets := snapshotTargets()
				declaredLang := p.Language
				speakerID := cmd.participantID

				go func() {
					result, err := r.pipeline.TranscribeAndTranslate(runCtx, pcm, targets, declaredLang)
					select {
					case r.inbox <- cmdPipelineDone{participantID: speakerID, result: result, err: err}:
					case <-r.closed:
					}
				}()

			case cmdPipelineDone:
				p, ok := participants[cmd.participantID]
				if !ok {
					continue // speaker left while the job was in flight; discard per §4.4 remove()
				}
				p.state = stateIdle

				if cmd.err != nil {
					p.enqueue(true, wire.NewError(wire.CodePipelineError, cmd.err.Error()))
					continue
				}
				if cmd.result.SourceText == "" {
					continue // B2-equivalent: nothing transcribed, no broadcast
				}

				msg := &wire.TranslationMessage{
					Type:         wire.TypeTranslation,
					SpeakerID:    p.ID,
					SpeakerName:  p.Name,
					SourceLang:   cmd.result.SourceLang,
					SourceText:   cmd.result.SourceText,
					Translations: cmd.result.Translations,
					Timestamp:    time.Now().Unix(),
				}
				broadcast(false, msg, p.ID)

			case cmdLeave:
				p, ok := participants[cmd.participantID]
				if !ok {
					continue // L2: second leave is a no-op
				}
				delete(participants, cmd.participantID)
				p.queue.close()
				armIdleTimer()

				broadcast(true, &wire.ParticipantLeftMessage{
					Type:          wire.TypeParticipantLeft,
					ParticipantID: p.ID,
				}, "")

			case cmdQueryEmpty:
				cmd.reply <- len(participants) == 0

			case cmdShutdown:
				for _, p := range participants {
					p.queue.close()
				}
				return
			}
		}
	}
}
