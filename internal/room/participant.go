package room

import "time"

// participantState is the state machine from §4.4.
type participantState int

const (
	stateIdle participantState = iota
	stateSpeaking
	stateProcessing
)

// Participant is a connected member of exactly one Room. Owned
// exclusively by that Room; destroyed on leave, socket close, or room
// teardown.
type Participant struct {
	ID       string
	Name     string
	Language string

	joinedAt time.Time
	state    participantState

	assembler *utteranceAssembler
	queue     *sendQueue

	// forceDisconnect is closed by the Room task when a critical message
	// could not be delivered (queue full of critical entries); the
	// transport layer watches it to tear down the socket.
	forceDisconnect chan struct{}
	disconnectOnce  bool
}

func newParticipant(id, name, language string, sendQueueCap, utteranceHardCapSeconds int) (*Participant, error) {
	asm, err := newUtteranceAssembler(utteranceHardCapSeconds)
	if err != nil {
		return nil, err
	}
	return &Participant{
		ID:              id,
		Name:            name,
		Language:        language,
		joinedAt:        time.Now(),
		state:           stateIdle,
		assembler:       asm,
		queue:           newSendQueue(sendQueueCap),
		forceDisconnect: make(chan struct{}),
	}, nil
}

// Info is the public roster shape for this participant.
func (p *Participant) Info() ParticipantInfo {
	return ParticipantInfo{ID: p.ID, Name: p.Name, Language: p.Language}
}

// ParticipantInfo is the {id, name, language} triple the wire protocol
// broadcasts in rosters and join/leave notifications.
type ParticipantInfo struct {
	ID       string
	Name     string
	Language string
}

// enqueue pushes msg to this participant's send queue, forcing a
// disconnect if a critical message cannot be delivered.
func (p *Participant) enqueue(critical bool, msg interface{}) {
	if p.queue.push(critical, msg) {
		return
	}
	if critical && !p.disconnectOnce {
		p.disconnectOnce = true
		close(p.forceDisconnect)
	}
}

// Disconnected returns the channel that closes when this participant
// must be force-disconnected by the transport layer.
func (p *Participant) Disconnected() <-chan struct{} {
	return p.forceDisconnect
}

// Outbox returns the queue wait/drain pair the WS writer task consumes.
func (p *Participant) Outbox() (wait <-chan struct{}, drain func() []Outbound) {
	return p.queue.wait(), p.queue.drain
}
