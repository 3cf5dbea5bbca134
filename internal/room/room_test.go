package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"babblefish/internal/pipeline"
	"babblefish/internal/wire"
)

type fakePipeline struct {
	fn func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error)
}

func (f *fakePipeline) TranscribeAndTranslate(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
	return f.fn(ctx, pcm, targets, declaredLang)
}

func testConfig() Config {
	return Config{
		MaxParticipants:         10,
		UtteranceHardCapSeconds: 30,
		SendQueueCapacity:       8,
		RoomTimeout:             time.Hour,
	}
}

func waitForMessages(t *testing.T, p *Participant, timeout time.Duration) []Outbound {
	t.Helper()
	wait, drain := p.Outbox()
	deadline := time.After(timeout)
	for {
		select {
		case <-wait:
			items := drain()
			if len(items) > 0 {
				return items
			}
		case <-deadline:
			t.Fatal("timed out waiting for a message")
			return nil
		}
	}
}

func startRoom(t *testing.T, cfg Config, p Pipeline) (*Room, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := New("TESTRM", cfg, p, func(string) {})
	go r.Run(ctx)
	return r, cancel
}

// S1 — two-party join, speaker's utterance broadcasts to the other.
func TestScenarioTwoPartyTranslation(t *testing.T) {
	fp := &fakePipeline{fn: func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
		return &pipeline.Result{
			SourceLang: "en",
			SourceText: "Hello everyone",
			Translations: map[string]string{
				"en": "Hello everyone",
				"es": "Hola a todos",
			},
		}, nil
	}}
	r, cancel := startRoom(t, testConfig(), fp)
	defer cancel()

	aliceRes, err := r.Join("Alice", "en")
	require.NoError(t, err)
	bobRes, err := r.Join("Bob", "es")
	require.NoError(t, err)

	alice := aliceRes.Participant
	bob := bobRes.Participant

	// Alice should have received a participant_joined for Bob.
	msgs := waitForMessages(t, alice, time.Second)
	require.Len(t, msgs, 1)
	pj, ok := msgs[0].Msg.(*wire.ParticipantJoinedMessage)
	require.True(t, ok)
	assert.Equal(t, bob.ID, pj.Participant.ID)

	r.HandleAudio(bob.ID, encodeTestPacket())
	r.HandleUtteranceEnd(bob.ID)

	aliceMsgs := waitForMessages(t, alice, time.Second)
	require.Len(t, aliceMsgs, 1)
	translation, ok := aliceMsgs[0].Msg.(*wire.TranslationMessage)
	require.True(t, ok)
	assert.Equal(t, bob.ID, translation.SpeakerID)
	assert.Equal(t, "Hello everyone", translation.SourceText)
	assert.Equal(t, "Hola a todos", translation.Translations["es"])

	// P4: the speaker never receives its own broadcast.
	bobWait, _ := bob.Outbox()
	select {
	case <-bobWait:
		t.Fatal("speaker must not receive its own translation broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

// S3 — partial translation failure: a missing target key is tolerated.
func TestScenarioPartialTranslationFailure(t *testing.T) {
	fp := &fakePipeline{fn: func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
		return &pipeline.Result{
			SourceLang:   "en",
			SourceText:   "hi",
			Translations: map[string]string{"en": "hi", "es": "hola"}, // ja missing
		}, nil
	}}
	r, cancel := startRoom(t, testConfig(), fp)
	defer cancel()

	enRes, _ := r.Join("Speaker", "en")
	esRes, _ := r.Join("Listener1", "es")
	jaRes, err := r.Join("Listener2", "ja")
	require.NoError(t, err)

	waitForMessages(t, enRes.Participant, time.Second)
	waitForMessages(t, esRes.Participant, time.Second)

	r.HandleAudio(enRes.Participant.ID, encodeTestPacket())
	r.HandleUtteranceEnd(enRes.Participant.ID)

	jaMsgs := waitForMessages(t, jaRes.Participant, time.Second)
	translation := jaMsgs[0].Msg.(*wire.TranslationMessage)
	_, hasJa := translation.Translations["ja"]
	assert.False(t, hasJa, "missing target translation must simply be absent, not faked")
	assert.Equal(t, "hi", translation.Translations["en"])
}

// S4 / B1 — capacity rejection leaves membership unchanged.
func TestScenarioCapacityRejection(t *testing.T) {
	fp := &fakePipeline{fn: func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
		return &pipeline.Result{}, nil
	}}
	cfg := testConfig()
	cfg.MaxParticipants = 2
	r, cancel := startRoom(t, cfg, fp)
	defer cancel()

	_, err := r.Join("Alice", "en")
	require.NoError(t, err)
	_, err = r.Join("Bob", "es")
	require.NoError(t, err)

	_, err = r.Join("Carol", "fr")
	require.ErrorIs(t, err, ErrRoomFull)

	assert.False(t, r.IsEmpty(), "room membership must be unchanged after a rejected join")
}

// B2 — utterance_end on an empty assembler is a silent no-op.
func TestUtteranceEndOnEmptyAssemblerIsNoop(t *testing.T) {
	called := false
	fp := &fakePipeline{fn: func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
		called = true
		return &pipeline.Result{}, nil
	}}
	r, cancel := startRoom(t, testConfig(), fp)
	defer cancel()

	aliceRes, _ := r.Join("Alice", "en")
	_, _ = r.Join("Bob", "es")
	waitForMessages(t, aliceRes.Participant, time.Second)

	r.HandleUtteranceEnd(aliceRes.Participant.ID)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, called, "utterance_end with nothing buffered must not invoke the pipeline")
}

// L2 — sending leave twice is idempotent.
func TestLeaveTwiceIsIdempotent(t *testing.T) {
	fp := &fakePipeline{fn: func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
		return &pipeline.Result{}, nil
	}}
	r, cancel := startRoom(t, testConfig(), fp)
	defer cancel()

	aliceRes, _ := r.Join("Alice", "en")
	bobRes, _ := r.Join("Bob", "es")
	waitForMessages(t, aliceRes.Participant, time.Second)

	r.Leave(bobRes.Participant.ID)
	msgs := waitForMessages(t, aliceRes.Participant, time.Second)
	_, ok := msgs[0].Msg.(*wire.ParticipantLeftMessage)
	require.True(t, ok)

	// Second leave for the same (now absent) participant must be silent.
	r.Leave(bobRes.Participant.ID)
	aliceWait, _ := aliceRes.Participant.Outbox()
	select {
	case <-aliceWait:
		t.Fatal("a second leave must not produce a second participant_left broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

// B4 — if the only other participant leaves between utterance_end
// acceptance and the pipeline result, the broadcast succeeds to zero
// recipients without crashing and without a cross-talked participant_left.
func TestBroadcastToZeroRecipientsAfterDeparture(t *testing.T) {
	release := make(chan struct{})
	fp := &fakePipeline{fn: func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
		<-release
		return &pipeline.Result{SourceLang: "en", SourceText: "hi", Translations: map[string]string{"en": "hi"}}, nil
	}}
	r, cancel := startRoom(t, testConfig(), fp)
	defer cancel()

	speaker, _ := r.Join("Speaker", "en")
	listener, _ := r.Join("Listener", "es")
	waitForMessages(t, speaker.Participant, time.Second)

	r.HandleAudio(speaker.Participant.ID, encodeTestPacket())
	r.HandleUtteranceEnd(speaker.Participant.ID)

	r.Leave(listener.Participant.ID)
	close(release)

	// Nothing should panic; give the room loop time to process the
	// pipeline result against a room with zero remaining listeners.
	time.Sleep(100 * time.Millisecond)
}

// Discarded result: if the speaker itself leaves while its pipeline job
// is in flight, the eventual result must be discarded (no panic, no
// broadcast to a participant no longer present).
func TestPipelineResultDiscardedIfSpeakerLeftMeanwhile(t *testing.T) {
	release := make(chan struct{})
	fp := &fakePipeline{fn: func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
		<-release
		return &pipeline.Result{SourceLang: "en", SourceText: "hi", Translations: map[string]string{"en": "hi"}}, nil
	}}
	r, cancel := startRoom(t, testConfig(), fp)
	defer cancel()

	speaker, _ := r.Join("Speaker", "en")
	listener, _ := r.Join("Listener", "es")
	waitForMessages(t, speaker.Participant, time.Second)

	r.HandleAudio(speaker.Participant.ID, encodeTestPacket())
	r.HandleUtteranceEnd(speaker.Participant.ID)
	r.Leave(speaker.Participant.ID)
	close(release)

	time.Sleep(100 * time.Millisecond)
	// listener should only have the participant_left for the speaker, no translation.
	select {
	case msgs := <-pollOutbox(listener.Participant):
		for _, m := range msgs {
			if _, ok := m.Msg.(*wire.TranslationMessage); ok {
				t.Fatal("a discarded in-flight result must not still be broadcast")
			}
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func pollOutbox(p *Participant) <-chan []Outbound {
	out := make(chan []Outbound, 1)
	go func() {
		wait, drain := p.Outbox()
		select {
		case <-wait:
			out <- drain()
		case <-time.After(200 * time.Millisecond):
			out <- nil
		}
	}()
	return out
}

// Pipeline error surfaces only to the speaker, and the room doesn't crash.
func TestPipelineErrorSurfacesOnlyToSpeaker(t *testing.T) {
	fp := &fakePipeline{fn: func(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*pipeline.Result, error) {
		return nil, errors.New("asr exploded")
	}}
	r, cancel := startRoom(t, testConfig(), fp)
	defer cancel()

	speaker, _ := r.Join("Speaker", "en")
	listener, _ := r.Join("Listener", "es")
	waitForMessages(t, speaker.Participant, time.Second)

	r.HandleAudio(speaker.Participant.ID, encodeTestPacket())
	r.HandleUtteranceEnd(speaker.Participant.ID)

	msgs := waitForMessages(t, speaker.Participant, time.Second)
	errMsg, ok := msgs[0].Msg.(*wire.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, wire.CodePipelineError, errMsg.Code)

	listenerWait, _ := listener.Participant.Outbox()
	select {
	case <-listenerWait:
		t.Fatal("a pipeline error must not broadcast to other participants")
	case <-time.After(100 * time.Millisecond):
	}
}
