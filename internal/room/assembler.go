package room

import (
	"babblefish/internal/opusdec"
)

// maxConsecutiveDecodeErrors is the threshold past which a run of
// DecodeErrors aborts the current utterance (§4.2).
const maxConsecutiveDecodeErrors = 5

// utteranceAssembler buffers one participant's decoded PCM between
// utterance boundaries. It owns the participant's Opus decoder session
// state, since Opus decoding carries frame history that must survive
// across packets of the same utterance and be reset at each boundary.
type utteranceAssembler struct {
	decoder *opusdec.State

	pcm               []float32
	hardCapSamples    int
	truncated         bool // one-shot diagnostic, set once per utterance (B3)
	consecutiveErrors int
}

func newUtteranceAssembler(hardCapSeconds int) (*utteranceAssembler, error) {
	dec, err := opusdec.NewState()
	if err != nil {
		return nil, err
	}
	return &utteranceAssembler{
		decoder:        dec,
		hardCapSamples: hardCapSeconds * opusdec.SampleRate,
	}, nil
}

// audioOutcome describes what handle_audio should do next.
type audioOutcome int

const (
	audioAppended audioOutcome = iota
	audioPacketDropped
	audioCorruptedStream // consecutive-error threshold exceeded; utterance aborted
)

// appendPacket decodes one base64 Opus packet and appends it to the
// buffer, applying the hard-cap discard-oldest policy and the
// consecutive-DecodeError abort policy from §4.2/B3.
func (a *utteranceAssembler) appendPacket(payload string) audioOutcome {
	samples, err := a.decoder.DecodeBase64(payload)
	if err != nil {
		a.consecutiveErrors++
		if a.consecutiveErrors > maxConsecutiveDecodeErrors {
			a.reset()
			return audioCorruptedStream
		}
		return audioPacketDropped
	}
	a.consecutiveErrors = 0

	a.pcm = append(a.pcm, samples...)
	if a.hardCapSamples > 0 && len(a.pcm) > a.hardCapSamples {
		excess := len(a.pcm) - a.hardCapSamples
		a.pcm = a.pcm[excess:]
		a.truncated = true
	}
	return audioAppended
}

// empty reports whether any PCM has been buffered for the in-progress
// utterance.
func (a *utteranceAssembler) empty() bool {
	return len(a.pcm) == 0
}

// finalize snapshots the buffered PCM and resets assembler state for the
// next utterance, resetting the Opus decoder's frame history as §4.2
// requires at utterance_end.
func (a *utteranceAssembler) finalize() (pcm []float32, wasTruncated bool) {
	pcm = a.pcm
	wasTruncated = a.truncated
	a.reset()
	return pcm, wasTruncated
}

// reset clears the buffer and resets decoder frame history without
// finalizing, used both after a normal finalize and after a
// CorruptedStream abort.
func (a *utteranceAssembler) reset() {
	a.pcm = nil
	a.truncated = false
	a.consecutiveErrors = 0
	_ = a.decoder.Reset()
}
