// Package opusdec converts single Opus packets into the mono float32 PCM
// samples the ASR collaborator requires, per participant session.
package opusdec

import (
	"encoding/base64"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// SampleRate is the rate the ASR collaborator requires (16 kHz).
const SampleRate = 16000

// Channels is fixed at mono; the wire protocol never negotiates stereo.
const Channels = 1

// maxFrameSamples bounds a single Opus packet's decoded size. Opus
// packets carry at most ~120ms of audio; 16kHz*0.12 = 1920 samples. We
// size the scratch buffer generously above that so a malformed packet
// claiming a longer frame doesn't truncate silently.
const maxFrameSamples = SampleRate * 1 // 1 second, comfortably above any single packet

// DecodeError wraps a failure to decode one packet. Per §4.2 the Room's
// policy on DecodeError is to drop only that packet and keep the
// utterance alive.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("opus decode: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// State is the per-participant decoder session. Opus decoding carries
// frame history across packets (needed to handle packet loss via PLC),
// so each participant owns exactly one State for the lifetime of a
// connection. Reset on utterance_end and on reconnect.
type State struct {
	dec   *opus.Decoder
	scale []float32
}

// NewState creates a fresh decoder session.
func NewState() (*State, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("new opus decoder: %w", err)
	}
	return &State{
		dec:   dec,
		scale: make([]float32, maxFrameSamples),
	}, nil
}

// Reset discards frame history and starts a new decoder, as required
// after utterance_end and on reconnect.
func (s *State) Reset() error {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return fmt.Errorf("reset opus decoder: %w", err)
	}
	s.dec = dec
	return nil
}

// DecodeBase64 decodes one base64-encoded Opus packet into mono float32
// PCM samples at 16kHz. On failure it returns a *DecodeError; callers
// must drop only the offending packet, not the whole utterance.
func (s *State) DecodeBase64(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	return s.Decode(raw)
}

// Decode decodes one raw Opus packet into mono float32 PCM samples.
func (s *State) Decode(packet []byte) ([]float32, error) {
	if len(packet) == 0 {
		return nil, &DecodeError{Reason: "empty packet", Err: fmt.Errorf("zero-length payload")}
	}

	n, err := s.dec.DecodeFloat32(packet, s.scale)
	if err != nil {
		return nil, &DecodeError{Reason: "libopus decode failed", Err: err}
	}

	out := make([]float32, n)
	copy(out, s.scale[:n])
	return out, nil
}
