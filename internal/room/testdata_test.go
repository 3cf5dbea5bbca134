package room

import (
	"encoding/base64"

	"gopkg.in/hraban/opus.v2"

	"babblefish/internal/opusdec"
)

// encodeTestPacket produces one real, valid base64-encoded Opus packet
// (20ms of near-silence) so room tests exercise the actual decode path
// instead of a hand-rolled byte string.
func encodeTestPacket() string {
	enc, err := opus.NewEncoder(opusdec.SampleRate, opusdec.Channels, opus.AppVoIP)
	if err != nil {
		panic(err)
	}
	frame := make([]float32, opusdec.SampleRate/50) // 20ms
	for i := range frame {
		frame[i] = 0.001
	}
	out := make([]byte, 4000)
	n, err := enc.EncodeFloat32(frame, out)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(out[:n])
}
