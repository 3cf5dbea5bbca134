package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"babblefish/internal/langreg"
	"babblefish/internal/opusdec"
)

// transcriber wraps a single StartStreamTranscription call as a one-shot,
// blocking operation: the whole utterance's PCM is pushed, then the first
// final result (or the stream's close) is awaited. The teacher keeps a
// long-lived TranscribeStream per connection and drains partials as they
// arrive; the spec's transcribe_and_translate contract is instead called
// once per finalized utterance, so this collapses the teacher's send/
// receive goroutine pair into a single request-response round trip over
// the same streaming API.
type transcriber struct {
	client *transcribestreaming.Client
	langs  *langreg.Registry
}

func newTranscriber(client *transcribestreaming.Client, langs *langreg.Registry) *transcriber {
	return &transcriber{client: client, langs: langs}
}

// transcribeResult is the ASR half of §4.3's algorithm step 1: a text
// plus whatever source language AWS identified for it.
type transcribeResult struct {
	text          string
	detectedShort string // "" if AWS reported no usable language identification
}

// transcribe sends pcm (mono float32 @ opusdec.SampleRate) as a single
// burst to a fresh StartStreamTranscription call running multi-language
// identification over every language the registry knows, and returns the
// first final transcript AWS reports along with AWS's identified
// language. The caller (Pipeline) applies the declared-language fallback
// from spec step 1; this method only reports what AWS said.
func (t *transcriber) transcribe(ctx context.Context, pcm []float32) (transcribeResult, error) {
	options := strings.Join(t.langs.TranscribeCodes(), ",")

	resp, err := t.client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		IdentifyLanguage:     aws.Bool(true),
		LanguageOptions:      aws.String(options),
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(opusdec.SampleRate),
	})
	if err != nil {
		return transcribeResult{}, fmt.Errorf("start transcription: %w", err)
	}

	stream := resp.GetStream()
	if stream == nil {
		return transcribeResult{}, fmt.Errorf("transcribe stream is nil")
	}
	defer stream.Close()

	pcmBytes := floatsToPCM16(pcm)

	sendErr := make(chan error, 2)
	go func() {
		defer func() {
			sendErr <- stream.Send(ctx, &types.AudioStreamMemberAudioEvent{
				Value: types.AudioEvent{AudioChunk: nil},
			})
		}()
		if len(pcmBytes) == 0 {
			return
		}
		sendErr <- stream.Send(ctx, &types.AudioStreamMemberAudioEvent{
			Value: types.AudioEvent{AudioChunk: pcmBytes},
		})
	}()

	for event := range stream.Events() {
		e, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || e.Value.Transcript == nil {
			continue
		}
		for _, result := range e.Value.Transcript.Results {
			if result.IsPartial || len(result.Alternatives) == 0 {
				continue
			}
			text := aws.ToString(result.Alternatives[0].Transcript)
			if text == "" {
				continue
			}
			detected := ""
			if short, ok := t.langs.ShortForTranscribeCode(string(result.LanguageCode)); ok {
				detected = short
			}
			return transcribeResult{text: text, detectedShort: detected}, drainSendErr(sendErr, stream.Err())
		}
	}

	if err := stream.Err(); err != nil {
		return transcribeResult{}, fmt.Errorf("transcribe stream: %w", err)
	}
	return transcribeResult{}, drainSendErr(sendErr, nil)
}

func drainSendErr(sendErr chan error, streamErr error) error {
	if streamErr != nil {
		return streamErr
	}
	select {
	case err := <-sendErr:
		return err
	default:
		return nil
	}
}

// floatsToPCM16 converts mono float32 samples in [-1,1] to little-endian
// signed 16-bit PCM, the wire format StartStreamTranscriptionInput expects
// for MediaEncodingPcm.
func floatsToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
