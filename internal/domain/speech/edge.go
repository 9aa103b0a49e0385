// Package speech synthesizes spoken answers for the wearable.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/platform/config"
)

const DefaultVoice = "en-US-AriaNeural"

type synthesizeFunc func(voice, text string) ([]byte, error)

// EdgeProvider synthesizes mp3 speech through the Edge read-aloud service.
type EdgeProvider struct {
	name       string
	voice      string
	synthesize synthesizeFunc
}

func NewEdge(name string, cfg config.SpeechConfig) *EdgeProvider {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	return &EdgeProvider{name: name, voice: voice, synthesize: edgeSynthesize}
}

func (p *EdgeProvider) Name() string { return p.name }
func (p *EdgeProvider) Close() error { return nil }

func (p *EdgeProvider) Synthesize(ctx context.Context, text string) (providers.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return providers.Audio{}, errors.New("nothing to synthesize")
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := p.synthesize(p.voice, text)
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return providers.Audio{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return providers.Audio{}, fmt.Errorf("edge tts synthesis failed: %w", r.err)
		}
		if len(r.data) == 0 {
			return providers.Audio{}, errors.New("edge tts returned no audio")
		}
		return providers.Audio{Data: r.data, Format: "mp3", Duration: MP3Duration(r.data)}, nil
	}
}

func edgeSynthesize(voice, text string) ([]byte, error) {
	communicate, err := edge_tts.New(voice)
	if err != nil {
		return nil, fmt.Errorf("failed to create Edge TTS communicator: %w", err)
	}
	defer communicate.Close()
	return communicate.Output(text)
}

// MP3Duration decodes data and returns its playback length, or zero when
// the stream cannot be decoded.
func MP3Duration(data []byte) time.Duration {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil || dec.SampleRate() <= 0 {
		return 0
	}
	length := dec.Length()
	if length <= 0 {
		return 0
	}
	// go-mp3 always decodes to 16-bit stereo: 4 bytes per frame.
	frames := length / 4
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate())
}

// Register adds the "edge" speech factory.
func Register(reg *providers.Registry) error {
	return reg.RegisterSpeech("edge", func(name string, cfg config.SpeechConfig) (providers.SpeechProvider, error) {
		return NewEdge(name, cfg), nil
	})
}
