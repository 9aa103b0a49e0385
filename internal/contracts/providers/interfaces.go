package providers

import (
	"context"
	"time"
)

// BaseProvider 所有提供者的公共接口
type BaseProvider interface {
	// Name returns the configured provider name.
	Name() string
	Close() error
}

// ImageInput is an encoded photo handed to a vision model.
type ImageInput struct {
	// Data is the raw encoded image.
	Data []byte
	// Format is the detected format, e.g. "jpeg".
	Format string
	// Base64 is the standard base64 encoding of Data.
	Base64 string
}

// VisionProvider 图像描述提供者
type VisionProvider interface {
	BaseProvider
	Describe(ctx context.Context, img ImageInput) (string, error)
	Model() string
}

// ReasoningProvider answers a question against textual context.
type ReasoningProvider interface {
	BaseProvider
	Answer(ctx context.Context, question, contextText string) (string, error)
}

// Audio is synthesized speech.
type Audio struct {
	Data     []byte
	Format   string
	Duration time.Duration
}

// SpeechProvider 语音合成提供者
type SpeechProvider interface {
	BaseProvider
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// AudioSink receives control and audio destined for the wearable.
type AudioSink interface {
	// StartListening asks the device to open its microphone.
	StartListening(ctx context.Context) error
	// PlayAudio streams synthesized speech to the device.
	PlayAudio(ctx context.Context, audio Audio) error
}
