package ws

import (
	"github.com/bytedance/sonic"

	"glass-server-go/internal/domain/agent"
)

// Frame types exchanged as JSON text messages.
const (
	FrameHello   = "hello"
	FrameListen  = "listen"
	FrameTTS     = "tts"
	FrameAsk     = "ask"
	FrameAnswer  = "answer"
	FrameCapture = "capture"
	FrameClear   = "clear"
	FrameState   = "state"
	FrameError   = "error"
)

// audioChunkSize bounds binary audio frames sent to the device.
const audioChunkSize = 4096

// Frame is the JSON envelope of text messages in both directions.
type Frame struct {
	Type       string       `json:"type"`
	State      string       `json:"state,omitempty"`
	Text       string       `json:"text,omitempty"`
	SessionID  string       `json:"session_id,omitempty"`
	Format     string       `json:"format,omitempty"`
	DurationMS int64        `json:"duration_ms,omitempty"`
	Accepted   *bool        `json:"accepted,omitempty"`
	Error      string       `json:"error,omitempty"`
	Snapshot   *agent.State `json:"snapshot,omitempty"`
}

func parseFrame(data []byte) (Frame, error) {
	var f Frame
	err := sonic.Unmarshal(data, &f)
	return f, err
}

func boolPtr(b bool) *bool { return &b }
