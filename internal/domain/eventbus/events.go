package eventbus

import "time"

// Topics published by the session.
const (
	EventPhotoReceived  = "photo:received"
	EventPhotoDescribed = "photo:described"
	EventPhotoRejected  = "photo:rejected"

	EventCaptureRequested = "capture:requested"
	EventCaptureRejected  = "capture:rejected"

	EventAnswerStarted = "answer:started"
	EventAnswerReady   = "answer:ready"

	EventSpeechFailed = "speech:failed"

	EventSessionCleared = "session:cleared"

	EventDeviceConnected    = "device:connected"
	EventDeviceDisconnected = "device:disconnected"
)

// Topics lists every topic, in the order above.
var Topics = []string{
	EventPhotoReceived,
	EventPhotoDescribed,
	EventPhotoRejected,
	EventCaptureRequested,
	EventCaptureRejected,
	EventAnswerStarted,
	EventAnswerReady,
	EventSpeechFailed,
	EventSessionCleared,
	EventDeviceConnected,
	EventDeviceDisconnected,
}

type PhotoEventData struct {
	PhotoID     uint64    `json:"photo_id"`
	Size        int       `json:"size"`
	Description string    `json:"description,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

type CaptureEventData struct {
	DeviceID string `json:"device_id"`
	Reason   string `json:"reason,omitempty"`
}

type AnswerEventData struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

type DeviceEventData struct {
	DeviceID  string `json:"device_id"`
	Transport string `json:"transport"`
}

type SessionEventData struct {
	Generation uint64 `json:"generation"`
}

type ErrorEventData struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}
