package eventbus

import (
	"context"

	"glass-server-go/internal/platform/logging"
	"glass-server-go/internal/platform/observability"
)

// LogHandler writes every event to the log and counts it.
type LogHandler struct {
	logger *logging.Logger
}

func NewLogHandler(logger *logging.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// Handle logs one event.
func (h *LogHandler) Handle(topic string, data any) {
	observability.RecordMetric(context.Background(), "events_total", 1, map[string]string{"topic": topic})
	switch d := data.(type) {
	case PhotoEventData:
		if d.Reason != "" {
			h.logger.WarnTag("Event", "%s photo=%d size=%d reason=%s", topic, d.PhotoID, d.Size, d.Reason)
			return
		}
		h.logger.InfoTag("Event", "%s photo=%d size=%d", topic, d.PhotoID, d.Size)
	case CaptureEventData:
		h.logger.InfoTag("Event", "%s device=%s %s", topic, d.DeviceID, d.Reason)
	case AnswerEventData:
		h.logger.InfoTag("Event", "%s question=%q fallback=%v", topic, d.Question, d.Fallback)
	case DeviceEventData:
		h.logger.InfoTag("Event", "%s device=%s transport=%s", topic, d.DeviceID, d.Transport)
	case SessionEventData:
		h.logger.InfoTag("Event", "%s generation=%d", topic, d.Generation)
	case ErrorEventData:
		h.logger.WarnTag("Event", "%s op=%s: %s", topic, d.Op, d.Message)
	default:
		h.logger.DebugTag("Event", "%s %v", topic, data)
	}
}

// SetupEventHandlers subscribes h to every topic on the async bus.
func SetupEventHandlers(bus *Bus, h *LogHandler) error {
	for _, topic := range Topics {
		topic := topic
		if err := bus.SubscribeAsync(topic, func(data any) {
			h.Handle(topic, data)
		}); err != nil {
			return err
		}
	}
	return nil
}
