package session

import (
	"context"
	"errors"

	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/domain/eventbus"
	"glass-server-go/internal/platform/logging"
	"glass-server-go/internal/util/work"
	"glass-server-go/internal/utils"
)

// speaker synthesizes answers and plays them on the device one at a time.
type speaker struct {
	speech providers.SpeechProvider
	sink   providers.AudioSink
	logger *logging.Logger
	bus    *eventbus.Bus
	queue  *work.WorkQueue[string]
}

func newSpeaker(speech providers.SpeechProvider, sink providers.AudioSink, bus *eventbus.Bus, logger *logging.Logger) *speaker {
	sp := &speaker{speech: speech, sink: sink, logger: logger, bus: bus}
	sp.queue = work.NewWorkQueue[string](1, sp.speak,
		work.WithFailureHandler[string](func(item *work.WorkItem[string], err error) {
			logger.WarnTag("Speech", "giving up on answer after %d attempt(s): %v", item.Retries, err)
			bus.Emit(eventbus.EventSpeechFailed, eventbus.ErrorEventData{Op: "speak", Message: err.Error()})
		}))
	return sp
}

// enqueue schedules text for playback; one retry covers transient TTS errors.
func (sp *speaker) enqueue(text string) {
	text = utils.SpeakableText(text)
	if text == "" {
		return
	}
	if err := sp.queue.SubmitWithRetries(text, 0, 1); err != nil {
		sp.logger.WarnTag("Speech", "speech queue rejected answer: %v", err)
	}
}

func (sp *speaker) speak(ctx context.Context, text string) error {
	audio, err := sp.speech.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if err := sp.sink.PlayAudio(ctx, audio); err != nil {
		if errors.Is(err, ErrNoDevice) {
			sp.logger.DebugTag("Speech", "no device to play answer on")
			return nil
		}
		return err
	}
	sp.logger.DebugTag("Speech", "played %d bytes (%s)", len(audio.Data), audio.Duration)
	return nil
}

func (sp *speaker) discard() int {
	return sp.queue.Discard()
}

func (sp *speaker) wait() {
	sp.queue.Wait()
}

func (sp *speaker) stats() work.Stats {
	return sp.queue.GetStats()
}

func (sp *speaker) stop() {
	sp.queue.Stop()
	_ = sp.speech.Close()
}
