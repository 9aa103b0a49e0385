// Package session wires the photo pipeline for one wearer: device links
// feed the reassembler, reassembled photos land in the store, the resync
// loop feeds new photos to the agent, and questions are answered (and
// optionally spoken) through it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/domain/agent"
	"glass-server-go/internal/domain/eventbus"
	"glass-server-go/internal/domain/image"
	"glass-server-go/internal/domain/interpret"
	"glass-server-go/internal/domain/photo"
	"glass-server-go/internal/domain/reassembly"
	"glass-server-go/internal/domain/reconcile"
	"glass-server-go/internal/platform/config"
	"glass-server-go/internal/platform/logging"
	"glass-server-go/internal/platform/observability"
	"glass-server-go/internal/util/work"
)

// Options hold the collaborators of a Session. Speech and Store are
// optional.
type Options struct {
	Config    *config.Config
	Logger    *logging.Logger
	Bus       *eventbus.Bus
	Vision    providers.VisionProvider
	Reasoning providers.ReasoningProvider
	Speech    providers.SpeechProvider
	Store     interpret.Store
}

// Stats aggregates the counters of the session components.
type Stats struct {
	Photos     int              `json:"photos"`
	Generation uint64           `json:"generation"`
	Links      int              `json:"links"`
	Reassembly reassembly.Stats `json:"reassembly"`
	Images     image.Metrics    `json:"images"`
	Cache      interpret.Stats  `json:"cache"`
	QueueDepth int              `json:"queue_depth"`
	ResyncRuns uint64           `json:"resync_runs"`
	Speech     *work.Stats      `json:"speech,omitempty"`
	CaptureOK  bool             `json:"capture_available"`
}

// Session owns the per-wearer state.
type Session struct {
	logger    *logging.Logger
	bus       *eventbus.Bus
	validator *image.Validator
	store     *photo.Store
	capturer  *photo.Capturer
	cache     *interpret.Cache
	pipeline  *agent.Pipeline
	resync    *reconcile.Reconciler
	audio     *audioRouter
	speaker   *speaker
	vision    providers.VisionProvider
	fallback  string

	linksMu sync.Mutex
	links   map[*Link]struct{}
	retired reassembly.Stats

	// feedMu guards the resync cursor and serializes feeding with Clear.
	feedMu     sync.Mutex
	processed  int
	generation uint64

	unsubscribe func()
}

func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("session: config is required")
	}
	if opts.Vision == nil || opts.Reasoning == nil {
		return nil, errors.New("session: vision and reasoning providers are required")
	}
	cfg := opts.Config
	logger := opts.Logger

	s := &Session{
		logger:    logger,
		bus:       opts.Bus,
		validator: image.NewValidator(cfg.Image, logger),
		store:     photo.NewStore(),
		capturer:  photo.NewCapturer(cfg.Capture.Cooldown, logger),
		audio:     &audioRouter{},
		vision:    opts.Vision,
		links:     make(map[*Link]struct{}),
	}
	s.cache = interpret.NewCache(opts.Vision, s.validator, opts.Store, logger)

	s.fallback = cfg.Agent.FallbackAnswer
	if s.fallback == "" {
		s.fallback = agent.DefaultFallbackAnswer
	}
	pipelineOpts := agent.Options{
		Describer:      describer{s},
		Reasoner:       opts.Reasoning,
		FallbackAnswer: s.fallback,
		Logger:         logger,
	}
	if cfg.Agent.StartListening {
		pipelineOpts.Listener = s.audio
	}
	s.pipeline = agent.NewPipeline(pipelineOpts)

	if cfg.Agent.SpeakAnswers && opts.Speech != nil {
		s.speaker = newSpeaker(opts.Speech, s.audio, opts.Bus, logger)
	}

	s.resync = reconcile.New(s.feed,
		reconcile.WithDebounce(cfg.Agent.ResyncDebounce),
		reconcile.WithLogger(logger),
	)
	s.unsubscribe = s.store.Subscribe(func(photo.Change) {
		s.resync.Invalidate()
	})
	return s, nil
}

// describer routes pipeline descriptions through the cache and announces
// them.
type describer struct{ s *Session }

func (d describer) Describe(ctx context.Context, p photo.Photo) (string, error) {
	desc, err := d.s.cache.Describe(ctx, p)
	if err != nil {
		return "", err
	}
	d.s.bus.Emit(eventbus.EventPhotoDescribed, eventbus.PhotoEventData{
		PhotoID: p.ID, Size: p.Size, Description: desc, At: time.Now(),
	})
	return desc, nil
}

// onImage receives reassembled images from every link.
func (s *Session) onImage(img reassembly.Image) {
	_, _ = s.storeImage(img)
}

func (s *Session) storeImage(img reassembly.Image) (photo.Photo, error) {
	info, err := s.validator.Validate(img.Data)
	if err != nil {
		s.logger.WarnTag("Session", "dropping reassembled image of %d bytes: %v", len(img.Data), err)
		s.bus.Emit(eventbus.EventPhotoRejected, eventbus.PhotoEventData{
			Size: len(img.Data), Reason: err.Error(), At: img.ReceivedAt,
		})
		return photo.Photo{}, err
	}
	p := s.store.Append(img.Data, img.ReceivedAt)
	observability.RecordMetric(context.Background(), "photos_received_total", 1, map[string]string{"format": info.Format})
	s.logger.InfoTag("Session", "photo %d stored (%s %dx%d, %d bytes, %d chunks)",
		p.ID, info.Format, info.Width, info.Height, p.Size, img.Chunks)
	s.bus.Emit(eventbus.EventPhotoReceived, eventbus.PhotoEventData{PhotoID: p.ID, Size: p.Size, At: p.ReceivedAt})
	return p, nil
}

// feed is the resync function: it hands photos stored since the last run to
// the pipeline. The cursor advances before AddPhoto so a failing photo is
// not fed twice.
func (s *Session) feed(ctx context.Context) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	if gen := s.store.Generation(); gen != s.generation {
		s.generation = gen
		s.processed = 0
	}
	photos, gen := s.store.Since(s.processed)
	if gen != s.generation || len(photos) == 0 {
		return nil
	}
	s.processed += len(photos)
	return s.pipeline.AddPhoto(ctx, photos)
}

// Ingest stores an already complete image, as if it had been reassembled
// from a device link. Images failing validation are rejected.
func (s *Session) Ingest(data []byte) (photo.Photo, error) {
	return s.storeImage(reassembly.Image{Data: data, ReceivedAt: time.Now()})
}

// Preview describes an image without storing it or touching the cache.
func (s *Session) Preview(ctx context.Context, data []byte) (string, error) {
	input, err := s.validator.Encode(data)
	if err != nil {
		return "", err
	}
	return s.vision.Describe(ctx, input)
}

// Ask answers question against the session's photos. accepted is false if
// another answer is still loading.
func (s *Session) Ask(ctx context.Context, question string) (answer string, accepted bool) {
	s.bus.Emit(eventbus.EventAnswerStarted, eventbus.AnswerEventData{Question: question})
	answer, accepted = s.pipeline.Answer(ctx, question)
	if !accepted || answer == "" {
		return answer, accepted
	}
	s.bus.Emit(eventbus.EventAnswerReady, eventbus.AnswerEventData{
		Question: question, Answer: answer, Fallback: answer == s.fallback,
	})
	if s.speaker != nil {
		s.speaker.enqueue(answer)
	}
	return answer, true
}

// RequestCapture asks the active device to take a photo.
func (s *Session) RequestCapture(ctx context.Context) error {
	err := s.capturer.RequestCapture(ctx)
	if err != nil {
		s.bus.Emit(eventbus.EventCaptureRejected, eventbus.CaptureEventData{Reason: err.Error()})
		return err
	}
	s.bus.Emit(eventbus.EventCaptureRequested, eventbus.CaptureEventData{DeviceID: s.activeDeviceID()})
	return nil
}

// CaptureAvailable reports whether a device can take photos right now.
func (s *Session) CaptureAvailable() bool {
	return s.capturer.Available()
}

// ClearPhotos starts a new session: photos, cached descriptions, the
// accumulated interpretations, the answer and pending speech are dropped.
func (s *Session) ClearPhotos(ctx context.Context) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	s.store.Clear()
	s.cache.Reset()
	if s.speaker != nil {
		if n := s.speaker.discard(); n > 0 {
			s.logger.DebugTag("Session", "discarded %d pending spoken answer(s)", n)
		}
	}
	if err := s.pipeline.Reset(ctx); err != nil {
		return err
	}
	s.generation = s.store.Generation()
	s.processed = 0
	s.bus.Emit(eventbus.EventSessionCleared, eventbus.SessionEventData{Generation: s.generation})
	s.logger.InfoTag("Session", "session cleared (generation %d)", s.generation)
	return nil
}

func (s *Session) Snapshot() agent.State {
	return s.pipeline.Snapshot()
}

// Subscribe registers fn for state snapshots. fn runs synchronously on the
// publishing goroutine and must not call back into the session.
func (s *Session) Subscribe(fn func(agent.State)) (unsubscribe func()) {
	return s.pipeline.Subscribe(fn)
}

func (s *Session) Photos() []photo.Photo {
	return s.store.List()
}

func (s *Session) Photo(id uint64) (photo.Photo, bool) {
	return s.store.Get(id)
}

// Describe returns the description of photo id, computing it if needed.
func (s *Session) Describe(ctx context.Context, id uint64) (string, error) {
	p, ok := s.store.Get(id)
	if !ok {
		return "", ErrPhotoNotFound
	}
	return s.cache.Describe(ctx, p)
}

// PeekDescription returns the cached description of photo id, if any.
func (s *Session) PeekDescription(id uint64) (string, bool) {
	return s.cache.Peek(id)
}

func (s *Session) Interpretations() []agent.Interpretation {
	return s.pipeline.Interpretations()
}

// ErrPhotoNotFound is returned for unknown photo IDs.
var ErrPhotoNotFound = errors.New("session: photo not found")

func (s *Session) Stats() Stats {
	st := Stats{
		Photos:     s.store.Len(),
		Generation: s.store.Generation(),
		Images:     s.validator.Metrics(),
		Cache:      s.cache.Stats(),
		QueueDepth: s.pipeline.QueueDepth(),
		ResyncRuns: s.resync.Runs(),
		CaptureOK:  s.capturer.Available(),
	}

	s.linksMu.Lock()
	st.Links = len(s.links)
	st.Reassembly = s.retired
	for l := range s.links {
		ls := l.reassembler.Stats()
		st.Reassembly.Chunks += ls.Chunks
		st.Reassembly.Images += ls.Images
		st.Reassembly.Violations += ls.Violations
		st.Reassembly.Ignored += ls.Ignored
		st.Reassembly.InProgress = st.Reassembly.InProgress || ls.InProgress
	}
	s.linksMu.Unlock()

	if s.speaker != nil {
		ss := s.speaker.stats()
		st.Speech = &ss
	}
	return st
}

// Settle waits for the resync loop and pending speech to go idle.
func (s *Session) Settle() {
	s.resync.Wait()
	if s.speaker != nil {
		s.speaker.wait()
	}
}

func (s *Session) activeDeviceID() string {
	if d := s.audio.current(); d != nil {
		return d.ID()
	}
	return ""
}

// Close stops background work. Links should be closed by their transports
// first.
func (s *Session) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.resync.Close()
	if s.speaker != nil {
		s.speaker.stop()
	}
	return nil
}
