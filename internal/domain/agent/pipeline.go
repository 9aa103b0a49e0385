// Package agent serializes photo interpretation and question answering
// behind a FIFO lock and publishes the resulting state.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"glass-server-go/internal/domain/photo"
	"glass-server-go/internal/platform/errors"
	"glass-server-go/internal/platform/logging"
	"glass-server-go/internal/platform/observability"
	"glass-server-go/internal/util/observable"
)

// DefaultFallbackAnswer is shown when the reasoning model fails.
const DefaultFallbackAnswer = "Sorry, something went wrong while answering."

// Describer turns a photo into text.
type Describer interface {
	Describe(ctx context.Context, p photo.Photo) (string, error)
}

// Reasoner answers a question given the accumulated descriptions.
type Reasoner interface {
	Answer(ctx context.Context, question, contextText string) (string, error)
}

// Listener opens the device microphone.
type Listener interface {
	StartListening(ctx context.Context) error
}

// Options configure a Pipeline.
type Options struct {
	Describer Describer
	Reasoner  Reasoner
	// Listener is optional.
	Listener       Listener
	FallbackAnswer string
	Logger         *logging.Logger
}

// Pipeline owns the accumulated interpretations and the answer state.
// Listeners registered through Subscribe run synchronously on the goroutine
// that mutated the state, possibly while the FIFO lock is held. They may read
// Snapshot, Interpretations and QueueDepth; AddPhoto, Answer and Reset must be
// started on another goroutine.
type Pipeline struct {
	lock      *Lock
	describer Describer
	reasoner  Reasoner
	listener  Listener
	fallback  string
	logger    *logging.Logger
	states    *observable.Publisher[State]

	mu    sync.Mutex
	items []Interpretation
	state State

	// emitMu keeps published versions in order.
	emitMu sync.Mutex
}

func NewPipeline(opts Options) *Pipeline {
	fallback := opts.FallbackAnswer
	if fallback == "" {
		fallback = DefaultFallbackAnswer
	}
	return &Pipeline{
		lock:      NewLock(),
		describer: opts.Describer,
		reasoner:  opts.Reasoner,
		listener:  opts.Listener,
		fallback:  fallback,
		logger:    opts.Logger,
		states:    observable.New(State{}),
	}
}

// AddPhoto describes photos in order and accumulates them. The first
// description failure aborts the call; photos accumulated before it stay.
func (p *Pipeline) AddPhoto(ctx context.Context, photos []photo.Photo) error {
	if len(photos) == 0 {
		return nil
	}
	ctx, end := observability.StartSpan(ctx, "agent", "add_photo")
	err := p.lock.Run(ctx, func(ctx context.Context) error {
		var latest string
		processed := 0
		for _, ph := range photos {
			desc, err := p.describer.Describe(ctx, ph)
			if err != nil {
				return errors.Wrap(errors.KindVision, "agent.add_photo", fmt.Sprintf("describe photo %d", ph.ID), err)
			}
			p.mu.Lock()
			p.items = append(p.items, Interpretation{Photo: ph, Description: desc})
			p.mu.Unlock()
			latest = desc
			processed++
		}

		if processed > 0 {
			p.mu.Lock()
			p.state.LastDescription = latest
			p.mu.Unlock()
			p.publish()
			p.logger.InfoTag("Agent", "accumulated %d photo(s), %d total", processed, len(p.Interpretations()))
		}
		return nil
	})
	end(err)
	return err
}

// Answer asks the reasoning model about the accumulated photos. It returns
// accepted=false without doing anything if an answer is already loading.
// Reasoning failures produce the fallback answer and are not returned.
func (p *Pipeline) Answer(ctx context.Context, question string) (answer string, accepted bool) {
	p.mu.Lock()
	if p.state.Loading {
		p.mu.Unlock()
		p.logger.DebugTag("Agent", "answer already loading, dropping question")
		return "", false
	}
	p.state.Loading = true
	p.mu.Unlock()
	p.publish()

	defer func() {
		p.mu.Lock()
		p.state.Loading = false
		p.mu.Unlock()
		p.publish()
	}()

	if p.listener != nil {
		if err := p.listener.StartListening(ctx); err != nil {
			p.logger.WarnTag("Agent", "start listening failed: %v", err)
		}
	}

	ctx, end := observability.StartSpan(ctx, "agent", "answer")
	err := p.lock.Run(ctx, func(ctx context.Context) error {
		contextText := ComposeContext(p.Interpretations())
		result, err := p.reasoner.Answer(ctx, question, contextText)
		if err != nil {
			p.logger.ErrorTag("Agent", "reasoning failed: %v", err)
			result = p.fallback
		}
		p.mu.Lock()
		p.state.Answer = result
		p.mu.Unlock()
		answer = result
		return err
	})
	end(err)

	if err != nil && answer == "" {
		// cancelled while queued, or the body panicked before setting an answer
		if ctx.Err() != nil {
			p.logger.WarnTag("Agent", "answer abandoned: %v", err)
			return "", true
		}
		p.mu.Lock()
		p.state.Answer = p.fallback
		p.mu.Unlock()
		answer = p.fallback
	}
	return answer, true
}

// Reset drops accumulated interpretations and the current answer.
func (p *Pipeline) Reset(ctx context.Context) error {
	return p.lock.Run(ctx, func(context.Context) error {
		p.mu.Lock()
		p.items = nil
		p.state.LastDescription = ""
		p.state.Answer = ""
		p.mu.Unlock()
		p.publish()
		return nil
	})
}

// Interpretations returns a copy of the accumulated list.
func (p *Pipeline) Interpretations() []Interpretation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Interpretation, len(p.items))
	copy(out, p.items)
	return out
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Photos = len(p.items)
	return s
}

// Subscribe registers fn for state changes.
func (p *Pipeline) Subscribe(fn func(State)) (unsubscribe func()) {
	return p.states.Subscribe(fn)
}

// QueueDepth returns the number of operations waiting for the lock.
func (p *Pipeline) QueueDepth() int {
	return p.lock.Pending()
}

func (p *Pipeline) publish() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.state.Version++
	snap := p.state
	snap.Photos = len(p.items)
	p.mu.Unlock()

	p.states.Publish(snap)
}

// ComposeContext renders descriptions as "\n\nImage #i\n\n<description>"
// blocks in accumulation order, numbered from 0.
func ComposeContext(items []Interpretation) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "\n\nImage #%d\n\n%s", i, it.Description)
	}
	return b.String()
}
