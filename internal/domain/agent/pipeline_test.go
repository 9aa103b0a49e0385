package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glass-server-go/internal/domain/photo"
)

type fakeDescriber struct {
	mu      sync.Mutex
	calls   []uint64
	fail    map[uint64]error
	block   chan struct{}
	active  int
	overlap bool
}

func (f *fakeDescriber) Describe(_ context.Context, p photo.Photo) (string, error) {
	f.mu.Lock()
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	f.calls = append(f.calls, p.ID)
	block := f.block
	err := f.fail[p.ID]
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return string(p.Data), nil
}

type fakeReasoner struct {
	mu       sync.Mutex
	calls    int
	question string
	context  string
	answer   string
	err      error
	panicMsg string
	block    chan struct{}
}

func (f *fakeReasoner) Answer(_ context.Context, question, contextText string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.question = question
	f.context = contextText
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.answer, f.err
}

type fakeListener struct {
	calls int
	err   error
}

func (f *fakeListener) StartListening(context.Context) error {
	f.calls++
	return f.err
}

func photos(data ...string) []photo.Photo {
	out := make([]photo.Photo, len(data))
	for i, d := range data {
		out[i] = photo.Photo{ID: uint64(i + 1), Data: []byte(d)}
	}
	return out
}

func TestPipeline_AnswerComposesContext(t *testing.T) {
	reasoner := &fakeReasoner{answer: "a cat"}
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: reasoner})

	require.NoError(t, p.AddPhoto(context.Background(), photos("a cat")))
	answer, accepted := p.Answer(context.Background(), "what animal?")

	assert.True(t, accepted)
	assert.Equal(t, "a cat", answer)
	assert.Equal(t, "what animal?", reasoner.question)
	assert.Equal(t, "\n\nImage #0\n\na cat", reasoner.context)

	s := p.Snapshot()
	assert.Equal(t, "a cat", s.Answer)
	assert.Equal(t, "a cat", s.LastDescription)
	assert.False(t, s.Loading)
	assert.Equal(t, 1, s.Photos)
}

func TestComposeContext_Order(t *testing.T) {
	got := ComposeContext([]Interpretation{{Description: "first"}, {Description: "second"}})
	assert.Equal(t, "\n\nImage #0\n\nfirst\n\nImage #1\n\nsecond", got)
	assert.Equal(t, "", ComposeContext(nil))
}

func TestPipeline_AddPhotoSequentialCalls(t *testing.T) {
	d := &fakeDescriber{block: make(chan struct{})}
	p := NewPipeline(Options{Describer: d, Reasoner: &fakeReasoner{}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, p.AddPhoto(context.Background(), []photo.Photo{{ID: 1, Data: []byte("p1")}, {ID: 2, Data: []byte("p2")}}))
	}()
	require.Eventually(t, func() bool { return p.lock.Busy() }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, p.AddPhoto(context.Background(), []photo.Photo{{ID: 3, Data: []byte("p3")}}))
	}()
	require.Eventually(t, func() bool { return p.QueueDepth() == 1 }, time.Second, time.Millisecond)

	close(d.block)
	wg.Wait()

	var got []string
	for _, it := range p.Interpretations() {
		got = append(got, it.Description)
	}
	assert.Equal(t, []string{"p1", "p2", "p3"}, got)
	assert.Equal(t, []uint64{1, 2, 3}, d.calls)
	assert.False(t, d.overlap)
	assert.Equal(t, "p3", p.Snapshot().LastDescription)
}

func TestPipeline_AddPhotoFailureKeepsEarlierPhotos(t *testing.T) {
	d := &fakeDescriber{fail: map[uint64]error{2: errors.New("vision down")}}
	p := NewPipeline(Options{Describer: d, Reasoner: &fakeReasoner{}})

	var published []State
	p.Subscribe(func(s State) { published = append(published, s) })

	err := p.AddPhoto(context.Background(), photos("p1", "p2", "p3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vision down")

	require.Len(t, p.Interpretations(), 1)
	assert.Equal(t, []uint64{1, 2}, d.calls)
	assert.Empty(t, published, "a failed invocation does not publish")
	assert.False(t, p.lock.Busy())
}

func TestPipeline_AnswerReentrancyGuard(t *testing.T) {
	reasoner := &fakeReasoner{answer: "first", block: make(chan struct{})}
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: reasoner})

	done := make(chan string)
	go func() {
		answer, _ := p.Answer(context.Background(), "Q1")
		done <- answer
	}()
	require.Eventually(t, func() bool { return p.Snapshot().Loading }, time.Second, time.Millisecond)

	before := p.Snapshot()
	answer, accepted := p.Answer(context.Background(), "Q2")
	assert.False(t, accepted)
	assert.Empty(t, answer)
	assert.Equal(t, before, p.Snapshot())

	close(reasoner.block)
	assert.Equal(t, "first", <-done)
	assert.Equal(t, 1, reasoner.calls)
	assert.Equal(t, "Q1", reasoner.question)
}

func TestPipeline_AnswerFallbackOnError(t *testing.T) {
	reasoner := &fakeReasoner{err: errors.New("model overloaded")}
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: reasoner, FallbackAnswer: "try again"})

	var states []State
	p.Subscribe(func(s State) { states = append(states, s) })

	answer, accepted := p.Answer(context.Background(), "Q")
	assert.True(t, accepted)
	assert.Equal(t, "try again", answer)

	require.Len(t, states, 2)
	assert.True(t, states[0].Loading)
	assert.False(t, states[1].Loading)
	assert.Equal(t, "try again", states[1].Answer)
	assert.Less(t, states[0].Version, states[1].Version)
}

func TestPipeline_AnswerPanicStillClearsLoading(t *testing.T) {
	reasoner := &fakeReasoner{panicMsg: "kaboom"}
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: reasoner})

	answer, accepted := p.Answer(context.Background(), "Q")
	assert.True(t, accepted)
	assert.Equal(t, DefaultFallbackAnswer, answer)
	assert.False(t, p.Snapshot().Loading)
	assert.False(t, p.lock.Busy())
}

func TestPipeline_ListeningFailureIsSwallowed(t *testing.T) {
	listener := &fakeListener{err: errors.New("no device")}
	reasoner := &fakeReasoner{answer: "ok"}
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: reasoner, Listener: listener})

	answer, accepted := p.Answer(context.Background(), "Q")
	assert.True(t, accepted)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, 1, listener.calls)
}

func TestPipeline_LoadingPublishedBeforeQueueWait(t *testing.T) {
	d := &fakeDescriber{block: make(chan struct{})}
	reasoner := &fakeReasoner{answer: "done"}
	p := NewPipeline(Options{Describer: d, Reasoner: reasoner})

	go func() { _ = p.AddPhoto(context.Background(), photos("slow")) }()
	require.Eventually(t, func() bool { return p.lock.Busy() }, time.Second, time.Millisecond)

	answered := make(chan struct{})
	go func() {
		p.Answer(context.Background(), "Q")
		close(answered)
	}()

	require.Eventually(t, func() bool { return p.Snapshot().Loading && p.QueueDepth() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, reasoner.calls)

	close(d.block)
	<-answered
	assert.Equal(t, "\n\nImage #0\n\nslow", reasoner.context)
	assert.False(t, p.Snapshot().Loading)
}

func TestPipeline_AnswerCancelledWhileQueued(t *testing.T) {
	d := &fakeDescriber{block: make(chan struct{})}
	reasoner := &fakeReasoner{answer: "unused"}
	p := NewPipeline(Options{Describer: d, Reasoner: reasoner})

	go func() { _ = p.AddPhoto(context.Background(), photos("slow")) }()
	require.Eventually(t, func() bool { return p.lock.Busy() }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan bool)
	go func() {
		_, accepted := p.Answer(ctx, "Q")
		result <- accepted
	}()
	require.Eventually(t, func() bool { return p.QueueDepth() == 1 }, time.Second, time.Millisecond)
	cancel()

	assert.True(t, <-result)
	assert.False(t, p.Snapshot().Loading)
	assert.Equal(t, 0, reasoner.calls)
	close(d.block)
}

func TestPipeline_Reset(t *testing.T) {
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: &fakeReasoner{answer: "x"}})
	require.NoError(t, p.AddPhoto(context.Background(), photos("a", "b")))
	p.Answer(context.Background(), "Q")

	require.NoError(t, p.Reset(context.Background()))
	s := p.Snapshot()
	assert.Empty(t, s.Answer)
	assert.Empty(t, s.LastDescription)
	assert.Equal(t, 0, s.Photos)
	assert.Empty(t, p.Interpretations())
}

func TestPipeline_VersionsIncrease(t *testing.T) {
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: &fakeReasoner{answer: "x"}})
	var versions []uint64
	p.Subscribe(func(s State) { versions = append(versions, s.Version) })

	for i := 0; i < 3; i++ {
		require.NoError(t, p.AddPhoto(context.Background(), []photo.Photo{{ID: uint64(i + 1), Data: []byte(fmt.Sprint(i))}}))
	}
	p.Answer(context.Background(), "Q")

	require.Len(t, versions, 5)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestPipeline_ListenerMayReadState(t *testing.T) {
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: &fakeReasoner{answer: "x"}})
	var seen []int
	p.Subscribe(func(s State) {
		seen = append(seen, len(p.Interpretations()))
		assert.Equal(t, s.Photos, p.Snapshot().Photos)
		_ = p.QueueDepth()
	})

	require.NoError(t, p.AddPhoto(context.Background(), photos("a", "b")))
	assert.Equal(t, []int{2}, seen)
}

func TestPipeline_ListenerHandsMutationsOff(t *testing.T) {
	reasoner := &fakeReasoner{answer: "a lamp"}
	p := NewPipeline(Options{Describer: &fakeDescriber{}, Reasoner: reasoner})

	answered := make(chan string, 1)
	var once sync.Once
	p.Subscribe(func(s State) {
		if s.LastDescription == "" {
			return
		}
		// Listeners run under the pipeline's lock; mutating calls must
		// happen on another goroutine.
		once.Do(func() {
			go func() {
				answer, _ := p.Answer(context.Background(), "what is it?")
				answered <- answer
			}()
		})
	})

	require.NoError(t, p.AddPhoto(context.Background(), photos("a lamp")))
	select {
	case answer := <-answered:
		assert.Equal(t, "a lamp", answer)
	case <-time.After(2 * time.Second):
		t.Fatal("answer triggered from a listener did not complete")
	}
	assert.Equal(t, "a lamp", p.Snapshot().Answer)
}
