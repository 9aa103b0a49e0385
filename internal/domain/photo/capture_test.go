package photo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	id     string
	ready  bool
	err    error
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeChannel) ID() string  { return f.id }
func (f *fakeChannel) Ready() bool { return f.ready }

func (f *fakeChannel) WriteControl(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]byte(nil), payload...))
	return nil
}

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCapturer(cooldown time.Duration) (*Capturer, *stepClock) {
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCapturer(cooldown, nil)
	c.SetClock(clock.now)
	return c, clock
}

func TestCapturer_NoChannel(t *testing.T) {
	c, _ := newTestCapturer(2 * time.Second)
	err := c.RequestCapture(context.Background())
	assert.ErrorIs(t, err, ErrControlUnavailable)

	c.Attach(&fakeChannel{id: "dev", ready: false})
	err = c.RequestCapture(context.Background())
	assert.ErrorIs(t, err, ErrControlUnavailable)
	assert.False(t, c.Available())
}

func TestCapturer_Cooldown(t *testing.T) {
	c, clock := newTestCapturer(2 * time.Second)
	ch := &fakeChannel{id: "dev", ready: true}
	c.Attach(ch)

	require.NoError(t, c.RequestCapture(context.Background()))
	assert.Equal(t, [][]byte{{0x01}}, ch.writes)

	clock.advance(500 * time.Millisecond)
	assert.ErrorIs(t, c.RequestCapture(context.Background()), ErrAlreadyCapturing)

	clock.advance(1600 * time.Millisecond)
	require.NoError(t, c.RequestCapture(context.Background()))
	assert.Len(t, ch.writes, 2)
}

func TestCapturer_WriteFailureReleasesGate(t *testing.T) {
	c, _ := newTestCapturer(2 * time.Second)
	ch := &fakeChannel{id: "dev", ready: true, err: errors.New("link down")}
	c.Attach(ch)

	err := c.RequestCapture(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyCapturing)

	ch.err = nil
	require.NoError(t, c.RequestCapture(context.Background()))
}

func TestCapturer_DetachOnlyMatchingChannel(t *testing.T) {
	c, _ := newTestCapturer(0)
	a := &fakeChannel{id: "a", ready: true}
	b := &fakeChannel{id: "b", ready: true}

	c.Attach(a)
	c.Attach(b)
	c.Detach(a)
	assert.True(t, c.Available())

	c.Detach(b)
	assert.False(t, c.Available())
}
