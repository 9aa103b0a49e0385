package photo

import (
	"context"
	"errors"
	"sync"
	"time"

	"glass-server-go/internal/platform/logging"
)

// CaptureCommand is written to the control channel to take a photo.
var CaptureCommand = []byte{0x01}

var (
	ErrControlUnavailable = errors.New("capture: no control channel attached")
	ErrAlreadyCapturing   = errors.New("capture: already capturing")
)

// ControlChannel is the write side of a device link.
type ControlChannel interface {
	// ID identifies the link for Detach.
	ID() string
	Ready() bool
	WriteControl(ctx context.Context, payload []byte) error
}

// Capturer sends capture commands, at most one per cooldown window.
type Capturer struct {
	mu       sync.Mutex
	channel  ControlChannel
	cooldown time.Duration
	last     time.Time
	now      func() time.Time
	logger   *logging.Logger
}

func NewCapturer(cooldown time.Duration, logger *logging.Logger) *Capturer {
	return &Capturer{
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides time.Now.
func (c *Capturer) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Attach makes ch the active control channel, replacing any previous one.
func (c *Capturer) Attach(ch ControlChannel) {
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	c.logger.InfoTag("Capture", "control channel attached: %s", ch.ID())
}

// Detach clears the active channel if it is still ch.
func (c *Capturer) Detach(ch ControlChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil && c.channel.ID() == ch.ID() {
		c.channel = nil
		c.logger.InfoTag("Capture", "control channel detached: %s", ch.ID())
	}
}

// Available reports whether a ready channel is attached.
func (c *Capturer) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel != nil && c.channel.Ready()
}

// RequestCapture writes the capture command. Requests within the cooldown
// of the previous trigger fail with ErrAlreadyCapturing.
func (c *Capturer) RequestCapture(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	if ch == nil || !ch.Ready() {
		c.mu.Unlock()
		return ErrControlUnavailable
	}
	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) < c.cooldown {
		c.mu.Unlock()
		return ErrAlreadyCapturing
	}
	prev := c.last
	c.last = now
	c.mu.Unlock()

	if err := ch.WriteControl(ctx, CaptureCommand); err != nil {
		c.mu.Lock()
		if c.last.Equal(now) {
			c.last = prev
		}
		c.mu.Unlock()
		c.logger.WarnTag("Capture", "capture command failed: %v", err)
		return err
	}
	c.logger.InfoTag("Capture", "capture triggered on %s", ch.ID())
	return nil
}
