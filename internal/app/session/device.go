package session

import (
	"context"
	"errors"
	"sync"

	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/domain/eventbus"
	"glass-server-go/internal/domain/photo"
	"glass-server-go/internal/domain/reassembly"
)

// ErrNoDevice is returned by audio operations when no device is attached.
var ErrNoDevice = errors.New("session: no device attached")

// Device is a connected wearable: it accepts control commands and audio.
type Device interface {
	photo.ControlChannel
	providers.AudioSink
}

// Link is one device connection. Notifications of a link must be fed from
// a single goroutine in delivery order.
type Link struct {
	session     *Session
	device      Device
	transport   string
	reassembler *reassembly.Reassembler
	closeOnce   sync.Once
}

// OnPacket feeds one raw notification to the link's reassembler.
func (l *Link) OnPacket(raw []byte) {
	l.reassembler.OnPacket(raw)
}

func (l *Link) Device() Device { return l.device }

// Stats returns the link's reassembly counters.
func (l *Link) Stats() reassembly.Stats {
	return l.reassembler.Stats()
}

// Close detaches the device. Any partial transfer is dropped.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.session.disconnect(l)
	})
}

// Connect registers dev as the active device and returns a link whose
// reassembler feeds the session.
func (s *Session) Connect(dev Device, transport string) *Link {
	l := &Link{session: s, device: dev, transport: transport}
	l.reassembler = reassembly.New(s.onImage, reassembly.WithLogger(s.logger))

	s.linksMu.Lock()
	s.links[l] = struct{}{}
	s.linksMu.Unlock()

	s.capturer.Attach(dev)
	s.audio.attach(dev)
	s.bus.Emit(eventbus.EventDeviceConnected, eventbus.DeviceEventData{DeviceID: dev.ID(), Transport: transport})
	return l
}

func (s *Session) disconnect(l *Link) {
	s.linksMu.Lock()
	delete(s.links, l)
	st := l.reassembler.Stats()
	s.retired.Chunks += st.Chunks
	s.retired.Images += st.Images
	s.retired.Violations += st.Violations
	s.retired.Ignored += st.Ignored
	s.linksMu.Unlock()

	l.reassembler.Reset()
	s.capturer.Detach(l.device)
	s.audio.detach(l.device)
	s.bus.Emit(eventbus.EventDeviceDisconnected, eventbus.DeviceEventData{DeviceID: l.device.ID(), Transport: l.transport})
}

// audioRouter forwards audio operations to the most recently attached device.
type audioRouter struct {
	mu     sync.RWMutex
	device Device
}

func (a *audioRouter) attach(d Device) {
	a.mu.Lock()
	a.device = d
	a.mu.Unlock()
}

func (a *audioRouter) detach(d Device) {
	a.mu.Lock()
	if a.device != nil && a.device.ID() == d.ID() {
		a.device = nil
	}
	a.mu.Unlock()
}

func (a *audioRouter) current() Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.device
}

func (a *audioRouter) StartListening(ctx context.Context) error {
	d := a.current()
	if d == nil {
		return ErrNoDevice
	}
	return d.StartListening(ctx)
}

func (a *audioRouter) PlayAudio(ctx context.Context, audio providers.Audio) error {
	d := a.current()
	if d == nil {
		return ErrNoDevice
	}
	return d.PlayAudio(ctx, audio)
}
