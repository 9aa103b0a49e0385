// Package reassembly rebuilds images from sequenced notifications sent by
// the camera. Transfers are lossy: any gap drops the image in progress.
package reassembly

import (
	"bytes"
	"sync"
	"time"

	"glass-server-go/internal/platform/logging"
)

const idle = -1

// Image is a completely reassembled transfer.
type Image struct {
	Data       []byte
	Chunks     int
	ReceivedAt time.Time
}

// Stats are cumulative counters for one reassembler.
type Stats struct {
	Chunks     uint64 `json:"chunks"`
	Images     uint64 `json:"images"`
	Violations uint64 `json:"violations"`
	Ignored    uint64 `json:"ignored"`
	InProgress bool   `json:"in_progress"`
}

// Reassembler consumes chunks in delivery order and emits whole images.
// It is safe for concurrent use but callers must deliver chunks of one
// link from a single goroutine to preserve ordering.
type Reassembler struct {
	mu           sync.Mutex
	expectedNext int
	buf          bytes.Buffer
	chunks       int
	stats        Stats
	emit         func(Image)
	logger       *logging.Logger
	now          func() time.Time
}

// Option customises a Reassembler.
type Option func(*Reassembler)

// WithLogger sets the logger used for protocol violations.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reassembler) { r.logger = l }
}

// WithClock overrides time.Now for ReceivedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reassembler) { r.now = now }
}

// New creates an idle reassembler that hands complete images to emit.
// emit is called synchronously from OnChunk and must not call back into
// the reassembler.
func New(emit func(Image), opts ...Option) *Reassembler {
	r := &Reassembler{
		expectedNext: idle,
		emit:         emit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnPacket decodes a raw notification and feeds it to OnChunk. A packet
// shorter than the header counts as a protocol violation.
func (r *Reassembler) OnPacket(raw []byte) {
	chunk, err := Decode(raw)
	if err != nil {
		r.mu.Lock()
		r.stats.Chunks++
		r.violation("short packet of %d bytes", len(raw))
		r.mu.Unlock()
		return
	}
	r.OnChunk(chunk)
}

// OnChunk advances the transfer state machine by one notification.
func (r *Reassembler) OnChunk(c Chunk) {
	var done *Image

	r.mu.Lock()
	r.stats.Chunks++
	switch {
	case r.expectedNext == idle:
		if !c.Terminator && c.Seq == 0 {
			r.start(c.Payload)
		} else {
			r.stats.Ignored++
		}

	case c.Terminator:
		img := Image{
			Data:       bytes.Clone(r.buf.Bytes()),
			Chunks:     r.chunks,
			ReceivedAt: r.now(),
		}
		if img.Data == nil {
			img.Data = []byte{}
		}
		r.reset()
		r.stats.Images++
		done = &img

	case c.Seq == r.expectedNext:
		r.buf.Write(c.Payload)
		r.chunks++
		r.expectedNext++

	default:
		r.violation("expected chunk %d, got %d", r.expectedNext, c.Seq)
	}
	r.mu.Unlock()

	if done != nil && r.emit != nil {
		r.emit(*done)
	}
}

func (r *Reassembler) start(payload []byte) {
	r.buf.Reset()
	r.buf.Write(payload)
	r.chunks = 1
	r.expectedNext = 1
}

func (r *Reassembler) reset() {
	r.buf.Reset()
	r.chunks = 0
	r.expectedNext = idle
}

// violation drops the transfer in progress. Caller holds mu.
func (r *Reassembler) violation(format string, args ...any) {
	r.stats.Violations++
	dropped := r.buf.Len()
	r.reset()
	r.logger.WarnTag("Reassembly", format+", dropped %d buffered bytes", append(args, dropped)...)
}

// Reset abandons any transfer in progress without counting a violation.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	r.reset()
	r.mu.Unlock()
}

// Stats returns a copy of the counters.
func (r *Reassembler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.InProgress = r.expectedNext != idle
	return s
}
