package reassembly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	images []Image
}

func (c *collector) emit(img Image) { c.images = append(c.images, img) }

func newTestReassembler() (*Reassembler, *collector) {
	c := &collector{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return New(c.emit, WithClock(func() time.Time { return fixed })), c
}

func feed(r *Reassembler, packets ...[]byte) {
	for _, p := range packets {
		r.OnPacket(p)
	}
}

func TestReassembler_CompleteTransfer(t *testing.T) {
	r, c := newTestReassembler()
	feed(r,
		Encode(0, []byte("ab")),
		Encode(1, []byte("cd")),
		Encode(2, []byte("e")),
		Terminator(),
	)

	require.Len(t, c.images, 1)
	assert.Equal(t, []byte("abcde"), c.images[0].Data)
	assert.Equal(t, 3, c.images[0].Chunks)
	assert.False(t, c.images[0].ReceivedAt.IsZero())

	s := r.Stats()
	assert.Equal(t, uint64(4), s.Chunks)
	assert.Equal(t, uint64(1), s.Images)
	assert.False(t, s.InProgress)
}

func TestReassembler_Table(t *testing.T) {
	tests := []struct {
		name       string
		packets    [][]byte
		want       [][]byte
		violations uint64
		ignored    uint64
	}{
		{
			name:    "terminator while idle is ignored",
			packets: [][]byte{Terminator()},
			ignored: 1,
		},
		{
			name:    "non-zero id while idle is ignored",
			packets: [][]byte{Encode(5, []byte("x")), Encode(1, []byte("y"))},
			ignored: 2,
		},
		{
			name:       "gap drops the image",
			packets:    [][]byte{Encode(0, []byte("a")), Encode(2, []byte("c")), Terminator()},
			violations: 1,
			ignored:    1,
		},
		{
			name:       "unexpected zero mid-transfer resets to idle",
			packets:    [][]byte{Encode(0, []byte("a")), Encode(1, []byte("b")), Encode(0, []byte("z")), Encode(1, []byte("q")), Terminator()},
			violations: 1,
			ignored:    2,
		},
		{
			name:    "single chunk image",
			packets: [][]byte{Encode(0, []byte("only")), Terminator()},
			want:    [][]byte{[]byte("only")},
		},
		{
			name:    "empty payload image",
			packets: [][]byte{Encode(0, nil), Terminator()},
			want:    [][]byte{{}},
		},
		{
			name: "recovers after violation",
			packets: [][]byte{
				Encode(0, []byte("bad")), Encode(3, []byte("!")),
				Encode(0, []byte("go")), Encode(1, []byte("od")), Terminator(),
			},
			want:       [][]byte{[]byte("good")},
			violations: 1,
		},
		{
			name:       "short packet is a violation",
			packets:    [][]byte{Encode(0, []byte("a")), {0x01}, Encode(1, []byte("b")), Terminator()},
			violations: 1,
			ignored:    2,
		},
		{
			name:    "back to back images",
			packets: [][]byte{Encode(0, []byte("1")), Terminator(), Encode(0, []byte("2")), Terminator()},
			want:    [][]byte{[]byte("1"), []byte("2")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, c := newTestReassembler()
			feed(r, tt.packets...)

			var got [][]byte
			for _, img := range c.images {
				got = append(got, img.Data)
			}
			assert.Equal(t, tt.want, got)

			s := r.Stats()
			assert.Equal(t, tt.violations, s.Violations, "violations")
			assert.Equal(t, tt.ignored, s.Ignored, "ignored")
		})
	}
}

func TestReassembler_EmittedDataIsImmutable(t *testing.T) {
	r, c := newTestReassembler()
	payload := []byte("abc")
	feed(r, Encode(0, payload), Terminator())
	require.Len(t, c.images, 1)

	// the next transfer reuses the internal buffer
	feed(r, Encode(0, []byte("xyz")), Encode(1, []byte("123")))
	assert.Equal(t, []byte("abc"), c.images[0].Data)
}

func TestReassembler_Reset(t *testing.T) {
	r, c := newTestReassembler()
	feed(r, Encode(0, []byte("a")))
	assert.True(t, r.Stats().InProgress)

	r.Reset()
	feed(r, Terminator())
	assert.Empty(t, c.images)
	assert.Equal(t, uint64(0), r.Stats().Violations)
}

func TestSplit_RoundTrip(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	r, c := newTestReassembler()
	feed(r, Split(data, 180)...)

	require.Len(t, c.images, 1)
	assert.Equal(t, data, c.images[0].Data)
	assert.Equal(t, 6, c.images[0].Chunks)
}

func TestDecode(t *testing.T) {
	chunk, err := Decode([]byte{0x02, 0x01, 0xAA})
	require.NoError(t, err)
	assert.Equal(t, 0x0102, chunk.Seq)
	assert.Equal(t, []byte{0xAA}, chunk.Payload)

	chunk, err = Decode([]byte{0xFF, 0xFF})
	require.NoError(t, err)
	assert.True(t, chunk.Terminator)

	_, err = Decode([]byte{0x00})
	assert.ErrorIs(t, err, ErrShortPacket)
}
