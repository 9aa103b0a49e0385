package reassembly

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the length of the little-endian sequence header.
	HeaderSize = 2
	// TerminatorID marks the end of an image transfer.
	TerminatorID = 0xFFFF
)

// ErrShortPacket is reported when a notification is smaller than its header.
var ErrShortPacket = errors.New("reassembly: packet shorter than header")

// Chunk is one decoded notification.
type Chunk struct {
	Seq        int
	Terminator bool
	Payload    []byte
}

// Decode splits a raw notification into header and payload. The payload
// aliases raw.
func Decode(raw []byte) (Chunk, error) {
	if len(raw) < HeaderSize {
		return Chunk{}, ErrShortPacket
	}
	id := binary.LittleEndian.Uint16(raw[:HeaderSize])
	if id == TerminatorID {
		return Chunk{Terminator: true, Payload: raw[HeaderSize:]}, nil
	}
	return Chunk{Seq: int(id), Payload: raw[HeaderSize:]}, nil
}

// Encode builds a notification for seq. Used by device simulators and tests.
func Encode(seq int, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(out, uint16(seq))
	copy(out[HeaderSize:], payload)
	return out
}

// Terminator returns the end-of-image notification.
func Terminator() []byte {
	return []byte{0xFF, 0xFF}
}

// Split frames data into notifications of at most payloadSize bytes each,
// followed by the terminator.
func Split(data []byte, payloadSize int) [][]byte {
	if payloadSize <= 0 {
		payloadSize = 1
	}
	var out [][]byte
	seq := 0
	for off := 0; off < len(data); off += payloadSize {
		end := min(off+payloadSize, len(data))
		out = append(out, Encode(seq, data[off:end]))
		seq++
	}
	return append(out, Terminator())
}
