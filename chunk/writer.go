package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmp"
)

// outboundStream is the serialization-side memory of the last message sent
// on a chunk stream, used to pick the cheapest header for the next one.
type outboundStream struct {
	have      bool
	mstream   uint32
	msgType   rtmp.MessageType
	size      uint32
	prevAbs   int64  // logical absolute timestamp of the last message sent
	lastDelta uint32 // delta/abs field the last header actually carried
}

// OutboundTable serializes RTMP messages into chunk bytes, selecting the
// smallest header type that still lets the peer reconstruct the message,
// per chunk stream.
type OutboundTable struct {
	streams   map[uint32]*outboundStream
	chunkSize uint32
}

// NewOutboundTable returns a table with the protocol default chunk size (128).
func NewOutboundTable() *OutboundTable {
	return &OutboundTable{streams: make(map[uint32]*outboundStream), chunkSize: 128}
}

// ChunkSize returns the currently negotiated outbound chunk size.
func (t *OutboundTable) ChunkSize() uint32 { return t.chunkSize }

// SetChunkSize updates the outbound chunk size used to split future
// messages. Callers are responsible for staging this until a prior
// Set Chunk Size message has actually been written, per the connection's
// pending/promote rule.
func (t *OutboundTable) SetChunkSize(n uint32) error {
	if n < 1 || n > 1<<31-1 {
		return fmt.Errorf("chunk: set chunk size %d: %w", n, rtmperr.ErrInvalidData)
	}
	t.chunkSize = n
	return nil
}

func (t *OutboundTable) stream(csid uint32) *outboundStream {
	s, ok := t.streams[csid]
	if !ok {
		s = &outboundStream{}
		t.streams[csid] = s
	}
	return s
}

// Serialize chunks msg for csid into wire bytes, choosing the optimal
// header-type for the first chunk and type-3 continuations for the rest.
func (t *OutboundTable) Serialize(csid uint32, msg rtmp.Message) ([]byte, error) {
	if err := ValidateChunkStreamID(csid); err != nil {
		return nil, fmt.Errorf("chunk: serialize: csid %d: %w", csid, err)
	}
	if msg.Size() > rtmp.MaxMessageSize {
		return nil, fmt.Errorf("chunk: serialize: message size %d: %w", msg.Size(), rtmperr.ErrInvalidData)
	}

	s := t.stream(csid)
	fmtType, delta := selectHeaderType(s, msg)
	extended := delta >= extendedTimestampMarker

	var out []byte
	out = append(out, encodeBasicHeader(fmtType, csid)...)
	out = append(out, encodeMessageHeader(fmtType, msg, delta)...)
	if extended {
		ext := make([]byte, 4)
		binary.BigEndian.PutUint32(ext, delta)
		out = append(out, ext...)
	}

	payload := msg.Payload
	first := payload
	if uint32(len(first)) > t.chunkSize {
		first = first[:t.chunkSize]
	}
	out = append(out, first...)
	payload = payload[len(first):]

	contHeader := encodeBasicHeader(3, csid)
	for len(payload) > 0 {
		out = append(out, contHeader...)
		if extended {
			ext := make([]byte, 4)
			binary.BigEndian.PutUint32(ext, delta)
			out = append(out, ext...)
		}
		n := uint32(len(payload))
		if n > t.chunkSize {
			n = t.chunkSize
		}
		out = append(out, payload[:n]...)
		payload = payload[n:]
	}

	s.have = true
	s.mstream = msg.MStream
	s.msgType = msg.Type
	s.size = msg.Size()
	s.prevAbs = msg.Timestamp
	s.lastDelta = delta

	return out, nil
}

// selectHeaderType picks the minimal header type for msg given the
// previously sent message s on the same chunk stream, and returns the
// delta/abs timestamp field that header will carry. The first message ever
// sent, one that changes message stream, one that regresses in time, or
// one whose delta overflows a signed 32-bit value (which the inbound side
// would read as a negative delta) always gets type 0 (absolute timestamp).
func selectHeaderType(s *outboundStream, msg rtmp.Message) (fmtType byte, delta uint32) {
	if !s.have || msg.MStream != s.mstream {
		return 0, uint32(msg.Timestamp)
	}

	d := msg.Timestamp - s.prevAbs
	if d < 0 || d > 0x7FFFFFFF {
		return 0, uint32(msg.Timestamp)
	}
	delta = uint32(d)

	if msg.Type != s.msgType || msg.Size() != s.size {
		return 1, delta
	}
	if delta != s.lastDelta {
		return 2, delta
	}
	return 3, delta
}

func encodeMessageHeader(fmtType byte, msg rtmp.Message, delta uint32) []byte {
	ts := delta
	if ts > extendedTimestampMarker {
		ts = extendedTimestampMarker
	}

	switch fmtType {
	case 0:
		b := make([]byte, 11)
		putU24(b[0:3], ts)
		putU24(b[3:6], msg.Size())
		b[6] = byte(msg.Type)
		binary.LittleEndian.PutUint32(b[7:11], msg.MStream)
		return b
	case 1:
		b := make([]byte, 7)
		putU24(b[0:3], ts)
		putU24(b[3:6], msg.Size())
		b[6] = byte(msg.Type)
		return b
	case 2:
		b := make([]byte, 3)
		putU24(b, ts)
		return b
	default: // type 3
		return nil
	}
}

func putU24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
