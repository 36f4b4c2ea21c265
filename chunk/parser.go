package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
	"github.com/AgustinSRG/rtmp-client/rtmp"
)

const extendedTimestampMarker = 0xFFFFFF

// inboundStream is one chunk-stream's parsing state: the shape of the last
// header seen (the inheritance basis for types 1/2/3) and the buffer of
// the message currently being assembled, if any.
type inboundStream struct {
	// last header, inherited by subsequent type-1/2/3 headers
	haveHeader bool
	mstream    uint32
	msgType    rtmp.MessageType
	size       uint32
	rawField   uint32 // the 24-bit timestamp/delta field of the last header (pre-extension)
	extended   bool
	extValue   uint32

	// cumulative reconstructed DTS for this chunk-stream, milliseconds
	dts int64

	// in-progress message assembly
	assembling bool
	offset     uint32
	buffer     []byte
	msgDTS     int64 // DTS recorded when the message buffer was allocated
}

// InboundTable demultiplexes inbound bytes into reassembled RTMP messages.
// It is owned exclusively by the connection's event-loop thread; nothing
// in this type is safe for concurrent use.
type InboundTable struct {
	streams   map[uint32]*inboundStream
	chunkSize uint32
}

// NewInboundTable returns a table with the protocol default chunk size (128).
func NewInboundTable() *InboundTable {
	return &InboundTable{streams: make(map[uint32]*inboundStream), chunkSize: 128}
}

// ChunkSize returns the currently negotiated inbound chunk size.
func (t *InboundTable) ChunkSize() uint32 { return t.chunkSize }

// SetChunkSize applies a peer Set Chunk Size value. Sizes outside
// [1, 2^31-1] are rejected without affecting the current size; sizes below
// the protocol default of 128 are accepted but logged.
func (t *InboundTable) SetChunkSize(n uint32) error {
	if n < 1 || n > 1<<31-1 {
		return fmt.Errorf("chunk: set chunk size %d: %w", n, rtmperr.ErrInvalidData)
	}
	if n < 128 {
		rtmplog.Warning("chunk: peer set chunk size %d below the protocol default of 128", n)
	}
	t.chunkSize = n
	return nil
}

// Abort discards any in-progress message assembly on csid, per a peer
// Abort protocol-control message. The next chunk on that stream must be a
// type-0 header.
func (t *InboundTable) Abort(csid uint32) {
	if s, ok := t.streams[csid]; ok {
		s.assembling = false
		s.buffer = nil
		s.offset = 0
	}
}

func (t *InboundTable) stream(csid uint32) *inboundStream {
	s, ok := t.streams[csid]
	if !ok {
		s = &inboundStream{}
		t.streams[csid] = s
	}
	return s
}

// Step parses a single chunk from the front of buf. It returns the number
// of bytes consumed and, if that chunk completed a message, the message
// itself. needMore, when > 0, means buf doesn't yet hold a full chunk: it
// is the total number of bytes buf must hold for the next step to go
// further, and the caller must read more before calling Step again with
// the same bytes at its front; consumed and msg are both zero/nil in that
// case.
func (t *InboundTable) Step(buf []byte) (msg *rtmp.Message, consumed int, needMore int, err error) {
	bhNeed := basicHeaderNeed(buf)
	if len(buf) < bhNeed {
		return nil, 0, bhNeed, nil
	}
	fmtType, csid, bhLen := parseBasicHeader(buf)
	if err := ValidateChunkStreamID(csid); err != nil {
		return nil, 0, 0, fmt.Errorf("chunk: basic header: csid %d: %w", csid, err)
	}

	s := t.stream(csid)

	if s.assembling {
		return t.stepContinuation(s, csid, buf, bhLen)
	}
	return t.stepNewMessage(s, csid, fmtType, buf, bhLen)
}

// messageHeaderLen is the message-header byte count for each format type.
var messageHeaderLen = [4]int{11, 7, 3, 0}

func (t *InboundTable) stepNewMessage(s *inboundStream, csid uint32, fmtType byte, buf []byte, bhLen int) (*rtmp.Message, int, int, error) {
	mhLen := messageHeaderLen[fmtType]
	if fmtType != 0 && !s.haveHeader {
		return nil, 0, 0, fmt.Errorf("chunk: %w: type-%d header with no prior header on this chunk stream", rtmperr.ErrInvalidData, fmtType)
	}

	need := bhLen + mhLen
	if len(buf) < need {
		return nil, 0, need, nil
	}
	mh := buf[bhLen : bhLen+mhLen]

	mstream := s.mstream
	msgType := s.msgType
	size := s.size
	rawField := s.rawField

	switch fmtType {
	case 0:
		rawField = u24(mh[0:3])
		size = u24(mh[3:6])
		msgType = rtmp.MessageType(mh[6])
		mstream = binary.LittleEndian.Uint32(mh[7:11])
	case 1:
		rawField = u24(mh[0:3])
		size = u24(mh[3:6])
		msgType = rtmp.MessageType(mh[6])
	case 2:
		rawField = u24(mh[0:3])
	case 3:
		// full inheritance; rawField/size/msgType/mstream unchanged
	}

	if size > rtmp.MaxMessageSize {
		return nil, 0, 0, fmt.Errorf("chunk: message size %d: %w", size, rtmperr.ErrInvalidData)
	}

	extended := rawField == extendedTimestampMarker
	extNeed := 0
	if extended {
		extNeed = 4
	}
	total := need + extNeed
	if len(buf) < total {
		return nil, 0, total, nil
	}

	// For type-3, extended/rawField were inherited unchanged above, so
	// "extended" already reflects whether the message this chunk belongs
	// to (in progress or being restarted with identical shape) used an
	// extended timestamp; the 4-byte field is still present on the wire
	// and read here, but a disagreement with the inherited value is
	// just a warning — the inherited value wins.
	var extValue uint32
	if extended {
		extValue = binary.BigEndian.Uint32(buf[need : need+4])
		if fmtType == 3 && extValue != s.extValue {
			rtmplog.Warning("chunk: type-3 extended timestamp %d disagrees with inherited %d, preferring inheritance", extValue, s.extValue)
			extValue = s.extValue
		}
	}

	var deltaOrAbs uint32
	if extended {
		deltaOrAbs = extValue
	} else {
		deltaOrAbs = rawField
	}

	// Check the first chunk's payload is buffered before touching stream
	// state, so a short buffer leaves the next Step to re-parse this header.
	firstLen := size
	if firstLen > t.chunkSize {
		firstLen = t.chunkSize
	}
	if len(buf) < total+int(firstLen) {
		return nil, 0, total + int(firstLen), nil
	}

	advanceDTS(s, fmtType, deltaOrAbs)

	s.haveHeader = true
	s.mstream = mstream
	s.msgType = msgType
	s.size = size
	s.rawField = rawField
	s.extended = extended
	s.extValue = extValue

	s.assembling = true
	s.offset = 0
	s.buffer = make([]byte, size)
	s.msgDTS = s.dts

	consumed := total
	return t.appendPayload(s, routing{csid: csid, mstream: mstream, msgType: msgType}, buf[consumed:], consumed)
}

// routing carries the fields needed to stamp a completed message, without
// re-deriving them from the stream after payload copy.
type routing struct {
	csid    uint32
	mstream uint32
	msgType rtmp.MessageType
}

func (t *InboundTable) stepContinuation(s *inboundStream, csid uint32, buf []byte, bhLen int) (*rtmp.Message, int, int, error) {
	extNeed := 0
	if s.extended {
		extNeed = 4
	}
	need := bhLen + extNeed
	if len(buf) < need {
		return nil, 0, need, nil
	}
	if s.extended {
		// Continuation chunks repeat the same extended timestamp word;
		// we don't need its value (the message's DTS was already fixed
		// when the message was allocated), just to skip past it.
		_ = binary.BigEndian.Uint32(buf[bhLen : bhLen+4])
	}
	return t.appendPayload(s, routing{csid: csid, mstream: s.mstream, msgType: s.msgType}, buf[need:], need)
}

func (t *InboundTable) appendPayload(s *inboundStream, route routing, rest []byte, consumedSoFar int) (*rtmp.Message, int, int, error) {
	remaining := s.size - s.offset
	want := remaining
	if want > t.chunkSize {
		want = t.chunkSize
	}
	if uint32(len(rest)) < want {
		return nil, 0, consumedSoFar + int(want), nil
	}

	copy(s.buffer[s.offset:], rest[:want])
	s.offset += want
	consumed := consumedSoFar + int(want)

	if s.offset < s.size {
		return nil, consumed, 0, nil
	}

	msg := &rtmp.Message{
		Type:      route.msgType,
		CStream:   route.csid,
		MStream:   route.mstream,
		Timestamp: s.msgDTS,
		Payload:   s.buffer,
	}
	s.assembling = false
	s.buffer = nil
	s.offset = 0
	return msg, consumed, 0, nil
}

// advanceDTS applies the reconstruction policy of the delta/abs field to
// the chunk-stream's running DTS, mutating s.dts.
func advanceDTS(s *inboundStream, fmtType byte, field uint32) {
	var delta int64
	if fmtType == 0 {
		// Absolute timestamp: derive an implied delta against the
		// running DTS, then apply the same policy as a real delta.
		delta = int64(field) - s.dts
	} else {
		delta = signExtend32(field)
	}

	switch {
	case delta >= 0:
		s.dts += delta
	case -delta <= s.dts:
		rtmplog.Warning("chunk: in-bounds timestamp regression of %d ms", -delta)
		s.dts += delta
	default:
		rtmplog.Warning("chunk: out-of-bounds timestamp regression of %d ms, treating delta as unsigned", -delta)
		s.dts += int64(uint32(delta))
	}
}

// signExtend32 treats a 32-bit delta field as signed two's complement,
// matching the "values > 2^31-1 are negative wrap-around" rule.
func signExtend32(v uint32) int64 {
	if v > 1<<31-1 {
		return int64(v) - 1<<32
	}
	return int64(v)
}

func u24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
