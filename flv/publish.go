package flv

import (
	"fmt"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmp"
)

const wrapThreshold = 1 << 31 // 2^31
const wrapSpan = 1 << 32      // 2^32

// PublishAdapter converts incoming FLV-muxed buffers into outbound RTMP
// messages for a publish session, applying the monotonic timestamp fixup
// and caching/replaying stream-header buffers.
type PublishAdapter struct {
	mstream uint32

	baseTS   int64
	lastRaw  int64
	haveLast bool

	streamHeaders []HeaderMessage
}

// HeaderMessage pairs a cached stream-header message with the chunk stream
// it belongs on, since CStream alone isn't carried on rtmp.Message.
type HeaderMessage struct {
	CStream uint32
	Message rtmp.Message
}

// NewPublishAdapter returns an adapter with no stream id assigned yet; set
// one with SetStreamID once createStream's reply arrives.
func NewPublishAdapter() *PublishAdapter {
	return &PublishAdapter{}
}

// SetStreamID patches the message-stream id the adapter stamps onto
// messages it produces, once it's known (createStream replies
// asynchronously, after media may already be flowing).
func (p *PublishAdapter) SetStreamID(mstream uint32) { p.mstream = mstream }

// CacheStreamHeader records msg as a stream header to be replayed as the
// first messages of the published stream, ahead of the first media
// message. AAC/AVC sequence headers identified by isSequenceHeader belong
// here instead of the immediate send path, so codec configuration goes out
// before any frame that depends on it. The cache is replayed once:
// StreamHeaders empties it.
func (p *PublishAdapter) CacheStreamHeader(cstream uint32, msg rtmp.Message) {
	msg.MStream = p.mstream
	p.streamHeaders = append(p.streamHeaders, HeaderMessage{CStream: cstream, Message: msg})
}

// StreamHeaders returns the cached headers and clears the cache, so a
// caller drains them exactly once ahead of the next media message.
func (p *PublishAdapter) StreamHeaders() []HeaderMessage {
	h := p.streamHeaders
	p.streamHeaders = nil
	return h
}

// Convert parses one FLV-muxed buffer. ok is false (with a nil error) when
// buf was an FLV file header and was correctly dropped rather than
// converted. CStream reports which chunk stream the caller should enqueue
// the message on. isHeader reports whether the tag is an AAC/AVC sequence
// header, which callers should route through CacheStreamHeader instead of
// sending immediately.
func (p *PublishAdapter) Convert(buf []byte) (msg rtmp.Message, cstream uint32, ok bool, isHeader bool, err error) {
	if skip, isHeader := isFileHeader(buf); isHeader {
		if skip > len(buf) {
			return rtmp.Message{}, 0, false, false, fmt.Errorf("flv: file header: %w", rtmperr.ErrPartialInput)
		}
		return rtmp.Message{}, 0, false, false, nil
	}

	h, err := parseTagHeader(buf)
	if err != nil {
		return rtmp.Message{}, 0, false, false, err
	}
	if uint32(len(buf)) < h.TotalSize() {
		return rtmp.Message{}, 0, false, false, fmt.Errorf("flv: tag payload: %w", rtmperr.ErrPartialInput)
	}

	msgType, cs, known := messageTypeForTag(h.Type)
	if !known {
		return rtmp.Message{}, 0, false, false, fmt.Errorf("flv: %w: unsupported tag type %d", rtmperr.ErrInvalidData, h.Type)
	}

	payload := buf[tagHeaderSize : tagHeaderSize+h.PayloadSize]

	msg = rtmp.Message{
		Type:      msgType,
		MStream:   p.mstream,
		Timestamp: p.adjustTimestamp(h.Timestamp),
		Payload:   append([]byte(nil), payload...),
	}
	return msg, cs, true, isSequenceHeader(msgType, payload), nil
}

// isSequenceHeader reports whether payload is an AAC AudioSpecificConfig or
// AVC/HEVC decoder-configuration tag: the first byte carries the
// codec/sound format, the second the packet type, and packet type 0 marks
// a sequence header for both AAC audio and AVC video.
func isSequenceHeader(msgType rtmp.MessageType, payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	switch msgType {
	case rtmp.TypeVideo:
		codecID := payload[0] & 0x0F
		return (codecID == 7 || codecID == 12) && payload[1] == 0
	case rtmp.TypeAudio:
		soundFormat := payload[0] >> 4
		return soundFormat == 10 && payload[1] == 0
	default:
		return false
	}
}

// adjustTimestamp applies the monotonic fixup, treating a large backward
// jump as a 32-bit overflow in the source and a large forward jump as a
// recovery from one.
func (p *PublishAdapter) adjustTimestamp(raw uint32) int64 {
	rawSigned := int64(raw)
	if p.haveLast {
		diff := rawSigned - p.lastRaw
		switch {
		case diff < -wrapThreshold:
			p.baseTS += wrapSpan
		case diff > wrapThreshold:
			if p.baseTS >= wrapSpan {
				p.baseTS -= wrapSpan
			} else {
				p.baseTS = 0
			}
		}
	}
	p.lastRaw = rawSigned
	p.haveLast = true
	return p.baseTS + rawSigned
}

// setDataFrameMarker is the literal AMF0 string prefix onMetaData messages
// get wrapped with so the server registers them as persistent metadata.
var setDataFrameMarker = []byte{
	0x02,       // AMF0 String marker
	0x00, 0x0D, // length 13
	'@', 's', 'e', 't', 'D', 'a', 't', 'a', 'F', 'r', 'a', 'm', 'e',
}

// SetDataFrame prepends the `@setDataFrame` AMF string to a Data message's
// payload, letting servers register it as persistent stream metadata.
func SetDataFrame(msg rtmp.Message) rtmp.Message {
	msg.Payload = append(append([]byte(nil), setDataFrameMarker...), msg.Payload...)
	return msg
}
