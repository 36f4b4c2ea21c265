package flv

import "github.com/AgustinSRG/rtmp-client/rtmp"

// minimum payload sizes for a message to be worth forwarding on the play
// path (below these a frame carries no usable data, e.g. an AAC/AVC
// sequence-header-less stub).
const (
	minVideoPayload = 6
	minAudioPayload = 2
)

// PlayAdapter wraps inbound media RTMP messages back into FLV tags for a
// playback consumer, prepending the FLV file header on the first tag.
type PlayAdapter struct {
	mstream    uint32
	sawFirst   bool
	hasAudio   bool
	hasVideo   bool
}

// NewPlayAdapter returns an adapter that only forwards messages matching
// mstream, the stream id the play session is bound to.
func NewPlayAdapter(mstream uint32) *PlayAdapter {
	return &PlayAdapter{mstream: mstream}
}

// Convert turns msg into an FLV tag buffer, or returns ok=false if msg
// isn't a media message for this adapter's stream, or is too small to
// carry real data.
func (p *PlayAdapter) Convert(msg rtmp.Message) (buf []byte, ok bool) {
	if msg.MStream != p.mstream {
		return nil, false
	}
	tagType, known := tagTypeForMessage(msg.Type)
	if !known {
		return nil, false
	}

	switch msg.Type {
	case rtmp.TypeVideo:
		if len(msg.Payload) < minVideoPayload {
			return nil, false
		}
		p.hasVideo = true
	case rtmp.TypeAudio:
		if len(msg.Payload) < minAudioPayload {
			return nil, false
		}
		p.hasAudio = true
	}

	h := TagHeader{Type: tagType, PayloadSize: uint32(len(msg.Payload)), Timestamp: uint32(msg.Timestamp)}

	var out []byte
	if !p.sawFirst {
		out = append(out, encodeFileHeader(p.hasAudio, p.hasVideo)...)
		p.sawFirst = true
	}
	out = append(out, encodeTagHeader(h)...)
	out = append(out, msg.Payload...)

	prevTagSize := h.TotalSize() - prevTagSizeWords
	trailer := make([]byte, 4)
	trailer[0] = byte(prevTagSize >> 24)
	trailer[1] = byte(prevTagSize >> 16)
	trailer[2] = byte(prevTagSize >> 8)
	trailer[3] = byte(prevTagSize)
	out = append(out, trailer...)

	return out, true
}
