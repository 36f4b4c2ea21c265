// Package flv adapts between FLV-muxed tag buffers (the in-memory
// interchange format for already-muxed media) and RTMP messages, in both
// directions: publish (FLV in, RTMP messages out) and play (RTMP messages
// in, FLV tags out).
package flv

import (
	"encoding/binary"
	"fmt"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmp"
)

// Tag type bytes, numerically identical to the RTMP message types they map
// to/from.
const (
	TagAudio      = 8
	TagVideo      = 9
	TagScriptData = 18
)

// Chunk-stream ids the adapter assigns outbound messages to, by category.
const (
	CStreamData  = 4
	CStreamAudio = 5
	CStreamVideo = 6
)

const tagHeaderSize = 11
const prevTagSizeWords = 4
const fileHeaderSize = 9
const fileHeaderPrevTagSize = 4

// TagHeader is the 11-byte FLV tag header.
type TagHeader struct {
	Type        byte
	PayloadSize uint32 // u24
	Timestamp   uint32 // u24 BE + u8 extension, assembled as a 32-bit value
}

// TotalSize is 11 (header) + payload + 4 (trailing previous-tag-size word).
func (h TagHeader) TotalSize() uint32 { return tagHeaderSize + h.PayloadSize + prevTagSizeWords }

// isFileHeader reports whether buf begins with the FLV file signature
// ("FLV") and, if so, how many bytes the whole file header (including its
// leading PreviousTagSize0 word) occupies.
func isFileHeader(buf []byte) (skip int, ok bool) {
	if len(buf) < fileHeaderSize+fileHeaderPrevTagSize {
		return 0, false
	}
	if buf[0] != 'F' || buf[1] != 'L' || buf[2] != 'V' {
		return 0, false
	}
	dataOffset := binary.BigEndian.Uint32(buf[5:9])
	return int(dataOffset) + fileHeaderPrevTagSize, true
}

// parseTagHeader reads the 11-byte tag header from the front of buf.
func parseTagHeader(buf []byte) (TagHeader, error) {
	if len(buf) < tagHeaderSize {
		return TagHeader{}, fmt.Errorf("flv: tag header: %w", rtmperr.ErrPartialInput)
	}
	size := u24(buf[1:4])
	ts := uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6]) | uint32(buf[7])<<24
	return TagHeader{Type: buf[0], PayloadSize: size, Timestamp: ts}, nil
}

// encodeTagHeader writes an 11-byte FLV tag header.
func encodeTagHeader(h TagHeader) []byte {
	b := make([]byte, tagHeaderSize)
	b[0] = h.Type
	putU24(b[1:4], h.PayloadSize)
	b[4] = byte(h.Timestamp >> 16)
	b[5] = byte(h.Timestamp >> 8)
	b[6] = byte(h.Timestamp)
	b[7] = byte(h.Timestamp >> 24)
	// bytes [8:11) are the stream id, always 0.
	return b
}

// encodeFileHeader returns the 9-byte FLV signature plus a 4-byte
// PreviousTagSize0 of zero, for the first tag forwarded on the play path.
func encodeFileHeader(hasAudio, hasVideo bool) []byte {
	var flags byte
	if hasAudio {
		flags |= 0x04
	}
	if hasVideo {
		flags |= 0x01
	}
	b := make([]byte, fileHeaderSize+fileHeaderPrevTagSize)
	b[0], b[1], b[2] = 'F', 'L', 'V'
	b[3] = 1 // version
	b[4] = flags
	binary.BigEndian.PutUint32(b[5:9], fileHeaderSize)
	// bytes [9:13) are PreviousTagSize0 = 0.
	return b
}

func messageTypeForTag(tagType byte) (rtmp.MessageType, uint32, bool) {
	switch tagType {
	case TagAudio:
		return rtmp.TypeAudio, CStreamAudio, true
	case TagVideo:
		return rtmp.TypeVideo, CStreamVideo, true
	case TagScriptData:
		return rtmp.TypeDataAmf0, CStreamData, true
	default:
		return 0, 0, false
	}
}

func tagTypeForMessage(t rtmp.MessageType) (byte, bool) {
	switch t {
	case rtmp.TypeAudio:
		return TagAudio, true
	case rtmp.TypeVideo:
		return TagVideo, true
	case rtmp.TypeDataAmf0:
		return TagScriptData, true
	default:
		return 0, false
	}
}

func u24(b []byte) uint32 { return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]) }

func putU24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
