// Package chunk implements the RTMP chunk-stream engine: parsing inbound
// chunks into reassembled messages and serializing outbound messages into
// chunks with header-type compression.
package chunk

import "github.com/AgustinSRG/rtmp-client/rtmperr"

// basicHeaderNeed inspects the start of buf and reports how many bytes the
// basic header occupies. If buf is shorter than that, it returns the total
// byte count the caller must have on hand before calling again (1, 2, or
// 3), mirroring the "ID parsing returns the required byte count" rule.
func basicHeaderNeed(buf []byte) (need int) {
	if len(buf) == 0 {
		return 1
	}
	switch buf[0] & 0x3F {
	case 0:
		return 2
	case 1:
		return 3
	default:
		return 1
	}
}

// parseBasicHeader reads the chunk's basic header from the front of buf.
// buf must already be at least basicHeaderNeed(buf) bytes long.
func parseBasicHeader(buf []byte) (fmtType byte, csid uint32, consumed int) {
	fmtType = buf[0] >> 6
	low := buf[0] & 0x3F
	switch low {
	case 0:
		return fmtType, 64 + uint32(buf[1]), 2
	case 1:
		return fmtType, 64 + uint32(buf[1]) + uint32(buf[2])*256, 3
	default:
		return fmtType, uint32(low), 1
	}
}

// encodeBasicHeader builds the basic header for csid/fmtType, choosing the
// 1/2/3-byte form by id range.
func encodeBasicHeader(fmtType byte, csid uint32) []byte {
	switch {
	case csid >= 2 && csid <= 63:
		return []byte{fmtType<<6 | byte(csid)}
	case csid >= 64 && csid <= 64+255:
		return []byte{fmtType << 6, byte(csid - 64)}
	default:
		rel := csid - 64
		return []byte{fmtType<<6 | 1, byte(rel & 0xFF), byte(rel >> 8)}
	}
}

// ValidateChunkStreamID reports whether csid is in the valid 2..=65599
// range spec'd for chunk-stream ids.
func ValidateChunkStreamID(csid uint32) error {
	if csid < 2 || csid > 65599 {
		return rtmperr.ErrInvalidData
	}
	return nil
}
