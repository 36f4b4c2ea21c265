package rtmp

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

const (
	handshakeVersion   = 3
	handshakeBodyBytes = 1536
	c1RandomBytes      = handshakeBodyBytes - 8 // 1528
)

// Handshake performs the client side of the RTMP handshake on rw: it sends
// C0+C1, reads S0+S1+S2, and replies with C2. When strict is true, a S2
// random payload that doesn't echo our C1 random fails the handshake
// instead of only logging; the source this is adapted from defaults to lax,
// so callers that don't care should pass false.
//
// Short reads are always fatal (ErrPartialInput): the handshake is not
// subject to the parser's "log and drop" leniency that applies once the
// connection is established.
func Handshake(rw io.ReadWriter, strict bool) error {
	c1Random := make([]byte, c1RandomBytes)
	if _, err := rand.Read(c1Random); err != nil {
		return fmt.Errorf("rtmp: handshake: generating C1 random bytes: %w", err)
	}

	c0c1 := make([]byte, 1+handshakeBodyBytes)
	c0c1[0] = handshakeVersion
	binary.BigEndian.PutUint32(c0c1[1:5], nowMs())
	// bytes [5:9) are zero per the wire format.
	copy(c0c1[9:], c1Random)

	rtmplog.Debug("rtmp: sending C0+C1 (%d bytes)", len(c0c1))
	if _, err := rw.Write(c0c1); err != nil {
		return fmt.Errorf("rtmp: handshake: writing C0+C1: %w", err)
	}

	s0s1s2 := make([]byte, 1+handshakeBodyBytes+handshakeBodyBytes)
	if _, err := io.ReadFull(rw, s0s1s2); err != nil {
		return fmt.Errorf("rtmp: handshake: reading S0+S1+S2: %w: %w", rtmperr.ErrPartialInput, err)
	}

	s0 := s0s1s2[0]
	s1 := s0s1s2[1 : 1+handshakeBodyBytes]
	s2 := s0s1s2[1+handshakeBodyBytes:]

	if s0 != handshakeVersion {
		err := fmt.Errorf("rtmp: handshake: %w: unsupported S0 version %d", rtmperr.ErrInvalidData, s0)
		if strict {
			return err
		}
		rtmplog.Warning(err.Error())
	}

	if !bytesEqual(s2[8:], c1Random) {
		msg := "rtmp: handshake: S2 random does not echo our C1 random"
		if strict {
			return fmt.Errorf("%s: %w", msg, rtmperr.ErrInvalidData)
		}
		rtmplog.Warning(msg)
	}

	c2 := make([]byte, handshakeBodyBytes)
	copy(c2, s1)
	binary.BigEndian.PutUint32(c2[4:8], nowMs())

	rtmplog.Debug("rtmp: sending C2 (%d bytes)", len(c2))
	if _, err := rw.Write(c2); err != nil {
		return fmt.Errorf("rtmp: handshake: writing C2: %w", err)
	}

	return nil
}

func nowMs() uint32 {
	return uint32(time.Now().UnixMilli())
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
