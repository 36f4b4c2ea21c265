package client

import (
	"encoding/binary"
	"fmt"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
)

const xxteaDelta = 0x9E3779B9

// secureTokenResponse decrypts the hex-encoded challenge with the adapted
// XXTEA variant servers use for secureToken: the token's first 16 bytes
// become the 4-word key, the challenge's hex digit pairs become the little-
// endian 32-bit word vector, and the canonical XXTEA decryption loop runs
// over that vector in place. The result is the little-endian byte
// repacking of the decrypted vector.
func secureTokenResponse(secureToken string, challengeHex string) (string, error) {
	if len(secureToken) < 16 {
		return "", fmt.Errorf("client: secure token shorter than 16 bytes: %w", rtmperr.ErrInvalidData)
	}
	var key [4]uint32
	tokenBytes := []byte(secureToken)
	for i := 0; i < 4; i++ {
		key[i] = binary.LittleEndian.Uint32(tokenBytes[i*4 : i*4+4])
	}

	if len(challengeHex)%8 != 0 || len(challengeHex) == 0 {
		return "", fmt.Errorf("client: secure token challenge length %d not a multiple of 8: %w", len(challengeHex), rtmperr.ErrInvalidData)
	}
	n := len(challengeHex) / 8
	v := make([]uint32, n)
	for i := 0; i < n; i++ {
		word, err := hexLEWord(challengeHex[i*8 : i*8+8])
		if err != nil {
			return "", fmt.Errorf("client: secure token challenge: %w", err)
		}
		v[i] = word
	}

	xxteaDecrypt(v, key)

	out := make([]byte, n*4)
	for i, word := range v {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], word)
	}
	return nullTerminatedString(out), nil
}

func hexLEWord(s string) (uint32, error) {
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return 0, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return 0, err
		}
		b[i] = hi<<4 | lo
	}
	return binary.LittleEndian.Uint32(b), nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("client: invalid hex digit %q: %w", c, rtmperr.ErrInvalidData)
	}
}

// xxteaDecrypt runs the canonical XXTEA decryption loop over v in place,
// using key as the 4-word key.
func xxteaDecrypt(v []uint32, key [4]uint32) {
	n := len(v)
	if n < 2 {
		return
	}
	rounds := 6 + 52/n
	sum := uint32(rounds) * xxteaDelta

	for sum != 0 {
		e := (sum >> 2) & 3
		for p := n - 1; p > 0; p-- {
			z := v[p-1]
			y := v[(p+1)%n]
			v[p] -= mx(y, z, sum, e, key, p)
		}
		z := v[n-1]
		y := v[1%n]
		v[0] -= mx(y, z, sum, e, key, 0)
		sum -= xxteaDelta
	}
}

func mx(y, z, sum uint32, e uint32, key [4]uint32, p int) uint32 {
	return ((z>>5 ^ y<<2) + (y>>3 ^ z<<4)) ^ ((sum ^ y) + (key[(uint32(p)&3)^e] ^ z))
}

// nullTerminatedString truncates at the first NUL byte, matching the
// null-terminated-C-string convention the secureTokenResponse payload uses.
func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
