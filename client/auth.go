package client

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/url"
)

// adobeAuthQuery builds the `authmod=adobe&user=...&challenge=...&response=...`
// query string appended to the application name on a retried connect, given
// the username/password and the salt/opaque/challenge values parsed out of
// the server's rejection description. Per the documented MD5 pipeline:
// H1 = base64(MD5(user‖salt‖password)); challenge2 is 8 random hex digits;
// H2 = base64(MD5(H1‖(opaque if present else challenge)‖challenge2)).
func adobeAuthQuery(user, password, salt, opaque, challenge string) (string, error) {
	h1 := md5Base64(user + salt + password)

	challenge2, err := randomHex32()
	if err != nil {
		return "", fmt.Errorf("client: generating auth challenge: %w", err)
	}

	h2 := md5Base64(h1 + challengeOrOpaque(opaque, challenge) + challenge2)

	q := fmt.Sprintf("authmod=adobe&user=%s&challenge=%s&response=%s",
		url.QueryEscape(user), url.QueryEscape(challenge2), url.QueryEscape(h2))
	if opaque != "" {
		q += "&opaque=" + url.QueryEscape(opaque)
	}
	return q, nil
}

func md5Base64(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// randomHex32 returns 8 lowercase hex digits representing a random 32-bit
// value, the form the adobe challenge's "challenge2" component takes.
func randomHex32() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%08x", binary.BigEndian.Uint32(b)), nil
}

func challengeOrOpaque(opaque, challenge string) string {
	if opaque != "" {
		return opaque
	}
	return challenge
}
