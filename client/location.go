// Package client implements the application-level RTMP choreography that
// runs on top of a conn.Connection: URL parsing, adobe-style authentication,
// and the connect/createStream/publish/play/stop sequence.
package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
)

// AuthMode selects how the client reacts to an authentication challenge.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthAuto
	AuthAdobe
)

// Location is a parsed RTMP URL plus the session options that ride along
// with it: credentials, auth mode, and the flash-version string sent during
// connect. It is read-only once the client task starts.
type Location struct {
	Secure       bool
	Host         string
	Port         int
	Application  string
	Stream       string
	Username     string
	Password     string
	SecureToken  string
	Auth         AuthMode
	FlashVersion string
}

// TCUrl reconstructs the tcUrl sent during connect: the URL up to and
// including the application name.
func (l Location) TCUrl() string {
	scheme := "rtmp"
	if l.Secure {
		scheme = "rtmps"
	}
	return fmt.Sprintf("%s://%s:%d/%s", scheme, l.Host, l.Port, l.Application)
}

// ParseLocation parses a URL of the form
// scheme://[user[:pass]@]host[:port]/application[/subpath]*/stream
// per the grammar: scheme selects rtmp/rtmps, port defaults to 1935/443,
// application is everything between the host and the final path segment,
// and stream is that final segment.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("client: parsing location: %w: %v", rtmperr.ErrInvalidData, err)
	}

	var loc Location
	switch u.Scheme {
	case "rtmp":
		loc.Secure = false
	case "rtmps":
		loc.Secure = true
	default:
		return Location{}, fmt.Errorf("client: scheme %q: %w", u.Scheme, rtmperr.ErrNotSupported)
	}

	loc.Host = u.Hostname()
	if loc.Host == "" {
		return Location{}, fmt.Errorf("client: location missing host: %w", rtmperr.ErrNotInitialized)
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Location{}, fmt.Errorf("client: invalid port %q: %w", p, rtmperr.ErrInvalidData)
		}
		loc.Port = n
	} else if loc.Secure {
		loc.Port = 443
	} else {
		loc.Port = 1935
	}

	path := strings.Trim(u.Path, "/")
	segments := strings.Split(path, "/")
	if path == "" || len(segments) < 2 {
		return Location{}, fmt.Errorf("client: location missing application/stream path: %w", rtmperr.ErrNotInitialized)
	}
	loc.Stream = segments[len(segments)-1]
	loc.Application = strings.Join(segments[:len(segments)-1], "/")

	if u.User != nil {
		loc.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			loc.Password = pw
		}
	}

	return loc, nil
}
