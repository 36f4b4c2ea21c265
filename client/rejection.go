package client

import (
	"net/url"
	"strings"
)

// rejection is the parsed form of a NetConnection.Connect.Rejected
// description string.
type rejection struct {
	needsAdobeRetry bool // "code=403 need auth" + "authmod=adobe" in auto mode
	reason          string
	salt            string
	opaque          string
	challenge       string
	user            string
}

// parseRejection extracts the auth-retry signal from a connect rejection's
// description. In auto mode, a description containing "code=403 need auth"
// and "authmod=adobe" means switch to adobe and retry immediately with no
// further parsing; otherwise the trailing "?query" segment carries the
// reason/salt/opaque/challenge/user fields.
func parseRejection(description string, mode AuthMode) rejection {
	var r rejection

	if mode == AuthAuto && strings.Contains(description, "code=403 need auth") && strings.Contains(description, "authmod=adobe") {
		r.needsAdobeRetry = true
		return r
	}

	idx := strings.Index(description, "?")
	if idx < 0 {
		return r
	}
	values, err := url.ParseQuery(description[idx+1:])
	if err != nil {
		return r
	}
	r.reason = values.Get("reason")
	r.salt = values.Get("salt")
	r.opaque = values.Get("opaque")
	r.challenge = values.Get("challenge")
	r.user = values.Get("user")
	return r
}
